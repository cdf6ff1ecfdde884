package data

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
)

// DefaultCheckpoint is the checkpoint label outputs belong to unless
// declared otherwise.
const DefaultCheckpoint = "main"

// OutputEntry is either a concrete Output or an OutputGlob pending
// resolution. Entries are set members keyed by their identity.
type OutputEntry interface {
	// Key is the set identity of the entry.
	Key() string

	// CheckpointLabel is the checkpoint the entry belongs to.
	CheckpointLabel() string
}

// Output is one concrete file to be picked up by a post-hook: a source
// path produced in the workdir and its destination under the result
// directory.
type Output struct {
	Src        string
	Dst        string
	Checkpoint string
	Optional   bool
}

// Key identifies an Output by (src, dst).
func (output Output) Key() string {
	return "output\x00" + output.Src + "\x00" + output.Dst
}

// CheckpointLabel returns the checkpoint the output belongs to.
func (output Output) CheckpointLabel() string {
	if output.Checkpoint == "" {
		return DefaultCheckpoint
	}

	return output.Checkpoint
}

// OutputGlob declares outputs by pattern. The pattern and destination parts
// may reference the `{workdir}`, `{sample.id}`, `{sample.uuid}`,
// `{samples.unique_ids}` and `{config.<path>}` placeholders; other sample
// and collection attributes are not substituted. Only the destination parts
// are also formatted with strftime codes. Parts are resolved per sample
// against the runner workdir.
type OutputGlob struct {
	Src        string
	DstDir     string
	DstName    string
	Checkpoint string
	Optional   bool
}

// Key identifies an OutputGlob by (src, dst_dir, dst_name).
func (glob OutputGlob) Key() string {
	return "glob\x00" + glob.Src + "\x00" + glob.DstDir + "\x00" + glob.DstName
}

// CheckpointLabel returns the checkpoint the glob belongs to.
func (glob OutputGlob) CheckpointLabel() string {
	if glob.Checkpoint == "" {
		return DefaultCheckpoint
	}

	return glob.Checkpoint
}

// expandPlaceholders substitutes `{...}` tokens against the sample, the
// collection, the config, and the workdir. Unknown tokens are left intact.
func expandPlaceholders(
	pattern string,
	sample *Sample,
	samples *Samples,
	cfg *container.Container,
	workdir string,
) string {
	expanded := strings.ReplaceAll(pattern, "{workdir}", workdir)

	if sample != nil {
		expanded = strings.ReplaceAll(expanded, "{sample.id}", sample.ID)
		expanded = strings.ReplaceAll(expanded, "{sample.uuid}", sample.uuid.String())
	}

	if samples != nil {
		expanded = strings.ReplaceAll(
			expanded, "{samples.unique_ids}", strings.Join(samples.UniqueIDs(), "_"))
	}

	if cfg == nil {
		return expanded
	}

	for {
		start := strings.Index(expanded, "{config.")
		if start == -1 {
			return expanded
		}

		end := strings.Index(expanded[start:], "}")
		if end == -1 {
			return expanded
		}

		token := expanded[start : start+end+1]
		path := token[len("{config.") : len(token)-1]

		value, err := cfg.Get(path)
		if err != nil {
			// Leave unresolved tokens visible rather than silently empty.
			return expanded
		}

		expanded = strings.ReplaceAll(expanded, token, asString(value))
	}
}

func asString(value any) string {
	str, isString := value.(string)
	if isString {
		return str
	}

	return fmt.Sprint(value)
}

// Resolve expands the glob against the workdir and the given samples and
// yields concrete Outputs with destinations rooted at config.resultdir.
// Non-optional patterns that match nothing are logged as warnings.
func (glob OutputGlob) Resolve(
	samples *Samples,
	workdir string,
	cfg *container.Container,
	ts util.Timestamp,
	log *slog.Logger,
) []Output {
	resultdir := ""
	if cfg != nil {
		resultdir = cfg.GetString("resultdir", "")
	}

	resolved := make([]Output, 0)
	seen := make(map[string]struct{})

	for _, sample := range samples.All() {
		pattern := expandPlaceholders(glob.Src, sample, samples, cfg, workdir)

		if !filepath.IsAbs(pattern) && !isUnder(pattern, workdir) {
			pattern = filepath.Join(workdir, pattern)
		}

		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			log.Warn("Invalid output pattern", "pattern", pattern, "error", err)

			continue
		}

		if len(matches) == 0 && !glob.Optional {
			log.Warn("No files matched pattern", "pattern", pattern)
		}

		for _, match := range matches {
			dstDir := resultdir

			if glob.DstDir != "" {
				expandedDir := expandPlaceholders(glob.DstDir, sample, samples, cfg, workdir)
				expandedDir = ts.Strftime(expandedDir)

				if filepath.IsAbs(expandedDir) {
					dstDir = expandedDir
				} else {
					dstDir = filepath.Join(resultdir, expandedDir)
				}
			}

			dstName := filepath.Base(match)

			switch {
			case glob.DstName == "":
			case len(matches) > 1:
				log.Warn("Destination name ignored: pattern matches multiple files",
					"dst_name", glob.DstName, "pattern", glob.Src)
			default:
				dstName = ts.Strftime(
					expandPlaceholders(glob.DstName, sample, samples, cfg, workdir))
			}

			output := Output{
				Src:        match,
				Dst:        filepath.Join(dstDir, dstName),
				Checkpoint: expandPlaceholders(glob.CheckpointLabel(), sample, samples, cfg, workdir),
				Optional:   glob.Optional,
			}

			if _, dup := seen[output.Key()]; dup {
				continue
			}

			seen[output.Key()] = struct{}{}
			resolved = append(resolved, output)
		}
	}

	return resolved
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// OutputSet is an insertion-ordered set of output entries keyed by
// identity.
type OutputSet struct {
	keys    []string
	entries map[string]OutputEntry
}

// NewOutputSet creates an empty set.
func NewOutputSet() *OutputSet {
	return &OutputSet{
		keys:    make([]string, 0),
		entries: make(map[string]OutputEntry),
	}
}

// Add inserts entries, ignoring duplicates.
func (set *OutputSet) Add(entries ...OutputEntry) {
	for _, entry := range entries {
		key := entry.Key()

		if _, dup := set.entries[key]; dup {
			continue
		}

		set.keys = append(set.keys, key)
		set.entries[key] = entry
	}
}

// Remove deletes an entry by identity.
func (set *OutputSet) Remove(entry OutputEntry) {
	key := entry.Key()

	if _, exists := set.entries[key]; !exists {
		return
	}

	delete(set.entries, key)

	for idx, existing := range set.keys {
		if existing == key {
			set.keys = append(set.keys[:idx], set.keys[idx+1:]...)

			break
		}
	}
}

// Clear removes every entry.
func (set *OutputSet) Clear() {
	set.keys = set.keys[:0]
	set.entries = make(map[string]OutputEntry)
}

// Len returns the number of entries.
func (set *OutputSet) Len() int {
	return len(set.keys)
}

// Entries returns the entries in insertion order.
func (set *OutputSet) Entries() []OutputEntry {
	entries := make([]OutputEntry, 0, len(set.keys))
	for _, key := range set.keys {
		entries = append(entries, set.entries[key])
	}

	return entries
}

// Globs returns the unresolved OutputGlob entries.
func (set *OutputSet) Globs() []OutputGlob {
	globs := make([]OutputGlob, 0)

	for _, key := range set.keys {
		if glob, isGlob := set.entries[key].(OutputGlob); isGlob {
			globs = append(globs, glob)
		}
	}

	return globs
}

// Concrete returns the resolved Output entries.
func (set *OutputSet) Concrete() []Output {
	outputs := make([]Output, 0)

	for _, key := range set.keys {
		if output, isOutput := set.entries[key].(Output); isOutput {
			outputs = append(outputs, output)
		}
	}

	return outputs
}

// Copy returns an independent set with the same entries.
func (set *OutputSet) Copy() *OutputSet {
	clone := NewOutputSet()
	clone.Add(set.Entries()...)

	return clone
}

// Union returns a new set holding entries from both sides.
func (set *OutputSet) Union(other *OutputSet) *OutputSet {
	clone := set.Copy()
	clone.Add(other.Entries()...)

	return clone
}
