// Package checkpoint persists content fingerprints of tracked paths so
// runners and hooks can skip work that already completed with identical
// inputs.
package checkpoint

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/data"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
)

// filePerm is the mode for persisted checkpoint files.
const filePerm = 0o600

// Checkpoint tracks one labelled path set: all sample files, every declared
// output source whose checkpoint matches the label, and any explicitly
// added paths.
type Checkpoint struct {
	Label   string
	Workdir string

	cfg        *container.Container
	samples    *data.Samples
	log        *slog.Logger
	extraPaths []string
	extraSet   map[string]struct{}
	pathsCache []string
	cache      map[string]string
}

// newCheckpoint loads any persisted state for the label.
func newCheckpoint(
	label, workdir string,
	cfg *container.Container,
	samples *data.Samples,
	log *slog.Logger,
) *Checkpoint {
	cp := &Checkpoint{
		Label:    label,
		Workdir:  workdir,
		cfg:      cfg,
		samples:  samples,
		log:      log,
		extraSet: make(map[string]struct{}),
	}

	raw, err := os.ReadFile(cp.File())
	if err == nil {
		var cache map[string]string
		if json.Unmarshal(raw, &cache) == nil {
			cp.cache = cache
		}
	}

	return cp
}

// File returns the persisted fingerprint path.
func (cp *Checkpoint) File() string {
	return filepath.Join(cp.Workdir, fmt.Sprintf(".checkpoints.%s.json", cp.Label))
}

// AddPaths extends the tracked path set and invalidates the cached set.
func (cp *Checkpoint) AddPaths(paths ...string) {
	for _, path := range paths {
		if _, dup := cp.extraSet[path]; dup {
			continue
		}

		cp.extraSet[path] = struct{}{}
		cp.extraPaths = append(cp.extraPaths, path)
	}

	cp.pathsCache = nil
}

// SetSamples replaces the sample set and invalidates the cached path set.
func (cp *Checkpoint) SetSamples(samples *data.Samples) {
	cp.samples = samples
	cp.pathsCache = nil
}

// Paths returns the tracked path set: sample files, matching output
// sources, and extra paths, with directories expanded to their recursive
// regular files. The set is sorted for stable iteration.
func (cp *Checkpoint) Paths() []string {
	if cp.pathsCache != nil {
		return cp.pathsCache
	}

	set := make(map[string]struct{})

	for _, path := range cp.extraPaths {
		set[path] = struct{}{}
	}

	if cp.samples != nil {
		for _, sample := range cp.samples.All() {
			for _, path := range sample.Files() {
				set[path] = struct{}{}
			}
		}

		for _, output := range cp.samples.Outputs.Concrete() {
			if output.CheckpointLabel() == cp.Label {
				set[output.Src] = struct{}{}
			}
		}

		for _, glob := range cp.samples.Outputs.Globs() {
			if glob.CheckpointLabel() != cp.Label {
				continue
			}

			// Only sources matter here; source patterns never carry
			// timestamps, so a fresh token is safe.
			for _, output := range glob.Resolve(
				cp.samples, cp.Workdir, cp.cfg, util.NewTimestamp(), cp.log) {
				set[output.Src] = struct{}{}
			}
		}
	}

	// Expand directories to their regular files.
	for path := range set {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}

		delete(set, path)

		_ = filepath.WalkDir(path, func(sub string, entry fs.DirEntry, walkErr error) error {
			if walkErr == nil && entry.Type().IsRegular() {
				set[sub] = struct{}{}
			}

			return nil
		})
	}

	paths := make([]string, 0, len(set))
	for path := range set {
		paths = append(paths, path)
	}

	sort.Strings(paths)
	cp.pathsCache = paths

	return paths
}

// hashBase digests the call arguments and the label; per-path hashes extend
// it with the path identity and stat fingerprint.
func (cp *Checkpoint) hashBase(args []any) []byte {
	digest := sha256.New()

	for _, arg := range args {
		fmt.Fprintf(digest, "%#v\x00", arg)
	}

	digest.Write([]byte(cp.Label))

	return digest.Sum(nil)
}

// hashPath fingerprints one path: name, size, and mtime truncated to
// seconds. Unreadable paths contribute random bytes, forcing a mismatch.
func hashPath(base []byte, path string) string {
	digest := sha256.New()
	digest.Write(base)
	digest.Write([]byte(filepath.Base(path)))

	info, err := os.Stat(path)
	if err != nil {
		noise := make([]byte, 8)
		_, _ = rand.Read(noise)
		digest.Write(noise)
	} else {
		var buf [16]byte

		binary.BigEndian.PutUint64(buf[:8], uint64(info.Size()))
		binary.BigEndian.PutUint64(buf[8:], uint64(info.ModTime().Unix()))
		digest.Write(buf[:])
	}

	return hex.EncodeToString(digest.Sum(nil)[:8])
}

// hashes computes the per-path fingerprint map for the current path set.
func (cp *Checkpoint) hashes(args []any) map[string]string {
	base := cp.hashBase(args)
	result := make(map[string]string)

	for _, path := range cp.Paths() {
		result[path] = hashPath(base, path)
	}

	// Stat results may have changed; recompute the set next time.
	cp.pathsCache = nil

	return result
}

// Store writes the fingerprint file for the current path set and
// arguments.
func (cp *Checkpoint) Store(args ...any) error {
	cp.cache = cp.hashes(args)

	mkdirErr := os.MkdirAll(cp.Workdir, 0o750)
	if mkdirErr != nil {
		return fmt.Errorf("create checkpoint dir: %w", mkdirErr)
	}

	raw, err := json.Marshal(cp.cache)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %q: %w", cp.Label, err)
	}

	writeErr := os.WriteFile(cp.File(), raw, filePerm)
	if writeErr != nil {
		return fmt.Errorf("write checkpoint %q: %w", cp.Label, writeErr)
	}

	return nil
}

// Check reports whether the stored fingerprint maps exactly the current
// path set and every per-path hash still matches.
func (cp *Checkpoint) Check(args ...any) bool {
	if cp.cache == nil {
		return false
	}

	current := cp.hashes(args)

	if len(current) != len(cp.cache) {
		return false
	}

	for path, hash := range current {
		stored, tracked := cp.cache[path]
		if !tracked || stored != hash {
			return false
		}
	}

	return true
}

// Hexdigest combines the per-path hashes into one fingerprint suitable for
// cross-run comparison.
func (cp *Checkpoint) Hexdigest(args ...any) string {
	current := cp.hashes(args)

	paths := make([]string, 0, len(current))
	for path := range current {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	combined := sha256.New()
	for _, path := range paths {
		combined.Write([]byte(current[path]))
	}

	return hex.EncodeToString(combined.Sum(nil)[:8])
}

// Checkpoints is a by-label checkpoint factory scoped to a workdir and an
// optional prefix (runner or hook identity).
type Checkpoints struct {
	Workdir string
	Prefix  string

	cfg     *container.Container
	samples *data.Samples
	log     *slog.Logger
	cache   map[string]*Checkpoint
}

// NewCheckpoints creates a factory for the given scope.
func NewCheckpoints(
	samples *data.Samples,
	prefix, workdir string,
	cfg *container.Container,
	log *slog.Logger,
) *Checkpoints {
	return &Checkpoints{
		Workdir: workdir,
		Prefix:  prefix,
		cfg:     cfg,
		samples: samples,
		log:     log,
		cache:   make(map[string]*Checkpoint),
	}
}

// Get returns the checkpoint for a label, creating it on first access. The
// persisted label is prefix-qualified when a prefix is set.
func (cps *Checkpoints) Get(label string) *Checkpoint {
	if cp, exists := cps.cache[label]; exists {
		return cp
	}

	full := label
	if cps.Prefix != "" {
		full = cps.Prefix + "." + label
	}

	cp := newCheckpoint(full, cps.Workdir, cps.cfg, cps.samples, cps.log)
	cps.cache[label] = cp

	return cp
}
