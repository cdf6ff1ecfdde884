// Package cleanup implements the session cleanup ledger: a root-scoped set
// of paths to delete at session end, with a deferred variant that workers
// fill and hand back to the dispatcher.
package cleanup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sentinel errors for ledger operations.
var (
	// ErrOutsideRoot is returned when registering a path outside the
	// ledger root without explicitly allowing it.
	ErrOutsideRoot = errors.New("path is outside the cleanup root")
)

// Ledger is the registration surface shared by the active Cleaner and the
// worker-side Deferred ledger; hooks and runner mains program against it.
type Ledger interface {
	Register(path string) error
	RegisterOutsideRoot(path string) error
	Unregister(path string)
}

// op is one recorded ledger intent.
type op struct {
	path     string
	register bool
}

// Deferred records cleanup intents inside a worker. It never touches the
// filesystem; the dispatcher absorbs it into the active Cleaner.
type Deferred struct {
	root string
	ops  []op
}

// NewDeferred creates a deferred ledger scoped to root.
func NewDeferred(root string) *Deferred {
	return &Deferred{root: root}
}

// Root returns the ledger root.
func (deferred *Deferred) Root() string {
	return deferred.root
}

func underRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// Register records a path for deletion. Paths outside the ledger root are
// rejected; use RegisterOutsideRoot to override.
func (deferred *Deferred) Register(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", path, err)
	}

	if !underRoot(deferred.root, abs) {
		return fmt.Errorf("%w: %q (root %q)", ErrOutsideRoot, abs, deferred.root)
	}

	deferred.ops = append(deferred.ops, op{path: abs, register: true})

	return nil
}

// RegisterOutsideRoot records a path for deletion regardless of the root.
func (deferred *Deferred) RegisterOutsideRoot(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", path, err)
	}

	deferred.ops = append(deferred.ops, op{path: abs, register: true})

	return nil
}

// Unregister withdraws a previously registered path.
func (deferred *Deferred) Unregister(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	deferred.ops = append(deferred.ops, op{path: abs, register: false})
}

// Cleaner is the active, dispatcher-side ledger. It absorbs deferred
// ledgers and performs the actual deletion.
type Cleaner struct {
	root  string
	paths map[string]struct{}
}

// NewCleaner creates an active ledger scoped to root.
func NewCleaner(root string) *Cleaner {
	return &Cleaner{
		root:  root,
		paths: make(map[string]struct{}),
	}
}

// Register records a path for deletion, subject to the root check.
func (cleaner *Cleaner) Register(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", path, err)
	}

	if !underRoot(cleaner.root, abs) {
		return fmt.Errorf("%w: %q (root %q)", ErrOutsideRoot, abs, cleaner.root)
	}

	cleaner.paths[abs] = struct{}{}

	return nil
}

// RegisterOutsideRoot records a path for deletion regardless of the root.
func (cleaner *Cleaner) RegisterOutsideRoot(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", path, err)
	}

	cleaner.paths[abs] = struct{}{}

	return nil
}

// Unregister withdraws a path.
func (cleaner *Cleaner) Unregister(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	delete(cleaner.paths, abs)
}

// Merge replays a deferred ledger's intents into the active ledger. The
// deferred ledger already enforced its own root, so registrations are
// accepted as recorded.
func (cleaner *Cleaner) Merge(deferred *Deferred) {
	if deferred == nil {
		return
	}

	for _, operation := range deferred.ops {
		if operation.register {
			cleaner.paths[operation.path] = struct{}{}

			continue
		}

		delete(cleaner.paths, operation.path)
	}
}

// Registered returns the currently registered paths, deepest first.
func (cleaner *Cleaner) Registered() []string {
	paths := make([]string, 0, len(cleaner.paths))
	for path := range cleaner.paths {
		paths = append(paths, path)
	}

	sort.Slice(paths, func(i, j int) bool {
		depthI := strings.Count(paths[i], string(os.PathSeparator))
		depthJ := strings.Count(paths[j], string(os.PathSeparator))

		if depthI != depthJ {
			return depthI > depthJ
		}

		return paths[i] < paths[j]
	})

	return paths
}

// Clean deletes every registered path, deepest first. Missing paths are
// skipped; failures are logged per path and never abort the pass.
// Successfully removed paths leave the ledger, so a second Clean is a
// no-op.
func (cleaner *Cleaner) Clean(log *slog.Logger) {
	for _, path := range cleaner.Registered() {
		_, statErr := os.Stat(path)
		if os.IsNotExist(statErr) {
			delete(cleaner.paths, path)

			continue
		}

		rel, relErr := filepath.Rel(cleaner.root, path)
		if relErr != nil {
			rel = path
		}

		log.Info(fmt.Sprintf("Removing %s", rel))

		removeErr := os.RemoveAll(path)
		if removeErr != nil {
			log.Warn("Failed to remove path", "path", path, "error", removeErr)

			continue
		}

		delete(cleaner.paths, path)
	}
}
