// Package registry maintains the mapping from top-level virtual names to the
// physical directories that own them.
//
// A Registry is rebuilt wholesale by scanning every configured physical root.
// Each rebuild produces an immutable Snapshot that is published with a single
// atomic swap, so lookups never observe a partially built mapping.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"aggfs/internal/logging"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	logger = logging.GetLogger().WithPrefix("registry")

	// ErrNoRoots is returned when a registry is created without physical roots.
	ErrNoRoots = errors.New("no physical roots configured")

	// ErrNameExhausted is recorded when no free disambiguated name exists
	// within the configured suffix bound.
	ErrNameExhausted = errors.New("cannot decide a unique name")
)

// DefaultMaxSuffix bounds the " (N)" counter used for disambiguation.
const DefaultMaxSuffix = 10000

// NameMapping ties a top-level virtual name to the entry that backs it.
type NameMapping struct {
	VirtualName  string // collision-free name exposed to clients
	OriginalName string // name inside the physical root
	OriginPath   string // absolute physical root that owns the entry
}

// PhysicalPath returns the absolute path of the mapped entry.
func (m NameMapping) PhysicalPath() string {
	return filepath.Join(m.OriginPath, m.OriginalName)
}

// Item is one registered top-level entry together with the native metadata
// observed while scanning.
type Item struct {
	Mapping NameMapping
	Info    os.FileInfo
}

// Stats describes the outcome of the most recent rebuild.
type Stats struct {
	Entries int
	Renamed int
	Skipped []string // original names dropped because no unique name was found
}

// Snapshot is an immutable view of the registry.
type Snapshot struct {
	mappings map[string]NameMapping
	order    []string
	stats    Stats
}

// Lookup returns the mapping registered under virtualName.
func (s *Snapshot) Lookup(virtualName string) (NameMapping, bool) {
	m, ok := s.mappings[virtualName]
	return m, ok
}

// Len returns the number of registered names.
func (s *Snapshot) Len() int {
	return len(s.order)
}

// Registry is safe for concurrent use.
type Registry struct {
	roots     []string
	maxSuffix int
	current   atomic.Pointer[Snapshot]
	group     singleflight.Group
	scanMu    sync.Mutex // serialises rebuilds that escape singleflight coalescing
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxSuffix overrides the disambiguation counter bound.
func WithMaxSuffix(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxSuffix = n
		}
	}
}

// New creates a registry over the given physical roots. Order is significant:
// earlier roots keep the bare name when top-level names collide. The registry
// starts empty; call Rebuild to scan.
func New(roots []string, opts ...Option) (*Registry, error) {
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}

	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve root %q: %w", root, err)
		}
		cleaned = append(cleaned, filepath.Clean(abs))
	}

	r := &Registry{
		roots:     cleaned,
		maxSuffix: DefaultMaxSuffix,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&Snapshot{mappings: map[string]NameMapping{}})

	logger.Debug("Created registry over %d roots", len(cleaned))
	return r, nil
}

// Roots returns the configured physical roots in order.
func (r *Registry) Roots() []string {
	out := make([]string, len(r.roots))
	copy(out, r.roots)
	return out
}

// Snapshot returns the currently published snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Lookup returns the mapping for a top-level virtual name.
func (r *Registry) Lookup(virtualName string) (NameMapping, bool) {
	return r.current.Load().Lookup(virtualName)
}

// Names returns the registered virtual names in registration order.
func (r *Registry) Names() []string {
	snap := r.current.Load()
	out := make([]string, len(snap.order))
	copy(out, snap.order)
	return out
}

// Stats returns statistics of the published snapshot.
func (r *Registry) Stats() Stats {
	return r.current.Load().stats
}

// Rebuild rescans every physical root and atomically replaces the mapping.
// Concurrent callers share a single scan. On error the previously published
// snapshot remains in place.
func (r *Registry) Rebuild(ctx context.Context) ([]Item, error) {
	v, err, shared := r.group.Do("rebuild", func() (interface{}, error) {
		return r.rebuild(ctx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Trace("Joined in-flight rebuild")
	}
	items := v.([]Item)
	out := make([]Item, len(items))
	copy(out, items)
	return out, nil
}

// rootListing holds the immediate children of one physical root.
type rootListing struct {
	files []os.FileInfo
	dirs  []os.FileInfo
}

func (r *Registry) rebuild(ctx context.Context) ([]Item, error) {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	logger.Debug("Rebuilding registry from %d roots", len(r.roots))

	listings := make([]rootListing, len(r.roots))
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range r.roots {
		i, root := i, root
		g.Go(func() error {
			listing, err := scanRoot(gctx, root)
			if err != nil {
				return err
			}
			listings[i] = listing
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("Registry rebuild failed: %v", err)
		return nil, err
	}

	snap := &Snapshot{mappings: make(map[string]NameMapping)}
	items := make([]Item, 0)

	register := func(root string, info os.FileInfo) {
		name := info.Name()
		virtual := name
		if _, taken := snap.mappings[name]; taken {
			var err error
			virtual, err = disambiguate(name, info.IsDir(), snap.mappings, r.maxSuffix)
			if err != nil {
				logger.Warn("Skipping %q from %q: %v", name, root, err)
				snap.stats.Skipped = append(snap.stats.Skipped, filepath.Join(root, name))
				return
			}
			snap.stats.Renamed++
			logger.Debug("Name collision: %q from %q registered as %q", name, root, virtual)
		}
		m := NameMapping{VirtualName: virtual, OriginalName: name, OriginPath: root}
		snap.mappings[virtual] = m
		snap.order = append(snap.order, virtual)
		items = append(items, Item{Mapping: m, Info: info})
	}

	// Files before directories, roots strictly in configured order.
	for i, root := range r.roots {
		for _, info := range listings[i].files {
			register(root, info)
		}
		for _, info := range listings[i].dirs {
			register(root, info)
		}
	}
	snap.stats.Entries = len(snap.order)

	r.current.Store(snap)
	logger.Debug("Registry rebuilt: %d entries, %d renamed, %d skipped",
		snap.stats.Entries, snap.stats.Renamed, len(snap.stats.Skipped))
	return items, nil
}

func scanRoot(ctx context.Context, root string) (rootListing, error) {
	if err := ctx.Err(); err != nil {
		return rootListing{}, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return rootListing{}, fmt.Errorf("scan root %q: %w", root, err)
	}

	var listing rootListing
	for _, entry := range entries {
		info, err := os.Stat(filepath.Join(root, entry.Name()))
		if err != nil {
			// Entry vanished or is a dangling link; it is not addressable.
			logger.Debug("Ignoring %q in %q: %v", entry.Name(), root, err)
			continue
		}
		if info.IsDir() {
			listing.dirs = append(listing.dirs, info)
		} else {
			listing.files = append(listing.files, info)
		}
	}

	byName := func(s []os.FileInfo) {
		sort.Slice(s, func(i, j int) bool { return s[i].Name() < s[j].Name() })
	}
	byName(listing.files)
	byName(listing.dirs)

	logger.Trace("Scanned %q: %d files, %d dirs", root, len(listing.files), len(listing.dirs))
	return listing, nil
}
