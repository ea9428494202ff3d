// Package aggregate presents several physical directory trees as one merged
// namespace.
//
// The merged root lists the top-level entries of every configured physical
// root, with colliding names disambiguated by the registry. Below the root
// every path is a literal pass-through to the physical tree that owns its
// top-level segment. Virtual paths use '\' as their only separator.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"aggfs/internal/logging"
	"aggfs/internal/registry"
	"aggfs/internal/state"
)

var (
	fsLogger = logging.GetLogger().WithPrefix("aggregate")
)

// Synthetic capacity figures reported to the serving layer.
const (
	Capacity  int64 = 42
	FreeSpace int64 = math.MaxInt32
)

// FileSystem translates virtual-path operations to the physical roots of a
// registry. It is safe for concurrent use.
type FileSystem struct {
	registry *registry.Registry
	store    AttributeStore
	started  time.Time // stable timestamps for the synthetic root
}

// New creates a FileSystem over reg and performs the initial root scan.
// A nil store keeps attributes in memory.
func New(ctx context.Context, reg *registry.Registry, store AttributeStore) (*FileSystem, error) {
	if store == nil {
		store = state.NewMemoryManager()
	}
	fsys := &FileSystem{
		registry: reg,
		store:    store,
		started:  time.Now(),
	}
	if _, err := reg.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("initial root scan: %w", err)
	}
	fsLogger.Info("Aggregated file system ready over %d roots", len(reg.Roots()))
	return fsys, nil
}

// Name returns the name of the filesystem
func (fsys *FileSystem) Name() string {
	return "Aggregated File System"
}

// Size returns the synthetic total capacity in bytes.
func (fsys *FileSystem) Size() int64 {
	return Capacity
}

// FreeSpace returns the synthetic free space in bytes.
func (fsys *FileSystem) FreeSpace() int64 {
	return FreeSpace
}

// SupportsNamedStreams always reports false.
func (fsys *FileSystem) SupportsNamedStreams() bool {
	return false
}

// Registry exposes the underlying root registry.
func (fsys *FileSystem) Registry() *registry.Registry {
	return fsys.registry
}

// parse validates the context and classifies path.
func parse(ctx context.Context, op, path string) (VirtualPath, error) {
	if err := ctx.Err(); err != nil {
		return VirtualPath{}, newError(op, path, err)
	}
	vp, err := ParsePath(path)
	if err != nil {
		return VirtualPath{}, newError(op, path, err)
	}
	return vp, nil
}

// resolve maps a non-root virtual path to its physical path. The top-level
// segment is replaced by the entry's original physical name; the rest is
// appended verbatim.
func (fsys *FileSystem) resolve(vp VirtualPath) (string, registry.NameMapping, bool) {
	if vp.IsRoot() {
		return "", registry.NameMapping{}, false
	}
	m, ok := fsys.registry.Lookup(vp.Top())
	if !ok {
		return "", registry.NameMapping{}, false
	}
	parts := append([]string{m.PhysicalPath()}, vp.Rest()...)
	return filepath.Join(parts...), m, true
}

// resolveNested resolves a path of depth >= 2, the only paths where new
// entries may be created.
func (fsys *FileSystem) resolveNested(op, path string, vp VirtualPath) (string, error) {
	if vp.Depth() <= 1 {
		return "", newError(op, path, ErrAmbiguousRoot)
	}
	physical, _, ok := fsys.resolve(vp)
	if !ok {
		return "", newError(op, path, ErrAmbiguousRoot)
	}
	return physical, nil
}

// resolveExisting resolves a path of depth >= 1.
func (fsys *FileSystem) resolveExisting(op, path string, vp VirtualPath) (string, registry.NameMapping, error) {
	physical, m, ok := fsys.resolve(vp)
	if !ok {
		return "", m, newError(op, path, ErrNotFound)
	}
	return physical, m, nil
}

// rootEntry describes the merged root. It has no physical backing.
func (fsys *FileSystem) rootEntry() Entry {
	return NewEntry("", "root", true, 0, fsys.started, fsys.started, fsys.started, false, true, false)
}

// CreateDirectory creates the directory at path, including missing parents.
// The path must be nested below a top-level entry.
func (fsys *FileSystem) CreateDirectory(ctx context.Context, path string) (Entry, error) {
	vp, err := parse(ctx, OpCreateDirectory, path)
	if err != nil {
		return Entry{}, err
	}
	physical, err := fsys.resolveNested(OpCreateDirectory, path, vp)
	if err != nil {
		return Entry{}, err
	}

	fsLogger.Debug("Creating directory %q -> %q", vp.String(), physical)
	if err := os.MkdirAll(physical, 0755); err != nil {
		return Entry{}, newError(OpCreateDirectory, path, err)
	}
	info, err := os.Stat(physical)
	if err != nil {
		return Entry{}, newError(OpCreateDirectory, path, err)
	}
	return fsys.entryFor(physical, info.Name(), info), nil
}

// CreateFile creates an empty file at path. An existing file is reported
// as fs.ErrExist.
func (fsys *FileSystem) CreateFile(ctx context.Context, path string) (Entry, error) {
	vp, err := parse(ctx, OpCreateFile, path)
	if err != nil {
		return Entry{}, err
	}
	physical, err := fsys.resolveNested(OpCreateFile, path, vp)
	if err != nil {
		return Entry{}, err
	}

	fsLogger.Debug("Creating file %q -> %q", vp.String(), physical)
	f, err := os.OpenFile(physical, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return Entry{}, newError(OpCreateFile, path, err)
	}
	info, err := f.Stat()
	closeErr := f.Close()
	if err != nil {
		return Entry{}, newError(OpCreateFile, path, err)
	}
	if closeErr != nil {
		return Entry{}, newError(OpCreateFile, path, closeErr)
	}
	return fsys.entryFor(physical, info.Name(), info), nil
}

// Delete removes the file or empty directory at path.
func (fsys *FileSystem) Delete(ctx context.Context, path string) error {
	vp, err := parse(ctx, OpDelete, path)
	if err != nil {
		return err
	}
	physical, _, err := fsys.resolveExisting(OpDelete, path, vp)
	if err != nil {
		return err
	}

	fsLogger.Debug("Deleting %q -> %q", vp.String(), physical)
	if err := os.Remove(physical); err != nil {
		return newError(OpDelete, path, err)
	}
	if err := fsys.store.Forget(physical); err != nil {
		fsLogger.Warn("Failed to drop attributes of %q: %v", physical, err)
	}
	return nil
}

// GetEntry describes the entry at path. Top-level entries are named by
// their virtual name; deeper entries by their native name.
func (fsys *FileSystem) GetEntry(ctx context.Context, path string) (Entry, error) {
	vp, err := parse(ctx, OpGetEntry, path)
	if err != nil {
		return Entry{}, err
	}
	if vp.IsRoot() {
		return fsys.rootEntry(), nil
	}
	return fsys.getEntry(OpGetEntry, path, vp)
}

func (fsys *FileSystem) getEntry(op, path string, vp VirtualPath) (Entry, error) {
	physical, m, err := fsys.resolveExisting(op, path, vp)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(physical)
	if err != nil {
		return Entry{}, newError(op, path, err)
	}

	name := info.Name()
	if vp.Depth() == 1 {
		name = m.VirtualName
	}
	fsLogger.Trace("Entry %q -> %q (dir=%v)", vp.String(), physical, info.IsDir())
	return fsys.entryFor(physical, name, info), nil
}

// ListDataStreams returns the unnamed data stream of a file, or nothing for
// a directory.
func (fsys *FileSystem) ListDataStreams(ctx context.Context, path string) ([]DataStream, error) {
	vp, err := parse(ctx, OpListDataStreams, path)
	if err != nil {
		return nil, err
	}
	if vp.IsRoot() {
		return []DataStream{}, nil
	}
	entry, err := fsys.getEntry(OpListDataStreams, path, vp)
	if err != nil {
		return nil, err
	}
	if entry.IsDir {
		return []DataStream{}, nil
	}
	return []DataStream{{Name: DataStreamName, Size: entry.Size}}, nil
}

// ListEntriesInDirectory lists the children of a directory, files first.
// Listing the root rescans every physical root.
func (fsys *FileSystem) ListEntriesInDirectory(ctx context.Context, path string) ([]Entry, error) {
	vp, err := parse(ctx, OpListEntries, path)
	if err != nil {
		return nil, err
	}
	if vp.IsRoot() {
		return fsys.listRoot(ctx)
	}

	physical, _, err := fsys.resolveExisting(OpListEntries, path, vp)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(physical)
	if err != nil {
		return nil, newError(OpListEntries, path, err)
	}
	if !info.IsDir() {
		return nil, newError(OpListEntries, path, ErrNotDirectory)
	}

	children, err := os.ReadDir(physical)
	if err != nil {
		return nil, newError(OpListEntries, path, err)
	}

	var files, dirs []Entry
	for _, child := range children {
		childPath := filepath.Join(physical, child.Name())
		childInfo, err := os.Stat(childPath)
		if err != nil {
			fsLogger.Debug("Skipping %q: %v", childPath, err)
			continue
		}
		entry := fsys.entryFor(childPath, childInfo.Name(), childInfo)
		if entry.IsDir {
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}

	fsLogger.Debug("Directory %q contains %d files and %d directories", vp.String(), len(files), len(dirs))
	return append(files, dirs...), nil
}

func (fsys *FileSystem) listRoot(ctx context.Context) ([]Entry, error) {
	items, err := fsys.registry.Rebuild(ctx)
	if err != nil {
		return nil, newError(OpListEntries, Separator, err)
	}
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		entries = append(entries, fsys.entryFor(it.Mapping.PhysicalPath(), it.Mapping.VirtualName, it.Info))
	}
	return entries, nil
}

// Move renames source to destination. Both paths are resolved
// independently; an existing destination is reported as fs.ErrExist.
func (fsys *FileSystem) Move(ctx context.Context, source, destination string) error {
	src, err := parse(ctx, OpMove, source)
	if err != nil {
		return err
	}
	dst, err := parse(ctx, OpMove, destination)
	if err != nil {
		return err
	}

	srcPhysical, _, err := fsys.resolveExisting(OpMove, source, src)
	if err != nil {
		return err
	}
	dstPhysical, _, err := fsys.resolveExisting(OpMove, destination, dst)
	if err != nil {
		return err
	}

	if _, err := os.Lstat(dstPhysical); err == nil {
		return newError(OpMove, destination, fs.ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return newError(OpMove, destination, err)
	}

	fsLogger.Debug("Moving %q -> %q (%q -> %q)", src.String(), dst.String(), srcPhysical, dstPhysical)
	if err := os.Rename(srcPhysical, dstPhysical); err != nil {
		return newError(OpMove, source, err)
	}
	if err := fsys.store.Rename(srcPhysical, dstPhysical); err != nil {
		fsLogger.Warn("Failed to move attributes %q -> %q: %v", srcPhysical, dstPhysical, err)
	}
	return nil
}

// OpenFile opens the file at path. Share modes are not enforced.
func (fsys *FileSystem) OpenFile(ctx context.Context, path string, disposition Disposition, access Access, share ShareMode) (*os.File, error) {
	vp, err := parse(ctx, OpOpenFile, path)
	if err != nil {
		return nil, err
	}
	flags, err := openFlags(disposition, access)
	if err != nil {
		return nil, newError(OpOpenFile, path, err)
	}
	physical, _, err := fsys.resolveExisting(OpOpenFile, path, vp)
	if err != nil {
		return nil, err
	}

	fsLogger.Debug("Opening %q -> %q (%s, access=%d, share=%s)", vp.String(), physical, disposition, int(access), share)
	f, err := os.OpenFile(physical, flags, 0644)
	if err != nil {
		return nil, newError(OpOpenFile, path, err)
	}
	if disposition == Supersede {
		if err := fsys.store.Forget(physical); err != nil {
			fsLogger.Warn("Failed to reset attributes of %q: %v", physical, err)
		}
	}
	return f, nil
}

// SetAttributes changes only the flags that are set in attrs; every other
// flag keeps its current value.
func (fsys *FileSystem) SetAttributes(ctx context.Context, path string, attrs Attributes) error {
	vp, err := parse(ctx, OpSetAttributes, path)
	if err != nil {
		return err
	}
	physical, _, err := fsys.resolveExisting(OpSetAttributes, path, vp)
	if err != nil {
		return err
	}
	info, err := os.Stat(physical)
	if err != nil {
		return newError(OpSetAttributes, path, err)
	}

	if attrs.ReadOnly != nil {
		if err := applyReadOnly(physical, info, *attrs.ReadOnly); err != nil {
			return newError(OpSetAttributes, path, err)
		}
	}

	if attrs.Hidden == nil && attrs.Archived == nil {
		return nil
	}
	err = fsys.store.Update(physical, func(fa *state.FileAttributes) {
		if attrs.Hidden != nil {
			fa.Hidden = *attrs.Hidden
		}
		if attrs.Archived != nil {
			fa.Archived = *attrs.Archived
		}
	})
	if err != nil {
		return newError(OpSetAttributes, path, err)
	}
	return nil
}

// SetDates changes only the timestamps that are set in dates.
func (fsys *FileSystem) SetDates(ctx context.Context, path string, dates Dates) error {
	vp, err := parse(ctx, OpSetDates, path)
	if err != nil {
		return err
	}
	physical, _, err := fsys.resolveExisting(OpSetDates, path, vp)
	if err != nil {
		return err
	}
	info, err := os.Stat(physical)
	if err != nil {
		return newError(OpSetDates, path, err)
	}

	if dates.Modified != nil || dates.Accessed != nil {
		_, accessed := nativeTimes(physical, info)
		modified := info.ModTime()
		if dates.Modified != nil {
			modified = *dates.Modified
		}
		if dates.Accessed != nil {
			accessed = *dates.Accessed
		}
		if err := os.Chtimes(physical, accessed, modified); err != nil {
			return newError(OpSetDates, path, err)
		}
	}

	if dates.Created != nil {
		created := *dates.Created
		err := fsys.store.Update(physical, func(fa *state.FileAttributes) {
			fa.Created = &created
		})
		if err != nil {
			return newError(OpSetDates, path, err)
		}
	}
	return nil
}
