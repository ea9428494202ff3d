package fs

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"

	"aggfs/internal/aggregate"
	"aggfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir is a directory of the aggregate: the merged root, a top-level
// entry or anything below one.
type Dir struct {
	node
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q in directory %q", name, d.path.String())

	child, err := d.child(name)
	if err != nil {
		return nil, err
	}
	entry, err := d.fs.fsys.GetEntry(ctx, child.String())
	if err != nil {
		dirLogger.Debug("Path not found: %q: %v", child.String(), err)
		return nil, ToFuseError(err)
	}
	return d.newNode(child, entry.IsDir), nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path.String())

	listed, err := d.fs.fsys.ListEntriesInDirectory(ctx, d.path.String())
	if err != nil {
		dirLogger.Warn("Listing %q failed: %v", d.path.String(), err)
		return nil, ToFuseError(err)
	}

	entries := make([]fuse.Dirent, 0, len(listed)+2)
	entries = append(entries, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	entries = append(entries, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})
	for _, e := range listed {
		if strings.Contains(e.Name, aggregate.Separator) {
			dirLogger.Debug("Hiding unaddressable entry %q", e.Path)
			continue
		}
		typ := fuse.DT_File
		if e.IsDir {
			typ = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Name: e.Name, Type: typ})
	}

	dirLogger.Debug("Directory %q contains %d entries", d.path.String(), len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	dirLogger.Info("Creating new directory %q in %q", req.Name, d.path.String())

	child, err := d.child(req.Name)
	if err != nil {
		return nil, err
	}
	if _, err := d.fs.fsys.CreateDirectory(ctx, child.String()); err != nil {
		dirLogger.Warn("Mkdir %q failed: %v", child.String(), err)
		return nil, ToFuseError(err)
	}
	return &Dir{node{fs: d.fs, path: child}}, nil
}

// Create implements the NodeCreater interface. Exclusive creates go
// through CreateFile so an existing file is refused.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	dirLogger.Info("Creating file %q in %q (flags=%v)", req.Name, d.path.String(), req.Flags)

	child, err := d.child(req.Name)
	if err != nil {
		return nil, nil, err
	}
	p := child.String()
	access := accessFor(req.Flags)
	share := aggregate.ShareRead | aggregate.ShareWrite

	var f *os.File
	if req.Flags&fuse.OpenExclusive != 0 {
		if _, err := d.fs.fsys.CreateFile(ctx, p); err != nil {
			return nil, nil, ToFuseError(err)
		}
		f, err = d.fs.fsys.OpenFile(ctx, p, aggregate.Open, access, share)
	} else {
		disposition := aggregate.OpenIf
		if req.Flags&fuse.OpenTruncate != 0 {
			disposition = aggregate.OverwriteIf
		}
		f, err = d.fs.fsys.OpenFile(ctx, p, disposition, access, share)
	}
	if err != nil {
		dirLogger.Warn("Create %q failed: %v", p, err)
		return nil, nil, ToFuseError(err)
	}

	resp.Flags |= fuse.OpenDirectIO
	return &File{node{fs: d.fs, path: child}}, newFileHandle(f, p), nil
}

// Remove implements the NodeRemover interface, removing a file or empty directory.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	dirLogger.Info("Removing %q from directory %q (isDir=%v)", req.Name, d.path.String(), req.Dir)

	child, err := d.child(req.Name)
	if err != nil {
		return err
	}
	if err := d.fs.fsys.Delete(ctx, child.String()); err != nil {
		dirLogger.Warn("Remove %q failed: %v", child.String(), err)
		return ToFuseError(err)
	}
	return nil
}

// Rename implements the NodeRenamer interface. An existing destination of
// the same kind is replaced first, as rename(2) requires.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	dirLogger.Info("Renaming %q to %q", req.OldName, req.NewName)

	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Error("Target is not a valid directory type")
		return fuse.Errno(syscall.EINVAL)
	}

	src, err := d.child(req.OldName)
	if err != nil {
		return err
	}
	dst, err := target.child(req.NewName)
	if err != nil {
		return err
	}

	existing, err := d.fs.fsys.GetEntry(ctx, dst.String())
	switch {
	case err == nil:
		source, err := d.fs.fsys.GetEntry(ctx, src.String())
		if err != nil {
			return ToFuseError(err)
		}
		if existing.IsDir && !source.IsDir {
			return fuse.Errno(syscall.EISDIR)
		}
		if !existing.IsDir && source.IsDir {
			return fuse.Errno(syscall.ENOTDIR)
		}
		dirLogger.Debug("Replacing existing %q", dst.String())
		if err := d.fs.fsys.Delete(ctx, dst.String()); err != nil {
			return ToFuseError(err)
		}
	case errors.Is(err, os.ErrNotExist), errors.Is(err, aggregate.ErrNotFound):
	default:
		return ToFuseError(err)
	}

	if err := d.fs.fsys.Move(ctx, src.String(), dst.String()); err != nil {
		dirLogger.Warn("Rename %q -> %q failed: %v", src.String(), dst.String(), err)
		return ToFuseError(err)
	}
	dirLogger.Info("Successfully renamed %q to %q", src.String(), dst.String())
	return nil
}
