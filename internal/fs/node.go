package fs

import (
	"context"
	"os"
	"strings"
	"syscall"

	"aggfs/internal/aggregate"
	"aggfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	nodeLogger = logging.GetLogger().WithPrefix("node")
)

// Extended attributes carrying the flags POSIX has no bit for.
const (
	XattrHidden   = "user.aggfs.hidden"
	XattrArchived = "user.aggfs.archived"
)

// node holds what files and directories share: the owning filesystem and
// the virtual path. The zero path is the merged root.
type node struct {
	fs   *AggFS
	path aggregate.VirtualPath
}

func (n *node) newNode(path aggregate.VirtualPath, isDir bool) fusefs.Node {
	if isDir {
		return &Dir{node{fs: n.fs, path: path}}
	}
	return &File{node{fs: n.fs, path: path}}
}

// child returns the virtual path of name inside n. Names carrying the
// virtual separator cannot be addressed and are rejected.
func (n *node) child(name string) (aggregate.VirtualPath, error) {
	if name == "" || strings.Contains(name, aggregate.Separator) {
		return aggregate.VirtualPath{}, fuse.Errno(syscall.EINVAL)
	}
	vp, err := aggregate.ParsePath(n.path.Join(name).String())
	if err != nil {
		return aggregate.VirtualPath{}, ToFuseError(err)
	}
	return vp, nil
}

// Attr implements the Node interface for files and directories.
func (n *node) Attr(ctx context.Context, a *fuse.Attr) error {
	nodeLogger.Trace("Getting attributes for %q", n.path.String())

	entry, err := n.fs.fsys.GetEntry(ctx, n.path.String())
	if err != nil {
		nodeLogger.Debug("Attr %q: %v", n.path.String(), err)
		return ToFuseError(err)
	}
	n.fill(a, entry)
	return nil
}

func (n *node) fill(a *fuse.Attr, e aggregate.Entry) {
	mode := os.FileMode(0644)
	if e.IsDir {
		mode = os.ModeDir | 0755
	}
	// The root reports read-only but must stay writable for deletes.
	if e.ReadOnly && !n.path.IsRoot() {
		mode &^= 0222
	}

	a.Mode = mode
	a.Size = e.Size
	a.Mtime = e.Modified
	a.Atime = e.Accessed
	a.Ctime = e.Modified
	a.Uid = n.fs.uid
	a.Gid = n.fs.gid
	a.BlockSize = 4096
	a.Blocks = (e.Size + 511) / 512
}

// Setattr implements the NodeSetattrer interface. Size changes truncate
// the file, write bits map to the read-only flag and times are passed on
// as dates.
func (n *node) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	p := n.path.String()
	nodeLogger.Debug("Setattr %q (valid=%v)", p, req.Valid)

	if req.Valid.Size() {
		if err := n.truncate(ctx, int64(req.Size)); err != nil {
			return err
		}
	}

	if req.Valid.Mode() {
		readOnly := req.Mode.Perm()&0200 == 0
		if err := n.fs.fsys.SetAttributes(ctx, p, aggregate.Attributes{ReadOnly: &readOnly}); err != nil {
			return ToFuseError(err)
		}
	}

	if req.Valid.Atime() || req.Valid.Mtime() {
		var dates aggregate.Dates
		if req.Valid.Atime() {
			atime := req.Atime
			dates.Accessed = &atime
		}
		if req.Valid.Mtime() {
			mtime := req.Mtime
			dates.Modified = &mtime
		}
		if err := n.fs.fsys.SetDates(ctx, p, dates); err != nil {
			return ToFuseError(err)
		}
	}

	return n.Attr(ctx, &resp.Attr)
}

func (n *node) truncate(ctx context.Context, size int64) error {
	f, err := n.fs.fsys.OpenFile(ctx, n.path.String(), aggregate.Open, aggregate.AccessWrite, aggregate.ShareRead|aggregate.ShareWrite)
	if err != nil {
		return ToFuseError(err)
	}
	defer f.Close()

	nodeLogger.Debug("Truncating %q to %d bytes", n.path.String(), size)
	if err := f.Truncate(size); err != nil {
		return ToFuseError(err)
	}
	return nil
}

// Getxattr implements the NodeGetxattrer interface for the flag attributes.
func (n *node) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	if req.Name != XattrHidden && req.Name != XattrArchived {
		return fuse.ErrNoXattr
	}
	entry, err := n.fs.fsys.GetEntry(ctx, n.path.String())
	if err != nil {
		return ToFuseError(err)
	}

	value := entry.Hidden
	if req.Name == XattrArchived {
		value = entry.Archived
	}
	resp.Xattr = formatFlag(value)
	nodeLogger.Trace("Xattr %q of %q = %q", req.Name, n.path.String(), resp.Xattr)
	return nil
}

// Listxattr implements the NodeListxattrer interface.
func (n *node) Listxattr(_ context.Context, _ *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	resp.Append(XattrHidden, XattrArchived)
	return nil
}

// Setxattr implements the NodeSetxattrer interface.
func (n *node) Setxattr(ctx context.Context, req *fuse.SetxattrRequest) error {
	value, err := parseFlag(req.Xattr)
	if err != nil {
		nodeLogger.Debug("Rejecting xattr %q value %q: %v", req.Name, req.Xattr, err)
		return fuse.Errno(syscall.EINVAL)
	}
	return n.setFlag(ctx, req.Name, value)
}

// Removexattr implements the NodeRemovexattrer interface by clearing the flag.
func (n *node) Removexattr(ctx context.Context, req *fuse.RemovexattrRequest) error {
	return n.setFlag(ctx, req.Name, false)
}

func (n *node) setFlag(ctx context.Context, name string, value bool) error {
	var attrs aggregate.Attributes
	switch name {
	case XattrHidden:
		attrs.Hidden = &value
	case XattrArchived:
		attrs.Archived = &value
	default:
		return fuse.Errno(syscall.ENOTSUP)
	}

	nodeLogger.Debug("Setting %s=%v on %q", name, value, n.path.String())
	if err := n.fs.fsys.SetAttributes(ctx, n.path.String(), attrs); err != nil {
		return ToFuseError(err)
	}
	return nil
}
