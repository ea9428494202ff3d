package fs

import (
	"context"
	"io"
	"os"
	"sync"

	"aggfs/internal/aggregate"
	"aggfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File is a regular file somewhere below a top-level entry.
type File struct {
	node
}

// Open implements the NodeOpener interface. O_TRUNC maps to the overwrite
// disposition, everything else opens the existing file.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	p := f.path.String()
	fileLogger.Debug("Opening file %q with flags %v", p, req.Flags)

	disposition := aggregate.Open
	if req.Flags&fuse.OpenTruncate != 0 {
		disposition = aggregate.Overwrite
	}
	file, err := f.fs.fsys.OpenFile(ctx, p, disposition, accessFor(req.Flags), aggregate.ShareRead|aggregate.ShareWrite)
	if err != nil {
		fileLogger.Warn("Failed to open file %q: %v", p, err)
		return nil, ToFuseError(err)
	}

	// Enable direct IO for better performance
	resp.Flags |= fuse.OpenDirectIO
	return newFileHandle(file, p), nil
}

// Fsync implements the NodeFsyncer interface. Syncing a fresh descriptor
// flushes the file's dirty pages on the physical filesystem.
func (f *File) Fsync(ctx context.Context, _ *fuse.FsyncRequest) error {
	file, err := f.fs.fsys.OpenFile(ctx, f.path.String(), aggregate.Open, aggregate.AccessRead, aggregate.ShareRead|aggregate.ShareWrite)
	if err != nil {
		return ToFuseError(err)
	}
	defer file.Close()

	if err := file.Sync(); err != nil {
		fileLogger.Warn("Fsync %q failed: %v", f.path.String(), err)
		return ToFuseError(err)
	}
	return nil
}

// FileHandle represents an open file handle.
// It manages access to an open file descriptor on a physical root.
type FileHandle struct {
	file *os.File
	path string // For logging purposes
	mu   sync.RWMutex
}

func newFileHandle(file *os.File, path string) *FileHandle {
	return &FileHandle{file: file, path: path}
}

// Read implements the HandleReader interface, reading data from the file.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.mu.RLock()
	defer fh.mu.RUnlock()

	fileLogger.Trace("Reading %d bytes from file %q at offset %d", req.Size, fh.path, req.Offset)

	resp.Data = make([]byte, req.Size)
	n, err := fh.file.ReadAt(resp.Data, req.Offset)
	if err != nil && err != io.EOF {
		fileLogger.Error("Failed to read from file: %v", err)
		return ToFuseError(err)
	}

	resp.Data = resp.Data[:n]
	return nil
}

// Write implements the HandleWriter interface.
func (fh *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Trace("Writing %d bytes to file %q at offset %d", len(req.Data), fh.path, req.Offset)

	n, err := fh.file.WriteAt(req.Data, req.Offset)
	resp.Size = n
	if err != nil {
		fileLogger.Error("Failed to write to file: %v", err)
		return ToFuseError(err)
	}
	return nil
}

// Release implements the HandleReleaser interface, closing the file handle.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Debug("Closing file %q", fh.path)
	return fh.file.Close()
}
