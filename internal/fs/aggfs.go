// Package fs serves an aggregated namespace over FUSE.
//
// Nodes translate kernel requests into virtual-path operations on an
// aggregate.FileSystem. They hold no state of their own beyond the path.
package fs

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"aggfs/internal/aggregate"
	"aggfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// AggFS is the FUSE face of one aggregated share.
type AggFS struct {
	name   string
	fsys   *aggregate.FileSystem
	uid    uint32
	gid    uint32
	mu     sync.Mutex
	conn   *fuse.Conn
	served chan error
}

// NewAggFS wraps fsys for serving. Files are owned by PUID/PGID when set,
// otherwise by the current process.
func NewAggFS(name string, fsys *aggregate.FileSystem) *AggFS {
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			vfsLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			vfsLogger.Debug("Using PGID from environment: %d", gid)
		}
	}

	return &AggFS{
		name: name,
		fsys: fsys,
		uid:  uid,
		gid:  gid,
	}
}

// Root implements the fusefs.FS interface, returning the merged root.
func (a *AggFS) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return &Dir{node{fs: a}}, nil
}

// Statfs reports the synthetic capacity of the aggregate.
func (a *AggFS) Statfs(_ context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	resp.Bsize = 1
	resp.Frsize = 1
	resp.Blocks = safeInt64ToUint64(a.fsys.Size())
	resp.Bfree = safeInt64ToUint64(a.fsys.FreeSpace())
	resp.Bavail = resp.Bfree
	resp.Namelen = 255
	return nil
}

func waitForMount(mountpoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountpoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount attaches the share at mountPoint and starts serving requests in
// the background. Done reports when serving stops.
func (a *AggFS) Mount(mountPoint string) error {
	vfsLogger.Info("Mounting share %q at %s", a.name, mountPoint)
	vfsLogger.Debug("UID: %d, GID: %d", a.uid, a.gid)

	for _, root := range a.fsys.Registry().Roots() {
		if _, err := os.ReadDir(root); err != nil {
			vfsLogger.Error("Cannot read root %s: %v", root, err)
			return fmt.Errorf("root not readable: %w", err)
		}
	}

	mountOpts := []fuse.MountOption{
		fuse.FSName(a.name),
		fuse.Subtype("aggfs"),
		fuse.AllowOther(),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}

	served := make(chan error, 1)
	go func() {
		err := fusefs.Serve(c, a)
		if err != nil {
			vfsLogger.Error("FUSE server error: %v", err)
		}
		served <- err
		close(served)
	}()

	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		vfsLogger.Error("Mount point not ready: %v", err)
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	a.mu.Lock()
	a.conn = c
	a.served = served
	a.mu.Unlock()

	vfsLogger.Info("Share %q mounted", a.name)
	return nil
}

// Done is closed once the FUSE server stops. It is nil before Mount.
func (a *AggFS) Done() <-chan error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.served
}

// Unmount detaches the share and closes the connection.
func (a *AggFS) Unmount(mountPoint string) error {
	a.mu.Lock()
	c := a.conn
	a.conn = nil
	a.mu.Unlock()

	if c == nil {
		return nil
	}

	vfsLogger.Info("Unmounting share %q from %s", a.name, mountPoint)
	if err := fuse.Unmount(mountPoint); err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
		return err
	}
	if err := c.Close(); err != nil {
		vfsLogger.Warn("Closing FUSE connection: %v", err)
	}
	vfsLogger.Info("Unmount completed successfully")
	return nil
}
