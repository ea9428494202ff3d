package aggregate

import (
	"os"

	"aggfs/internal/state"
)

// AttributeStore keeps the metadata POSIX filesystems cannot: hidden and
// archived flags and creation time overrides. *state.Manager implements it.
type AttributeStore interface {
	Get(path string) state.FileAttributes
	Update(path string, fn func(*state.FileAttributes)) error
	Rename(oldPath, newPath string) error
	Forget(path string) error
}

var _ AttributeStore = (*state.Manager)(nil)

func isReadOnly(info os.FileInfo) bool {
	return info.Mode().Perm()&0200 == 0
}

// entryFor builds an Entry for an existing physical path using native
// metadata merged with the attribute store.
func (fsys *FileSystem) entryFor(physical, name string, info os.FileInfo) Entry {
	created, accessed := nativeTimes(physical, info)
	stored := fsys.store.Get(physical)
	if stored.Created != nil {
		created = *stored.Created
	}

	var size uint64
	if !info.IsDir() {
		size = safeSize(info.Size())
	}

	return NewEntry(physical, name, info.IsDir(), size,
		created, info.ModTime(), accessed,
		stored.Hidden, isReadOnly(info), stored.Archived)
}

// applyReadOnly toggles the write permission bits. Clearing read-only only
// restores the owner's write bit.
func applyReadOnly(physical string, info os.FileInfo, readOnly bool) error {
	perm := info.Mode().Perm()
	var next os.FileMode
	if readOnly {
		next = perm &^ 0222
	} else {
		next = perm | 0200
	}
	if next == perm {
		return nil
	}
	return os.Chmod(physical, next)
}

func safeSize(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}
