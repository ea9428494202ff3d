package aggregate

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// nativeTimes returns birth and access times for path. Filesystems that do
// not record a birth time report the modification time instead.
func nativeTimes(path string, info os.FileInfo) (created, accessed time.Time) {
	created, accessed = info.ModTime(), info.ModTime()

	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, path, unix.AT_STATX_SYNC_AS_STAT, unix.STATX_ATIME|unix.STATX_BTIME, &stx); err != nil {
		return created, accessed
	}
	if stx.Mask&unix.STATX_ATIME != 0 {
		accessed = time.Unix(stx.Atime.Sec, int64(stx.Atime.Nsec))
	}
	if stx.Mask&unix.STATX_BTIME != 0 {
		created = time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
	}
	return created, accessed
}
