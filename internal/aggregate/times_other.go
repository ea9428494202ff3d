//go:build !linux

package aggregate

import (
	"os"
	"time"
)

// nativeTimes has no portable birth or access time outside linux, so both
// fall back to the modification time.
func nativeTimes(_ string, info os.FileInfo) (created, accessed time.Time) {
	return info.ModTime(), info.ModTime()
}
