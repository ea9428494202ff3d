package fs

import (
	"strconv"
	"strings"

	"aggfs/internal/aggregate"

	"bazil.org/fuse"
)

func safeInt64ToUint64(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// accessFor maps open(2) access bits onto the aggregate access mode.
func accessFor(flags fuse.OpenFlags) aggregate.Access {
	switch {
	case flags.IsWriteOnly():
		return aggregate.AccessWrite
	case flags.IsReadWrite():
		return aggregate.AccessReadWrite
	default:
		return aggregate.AccessRead
	}
}

func formatFlag(b bool) []byte {
	if b {
		return []byte("1")
	}
	return []byte("0")
}

func parseFlag(value []byte) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(string(value)))
}
