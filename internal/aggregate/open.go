package aggregate

import (
	"fmt"
	"os"
	"strings"
)

// Disposition says what to do when the target does or does not exist.
// The values follow SMB create dispositions.
type Disposition int

const (
	// Supersede replaces an existing file or creates a new one.
	Supersede Disposition = iota
	// Open opens an existing file and fails if it is missing.
	Open
	// Create creates a new file and fails if it exists.
	Create
	// OpenIf opens an existing file or creates a new one.
	OpenIf
	// Overwrite truncates an existing file and fails if it is missing.
	Overwrite
	// OverwriteIf truncates an existing file or creates a new one.
	OverwriteIf
)

var dispositionNames = [...]string{"supersede", "open", "create", "openif", "overwrite", "overwriteif"}

func (d Disposition) String() string {
	if d >= 0 && int(d) < len(dispositionNames) {
		return dispositionNames[d]
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// Access is the requested data access.
type Access int

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessReadWrite = AccessRead | AccessWrite
)

// ShareMode lists what other openers may do concurrently. POSIX has no
// mandatory share locks, so it is recorded but not enforced here.
type ShareMode int

const ShareNone ShareMode = 0

const (
	ShareRead ShareMode = 1 << iota
	ShareWrite
	ShareDelete
)

func (s ShareMode) String() string {
	if s == ShareNone {
		return "none"
	}
	var parts []string
	if s&ShareRead != 0 {
		parts = append(parts, "read")
	}
	if s&ShareWrite != 0 {
		parts = append(parts, "write")
	}
	if s&ShareDelete != 0 {
		parts = append(parts, "delete")
	}
	return strings.Join(parts, "|")
}

// openFlags translates a disposition and access into os.OpenFile flags.
func openFlags(d Disposition, a Access) (int, error) {
	var flags int
	switch a {
	case AccessRead:
		flags = os.O_RDONLY
	case AccessWrite:
		flags = os.O_WRONLY
	case AccessReadWrite:
		flags = os.O_RDWR
	default:
		return 0, fmt.Errorf("%w: access %d", ErrInvalidArgument, int(a))
	}

	truncates := false
	switch d {
	case Open:
	case Create:
		flags |= os.O_CREATE | os.O_EXCL
	case OpenIf:
		flags |= os.O_CREATE
	case Overwrite:
		flags |= os.O_TRUNC
		truncates = true
	case Supersede, OverwriteIf:
		flags |= os.O_CREATE | os.O_TRUNC
		truncates = true
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidArgument, d)
	}

	if truncates && a&AccessWrite == 0 {
		return 0, fmt.Errorf("%w: %s requires write access", ErrInvalidArgument, d)
	}
	return flags, nil
}
