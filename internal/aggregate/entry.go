package aggregate

import (
	"time"
)

// DataStreamName is the single unnamed data stream reported for files.
const DataStreamName = "::$DATA"

// Entry describes a file or directory for the serving layer.
type Entry struct {
	Path     string // full physical path; empty for the merged root
	Name     string // display name
	IsDir    bool
	Size     uint64
	Created  time.Time
	Modified time.Time
	Accessed time.Time
	Hidden   bool
	ReadOnly bool
	Archived bool
}

// NewEntry builds an Entry. Directories always report size 0.
func NewEntry(path, name string, isDir bool, size uint64, created, modified, accessed time.Time, hidden, readOnly, archived bool) Entry {
	if isDir {
		size = 0
	}
	return Entry{
		Path:     path,
		Name:     name,
		IsDir:    isDir,
		Size:     size,
		Created:  created,
		Modified: modified,
		Accessed: accessed,
		Hidden:   hidden,
		ReadOnly: readOnly,
		Archived: archived,
	}
}

// DataStream is a named stream of an entry and its length.
type DataStream struct {
	Name string
	Size uint64
}

// Attributes selects flags to change. Nil fields are left untouched.
type Attributes struct {
	Hidden   *bool
	ReadOnly *bool
	Archived *bool
}

// Dates selects timestamps to change. Nil fields are left untouched.
type Dates struct {
	Created  *time.Time
	Modified *time.Time
	Accessed *time.Time
}
