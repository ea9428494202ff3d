// Package state provides persistent storage for file metadata that the
// native filesystem cannot hold.
package state

import "time"

// CurrentVersion is written into every saved state file.
const CurrentVersion = 1

// FSState represents the persisted attribute overlay
type FSState struct {
	// Attributes keyed by absolute physical path
	Attributes map[string]FileAttributes `json:"attributes"`

	// Version for future compatibility
	Version int `json:"version"`
}

// FileAttributes holds flags and timestamps kept outside the native filesystem.
type FileAttributes struct {
	Hidden   bool       `json:"hidden,omitempty"`
	Archived bool       `json:"archived,omitempty"`
	Created  *time.Time `json:"created,omitempty"`
}

// IsZero reports whether the attributes carry no information.
func (a FileAttributes) IsZero() bool {
	return !a.Hidden && !a.Archived && a.Created == nil
}
