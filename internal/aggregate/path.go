package aggregate

import (
	"strings"
)

// Separator is the only separator recognised in virtual paths.
const Separator = `\`

// VirtualPath is a parsed client-side path. The root has no segments.
type VirtualPath struct {
	segments []string
}

// ParsePath normalises a virtual path. A missing leading separator is
// implied, repeated and trailing separators are dropped, and "." or ".."
// segments or segments containing '/' or NUL are rejected.
func ParsePath(raw string) (VirtualPath, error) {
	var segments []string
	for _, seg := range strings.Split(raw, Separator) {
		if seg == "" {
			continue
		}
		if seg == "." || seg == ".." || strings.ContainsAny(seg, "/\x00") {
			return VirtualPath{}, ErrInvalidPath
		}
		segments = append(segments, seg)
	}
	return VirtualPath{segments: segments}, nil
}

// Depth returns the number of separators in the normalised path:
// 0 for the root, 1 for a top-level entry, more for nested paths.
func (vp VirtualPath) Depth() int {
	return len(vp.segments)
}

// IsRoot returns true if this is the merged root
func (vp VirtualPath) IsRoot() bool {
	return len(vp.segments) == 0
}

// Top returns the first segment, the top-level virtual name.
func (vp VirtualPath) Top() string {
	if vp.IsRoot() {
		return ""
	}
	return vp.segments[0]
}

// Rest returns the segments below the top-level entry.
func (vp VirtualPath) Rest() []string {
	if len(vp.segments) <= 1 {
		return nil
	}
	out := make([]string, len(vp.segments)-1)
	copy(out, vp.segments[1:])
	return out
}

// Base returns the last element of the path
func (vp VirtualPath) Base() string {
	if vp.IsRoot() {
		return Separator
	}
	return vp.segments[len(vp.segments)-1]
}

// Parent returns the path of the containing directory
func (vp VirtualPath) Parent() VirtualPath {
	if len(vp.segments) <= 1 {
		return VirtualPath{}
	}
	return VirtualPath{segments: vp.segments[:len(vp.segments)-1]}
}

// Join appends a child name.
func (vp VirtualPath) Join(name string) VirtualPath {
	segments := make([]string, 0, len(vp.segments)+1)
	segments = append(segments, vp.segments...)
	return VirtualPath{segments: append(segments, name)}
}

// String returns the canonical form, always starting with the separator
func (vp VirtualPath) String() string {
	return Separator + strings.Join(vp.segments, Separator)
}

// Depth returns the depth of a raw virtual path without consulting any
// registry. Invalid paths report -1.
func Depth(raw string) int {
	vp, err := ParsePath(raw)
	if err != nil {
		return -1
	}
	return vp.Depth()
}
