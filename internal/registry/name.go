package registry

import (
	"fmt"
	"path/filepath"
	"strings"
)

// disambiguate finds the first free name of the form "name (N)" for
// directories or "base (N).ext" for files.
func disambiguate(name string, isDir bool, taken map[string]NameMapping, maxSuffix int) (string, error) {
	if _, ok := taken[name]; !ok {
		return name, nil
	}

	base, ext := name, ""
	if !isDir {
		ext = extension(name)
		base = strings.TrimSuffix(name, ext)
	}

	for i := 1; i <= maxSuffix; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w for %q after %d attempts", ErrNameExhausted, name, maxSuffix)
}

// extension is filepath.Ext, except that a leading dot (".profile") is part
// of the base name rather than an extension.
func extension(name string) string {
	ext := filepath.Ext(name)
	if ext == name {
		return ""
	}
	return ext
}
