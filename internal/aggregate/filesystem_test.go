package aggregate

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aggfs/internal/registry"
	"aggfs/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFS builds a FileSystem over one temp directory per layout. Layout
// keys ending in "/" are directories, others files with the value as content.
func testFS(t *testing.T, layouts ...map[string]string) (*FileSystem, []string) {
	t.Helper()
	roots := make([]string, 0, len(layouts))
	for _, layout := range layouts {
		root := t.TempDir()
		for name, content := range layout {
			full := filepath.Join(root, filepath.FromSlash(name))
			if strings.HasSuffix(name, "/") {
				require.NoError(t, os.MkdirAll(full, 0755))
				continue
			}
			require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
			require.NoError(t, os.WriteFile(full, []byte(content), 0644))
		}
		roots = append(roots, root)
	}

	reg, err := registry.New(roots)
	require.NoError(t, err)
	fsys, err := New(context.Background(), reg, state.NewMemoryManager())
	require.NoError(t, err)
	return fsys, roots
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

func TestRootListing(t *testing.T) {
	ctx := context.Background()

	t.Run("disjoint names are unchanged", func(t *testing.T) {
		fsys, _ := testFS(t,
			map[string]string{"a.txt": "a", "docs/": ""},
			map[string]string{"b.txt": "b", "music/": ""},
		)
		entries, err := fsys.ListEntriesInDirectory(ctx, `\`)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt", "docs", "b.txt", "music"}, names(entries))
	})

	t.Run("collisions are disambiguated in configured order", func(t *testing.T) {
		fsys, roots := testFS(t,
			map[string]string{"X/": "", "notes.txt": "1"},
			map[string]string{"X/": "", "notes.txt": "22"},
			map[string]string{"X/": "", "notes.txt": "333"},
		)
		entries, err := fsys.ListEntriesInDirectory(ctx, `\`)
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]string{"X", "X (1)", "X (2)", "notes.txt", "notes (1).txt", "notes (2).txt"},
			names(entries))

		for i, want := range []string{"X", "X (1)", "X (2)"} {
			e, err := fsys.GetEntry(ctx, `\`+want)
			require.NoError(t, err)
			assert.Equal(t, want, e.Name)
			assert.Equal(t, filepath.Join(roots[i], "X"), e.Path)
			assert.True(t, e.IsDir)
		}
		for i, want := range []string{"notes.txt", "notes (1).txt", "notes (2).txt"} {
			e, err := fsys.GetEntry(ctx, `\`+want)
			require.NoError(t, err)
			assert.Equal(t, want, e.Name)
			assert.Equal(t, uint64(i+1), e.Size, "must report the entry from root %d", i)
		}
	})

	t.Run("one entry per physical top-level entry", func(t *testing.T) {
		fsys, roots := testFS(t,
			map[string]string{"a/": "", "b.txt": "", "c/": ""},
			map[string]string{"a/": "", "b.txt": "", "d.txt": ""},
		)
		entries, err := fsys.ListEntriesInDirectory(ctx, `\`)
		require.NoError(t, err)

		total := 0
		for _, root := range roots {
			children, err := os.ReadDir(root)
			require.NoError(t, err)
			total += len(children)
		}
		assert.Len(t, entries, total)

		seen := map[string]bool{}
		for _, e := range entries {
			assert.False(t, seen[e.Name], "duplicate %q", e.Name)
			seen[e.Name] = true
		}
	})

	t.Run("listing rescans roots", func(t *testing.T) {
		fsys, roots := testFS(t, map[string]string{"a.txt": ""})
		_, err := fsys.GetEntry(ctx, `\late.txt`)
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, os.WriteFile(filepath.Join(roots[0], "late.txt"), []byte("x"), 0644))
		_, err = fsys.ListEntriesInDirectory(ctx, `\`)
		require.NoError(t, err)

		e, err := fsys.GetEntry(ctx, `\late.txt`)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), e.Size)
	})
}

func TestRootEntryIsSynthetic(t *testing.T) {
	fsys, roots := testFS(t, map[string]string{"a.txt": ""})
	// Removing every physical root proves no native call is made.
	for _, root := range roots {
		require.NoError(t, os.RemoveAll(root))
	}

	for _, p := range []string{`\`, ``, `\\`} {
		e, err := fsys.GetEntry(context.Background(), p)
		require.NoError(t, err, "path %q", p)
		assert.True(t, e.IsDir)
		assert.Equal(t, "root", e.Name)
		assert.Zero(t, e.Size)
		assert.False(t, e.Hidden)
		assert.Empty(t, e.Path)
	}

	first, _ := fsys.GetEntry(context.Background(), `\`)
	second, _ := fsys.GetEntry(context.Background(), `\`)
	assert.Equal(t, first.Modified, second.Modified)
}

func TestUnknownRootSegmentFailsEverywhere(t *testing.T) {
	ctx := context.Background()
	fsys, _ := testFS(t, map[string]string{"known/": "", "known/f.txt": "x"})

	ops := map[string]func() error{
		"CreateDirectory": func() error { _, err := fsys.CreateDirectory(ctx, `\missing\dir`); return err },
		"CreateFile":      func() error { _, err := fsys.CreateFile(ctx, `\missing\f.txt`); return err },
		"Delete":          func() error { return fsys.Delete(ctx, `\missing\f.txt`) },
		"GetEntry":        func() error { _, err := fsys.GetEntry(ctx, `\missing`); return err },
		"GetEntryNested":  func() error { _, err := fsys.GetEntry(ctx, `\missing\f.txt`); return err },
		"ListEntries":     func() error { _, err := fsys.ListEntriesInDirectory(ctx, `\missing`); return err },
		"ListDataStreams": func() error { _, err := fsys.ListDataStreams(ctx, `\missing\f.txt`); return err },
		"MoveSource":      func() error { return fsys.Move(ctx, `\missing\f.txt`, `\known\g.txt`) },
		"MoveDestination": func() error { return fsys.Move(ctx, `\known\f.txt`, `\missing\g.txt`) },
		"OpenFile": func() error {
			_, err := fsys.OpenFile(ctx, `\missing\f.txt`, Open, AccessRead, ShareRead)
			return err
		},
		"SetAttributes": func() error {
			return fsys.SetAttributes(ctx, `\missing\f.txt`, Attributes{Hidden: boolPtr(true)})
		},
		"SetDates": func() error {
			now := time.Now()
			return fsys.SetDates(ctx, `\missing\f.txt`, Dates{Modified: &now})
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNotFound)
			var opErr *Error
			assert.True(t, errors.As(err, &opErr))
		})
	}
}

func TestCreateRequiresNestedPath(t *testing.T) {
	ctx := context.Background()
	fsys, _ := testFS(t, map[string]string{"top/": ""})

	for _, p := range []string{`\`, `\top`, `\newdir`} {
		_, err := fsys.CreateDirectory(ctx, p)
		assert.ErrorIs(t, err, ErrAmbiguousRoot, "CreateDirectory(%q)", p)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = fsys.CreateFile(ctx, p)
		assert.ErrorIs(t, err, ErrAmbiguousRoot, "CreateFile(%q)", p)
	}
}

func TestCreateFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	fsys, roots := testFS(t,
		map[string]string{"shared/": ""},
		map[string]string{"shared/": ""},
	)

	entry, err := fsys.CreateFile(ctx, `\shared (1)\new file.txt`)
	require.NoError(t, err)
	assert.Equal(t, "new file.txt", entry.Name)
	assert.Zero(t, entry.Size)
	assert.Equal(t, filepath.Join(roots[1], "shared", "new file.txt"), entry.Path)

	_, err = os.Stat(filepath.Join(roots[0], "shared", "new file.txt"))
	assert.True(t, os.IsNotExist(err), "file must be created in the second root only")

	listed, err := fsys.ListEntriesInDirectory(ctx, `\shared (1)`)
	require.NoError(t, err)
	assert.Equal(t, []string{"new file.txt"}, names(listed))

	got, err := fsys.GetEntry(ctx, `\shared (1)\new file.txt`)
	require.NoError(t, err)
	assert.Zero(t, got.Size)
	assert.False(t, got.IsDir)

	_, err = fsys.CreateFile(ctx, `\shared (1)\new file.txt`)
	assert.ErrorIs(t, err, fs.ErrExist)
}

func TestCreateDirectoryMakesParents(t *testing.T) {
	ctx := context.Background()
	fsys, roots := testFS(t, map[string]string{"top/": ""})

	entry, err := fsys.CreateDirectory(ctx, `\top\a\b\c`)
	require.NoError(t, err)
	assert.True(t, entry.IsDir)
	assert.Equal(t, "c", entry.Name)

	info, err := os.Stat(filepath.Join(roots[0], "top", "a", "b", "c"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDisambiguatedNameVersusLiteralSuffix(t *testing.T) {
	ctx := context.Background()
	fsys, roots := testFS(t,
		map[string]string{"X/X (1)/deep.txt": "first root", "X/sub/": ""},
		map[string]string{"X/sub/deep.txt": "second root"},
	)

	// A real directory called "X (1)" nested inside the first root's X.
	literal, err := fsys.GetEntry(ctx, `\X\X (1)`)
	require.NoError(t, err)
	assert.Equal(t, "X (1)", literal.Name)
	assert.Equal(t, filepath.Join(roots[0], "X", "X (1)"), literal.Path)

	deep, err := fsys.GetEntry(ctx, `\X\X (1)\deep.txt`)
	require.NoError(t, err)
	assert.Equal(t, uint64(len("first root")), deep.Size)

	// The disambiguated top-level name maps back to the second root's X.
	renamed, err := fsys.GetEntry(ctx, `\X (1)`)
	require.NoError(t, err)
	assert.Equal(t, "X (1)", renamed.Name)
	assert.Equal(t, filepath.Join(roots[1], "X"), renamed.Path)

	nested, err := fsys.GetEntry(ctx, `\X (1)\sub\deep.txt`)
	require.NoError(t, err)
	assert.Equal(t, "deep.txt", nested.Name)
	assert.Equal(t, uint64(len("second root")), nested.Size)

	listed, err := fsys.ListEntriesInDirectory(ctx, `\X`)
	require.NoError(t, err)
	assert.Equal(t, []string{"X (1)", "sub"}, names(listed))
}

func TestListEntriesFilesBeforeDirectories(t *testing.T) {
	fsys, _ := testFS(t, map[string]string{
		"top/zdir/":  "",
		"top/adir/":  "",
		"top/z.txt":  "zz",
		"top/a.txt":  "a",
		"top/m.data": "mmm",
	})

	entries, err := fsys.ListEntriesInDirectory(context.Background(), `\top`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "m.data", "z.txt", "adir", "zdir"}, names(entries))
	assert.Equal(t, uint64(3), entries[1].Size)
	assert.True(t, entries[3].IsDir)
}

func TestListEntriesOnFile(t *testing.T) {
	fsys, _ := testFS(t, map[string]string{"top/f.txt": "x"})

	_, err := fsys.ListEntriesInDirectory(context.Background(), `\top\f.txt`)
	assert.ErrorIs(t, err, ErrNotDirectory)

	_, err = fsys.ListEntriesInDirectory(context.Background(), `\top\missing`)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestListDataStreams(t *testing.T) {
	ctx := context.Background()
	fsys, _ := testFS(t, map[string]string{"top/f.txt": "12345"})

	streams, err := fsys.ListDataStreams(ctx, `\top\f.txt`)
	require.NoError(t, err)
	assert.Equal(t, []DataStream{{Name: DataStreamName, Size: 5}}, streams)

	streams, err = fsys.ListDataStreams(ctx, `\top`)
	require.NoError(t, err)
	assert.Empty(t, streams)

	streams, err = fsys.ListDataStreams(ctx, `\`)
	require.NoError(t, err)
	assert.Empty(t, streams)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	fsys, roots := testFS(t, map[string]string{"top/f.txt": "x", "top/empty/": ""})

	require.NoError(t, fsys.SetAttributes(ctx, `\top\f.txt`, Attributes{Hidden: boolPtr(true)}))
	require.NoError(t, fsys.Delete(ctx, `\top\f.txt`))
	_, err := os.Stat(filepath.Join(roots[0], "top", "f.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.True(t, fsys.store.Get(filepath.Join(roots[0], "top", "f.txt")).IsZero())

	require.NoError(t, fsys.Delete(ctx, `\top\empty`))

	err = fsys.Delete(ctx, `\top\f.txt`)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.ErrorIs(t, fsys.Delete(ctx, `\`), ErrNotFound)
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	fsys, roots := testFS(t,
		map[string]string{"a/f.txt": "data", "a/g.txt": "other"},
		map[string]string{"b/": ""},
	)

	require.NoError(t, fsys.SetAttributes(ctx, `\a\f.txt`, Attributes{Archived: boolPtr(true)}))
	require.NoError(t, fsys.Move(ctx, `\a\f.txt`, `\b\moved.txt`))

	data, err := os.ReadFile(filepath.Join(roots[1], "b", "moved.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	moved, err := fsys.GetEntry(ctx, `\b\moved.txt`)
	require.NoError(t, err)
	assert.True(t, moved.Archived, "attributes follow the file")

	err = fsys.Move(ctx, `\a\g.txt`, `\b\moved.txt`)
	assert.ErrorIs(t, err, fs.ErrExist)

	err = fsys.Move(ctx, `\a\nope.txt`, `\b\nope.txt`)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpenFile(t *testing.T) {
	ctx := context.Background()
	fsys, _ := testFS(t, map[string]string{"top/f.txt": "hello"})

	t.Run("open existing for read", func(t *testing.T) {
		f, err := fsys.OpenFile(ctx, `\top\f.txt`, Open, AccessRead, ShareRead)
		require.NoError(t, err)
		defer f.Close()
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("open missing fails", func(t *testing.T) {
		_, err := fsys.OpenFile(ctx, `\top\missing.txt`, Open, AccessRead, ShareNone)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("create new and fail on existing", func(t *testing.T) {
		f, err := fsys.OpenFile(ctx, `\top\new.txt`, Create, AccessWrite, ShareNone)
		require.NoError(t, err)
		_, err = f.WriteString("abc")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = fsys.OpenFile(ctx, `\top\new.txt`, Create, AccessWrite, ShareNone)
		assert.ErrorIs(t, err, fs.ErrExist)

		e, err := fsys.GetEntry(ctx, `\top\new.txt`)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), e.Size)
	})

	t.Run("overwrite truncates", func(t *testing.T) {
		f, err := fsys.OpenFile(ctx, `\top\f.txt`, Overwrite, AccessReadWrite, ShareRead|ShareWrite)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		e, err := fsys.GetEntry(ctx, `\top\f.txt`)
		require.NoError(t, err)
		assert.Zero(t, e.Size)
	})

	t.Run("truncating read is rejected", func(t *testing.T) {
		_, err := fsys.OpenFile(ctx, `\top\f.txt`, OverwriteIf, AccessRead, ShareNone)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("root cannot be opened", func(t *testing.T) {
		_, err := fsys.OpenFile(ctx, `\`, Open, AccessRead, ShareNone)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSetAttributesMergesFlags(t *testing.T) {
	ctx := context.Background()
	fsys, roots := testFS(t, map[string]string{"top/f.txt": "x"})
	path := `\top\f.txt`

	require.NoError(t, fsys.SetAttributes(ctx, path, Attributes{
		Hidden:   boolPtr(true),
		Archived: boolPtr(true),
	}))

	// Only read-only is supplied: hidden and archived must survive.
	require.NoError(t, fsys.SetAttributes(ctx, path, Attributes{ReadOnly: boolPtr(true)}))
	e, err := fsys.GetEntry(ctx, path)
	require.NoError(t, err)
	assert.True(t, e.ReadOnly)
	assert.True(t, e.Hidden)
	assert.True(t, e.Archived)

	info, err := os.Stat(filepath.Join(roots[0], "top", "f.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Mode().Perm()&0222)

	// Supplying false for one flag clears only that flag.
	require.NoError(t, fsys.SetAttributes(ctx, path, Attributes{Hidden: boolPtr(false)}))
	e, err = fsys.GetEntry(ctx, path)
	require.NoError(t, err)
	assert.False(t, e.Hidden)
	assert.True(t, e.ReadOnly)
	assert.True(t, e.Archived)

	require.NoError(t, fsys.SetAttributes(ctx, path, Attributes{ReadOnly: boolPtr(false)}))
	e, err = fsys.GetEntry(ctx, path)
	require.NoError(t, err)
	assert.False(t, e.ReadOnly)
	assert.True(t, e.Archived)

	// Nothing supplied changes nothing.
	require.NoError(t, fsys.SetAttributes(ctx, path, Attributes{}))
	after, err := fsys.GetEntry(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, e.Hidden, after.Hidden)
	assert.Equal(t, e.ReadOnly, after.ReadOnly)
	assert.Equal(t, e.Archived, after.Archived)
}

func TestSetDates(t *testing.T) {
	ctx := context.Background()
	fsys, _ := testFS(t, map[string]string{"top/f.txt": "x"})
	path := `\top\f.txt`

	before, err := fsys.GetEntry(ctx, path)
	require.NoError(t, err)

	modified := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, fsys.SetDates(ctx, path, Dates{Modified: &modified}))

	e, err := fsys.GetEntry(ctx, path)
	require.NoError(t, err)
	assert.True(t, modified.Equal(e.Modified))
	assert.True(t, before.Accessed.Equal(e.Accessed), "access time must be untouched")

	accessed := time.Date(2002, 3, 4, 5, 6, 7, 0, time.UTC)
	created := time.Date(1999, 12, 31, 23, 59, 59, 0, time.UTC)
	require.NoError(t, fsys.SetDates(ctx, path, Dates{Accessed: &accessed, Created: &created}))

	e, err = fsys.GetEntry(ctx, path)
	require.NoError(t, err)
	assert.True(t, accessed.Equal(e.Accessed))
	assert.True(t, created.Equal(e.Created))
	assert.True(t, modified.Equal(e.Modified), "modification time must be untouched")
}

func TestInvalidPaths(t *testing.T) {
	ctx := context.Background()
	fsys, _ := testFS(t, map[string]string{"top/f.txt": "x"})

	for _, p := range []string{`\top\..\..\etc`, `\top\.`, `\top\a/b`, "\\top\\a\x00"} {
		_, err := fsys.GetEntry(ctx, p)
		assert.ErrorIs(t, err, ErrInvalidPath, "path %q", p)
	}
}

func TestCancelledContext(t *testing.T) {
	fsys, _ := testFS(t, map[string]string{"top/f.txt": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fsys.GetEntry(ctx, `\top\f.txt`)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = fsys.ListEntriesInDirectory(ctx, `\`)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyntheticCapacity(t *testing.T) {
	fsys, _ := testFS(t, map[string]string{"a.txt": ""})
	assert.Equal(t, "Aggregated File System", fsys.Name())
	assert.Equal(t, Capacity, fsys.Size())
	assert.Equal(t, FreeSpace, fsys.FreeSpace())
	assert.False(t, fsys.SupportsNamedStreams())
}
