package bisync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tempPair(t *testing.T) *DB {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	db, err := Open("/tmp/source-"+t.Name(), "/tmp/dest-"+t.Name())
	require.NoError(t, err)
	return db
}

func TestStoreAndGet(t *testing.T) {
	db := tempPair(t)

	checksum := uint64(0x123456789abcdef0)
	state := &State{
		Path:     "a/b/file.txt",
		Side:     SideSource,
		ModTime:  time.Unix(1700000000, 123),
		Size:     1024,
		Checksum: &checksum,
		LastSync: time.Unix(1700000100, 0),
	}
	require.NoError(t, db.Store(state))

	got := db.Get("a/b/file.txt", SideSource)
	require.NotNil(t, got)
	require.Equal(t, state.Path, got.Path)
	require.Equal(t, state.Size, got.Size)
	require.NotNil(t, got.Checksum)
	require.Equal(t, *state.Checksum, *got.Checksum)
	require.True(t, state.ModTime.Equal(got.ModTime))
}

func TestEscapeUnescapePathRoundTrip(t *testing.T) {
	cases := []string{
		`plain/path.txt`,
		"has\nnewline",
		`has "quote"`,
		`has\backslash`,
		"has\ttab",
	}
	for _, c := range cases {
		escaped := escapePath(c)
		require.True(t, len(escaped) >= 2)
		unescaped := unescapePath(escaped[1 : len(escaped)-1])
		require.Equal(t, c, unescaped)
	}
}

func TestReopenPersistsAcrossProcesses(t *testing.T) {
	cacheHome := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cacheHome)

	db, err := Open("/tmp/source-persist", "/tmp/dest-persist")
	require.NoError(t, err)
	require.NoError(t, db.Store(&State{Path: "x.txt", Side: SideDest, ModTime: time.Unix(1, 0), Size: 5, LastSync: time.Unix(2, 0)}))

	reopened, err := Open("/tmp/source-persist", "/tmp/dest-persist")
	require.NoError(t, err)
	got := reopened.Get("x.txt", SideDest)
	require.NotNil(t, got)
	require.Equal(t, uint64(5), got.Size)
}

func TestDeleteAndClearAll(t *testing.T) {
	db := tempPair(t)
	require.NoError(t, db.Store(&State{Path: "a.txt", Side: SideSource, ModTime: time.Unix(1, 0), Size: 1, LastSync: time.Unix(1, 0)}))
	require.NoError(t, db.Store(&State{Path: "b.txt", Side: SideSource, ModTime: time.Unix(1, 0), Size: 1, LastSync: time.Unix(1, 0)}))

	require.NoError(t, db.Delete("a.txt"))
	require.Nil(t, db.Get("a.txt", SideSource))
	require.NotNil(t, db.Get("b.txt", SideSource))

	require.NoError(t, db.ClearAll())
	require.Nil(t, db.Get("b.txt", SideSource))
}
