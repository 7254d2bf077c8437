package export

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/indu/internal/dircache"
	"github.com/agentic-research/indu/internal/entry"
)

func sampleEntries() []*dircache.Entry {
	return []*dircache.Entry{
		{
			Path: "/a", Mtime: 100, Dev: 1, Ino: 2, Size: 8192, ASize: 4100, Items: 2,
			Children: []entry.Child{
				{Name: "f", Flags: entry.FlagFile, Size: 4096, ASize: 4, Dev: 1, Ino: 3, Mtime: 90},
				{Name: "d", Flags: entry.FlagDir, Dev: 1, Ino: 4},
			},
		},
		{Path: "/a/d", Mtime: 5, Dev: 1, Ino: 4, Items: 0},
		{Path: "/big", Dev: 1<<64 - 1, Ino: 1},
	}
}

func TestWriteSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	require.NoError(t, WriteSQLite(context.Background(), dbPath, sampleEntries()))

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n))
	assert.Equal(t, 3, n)
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM children").Scan(&n))
	assert.Equal(t, 2, n)

	var dsize, items int64
	require.NoError(t, db.QueryRow("SELECT dsize, items FROM entries WHERE path = ?", "/a").Scan(&dsize, &items))
	assert.Equal(t, int64(8192), dsize)
	assert.Equal(t, int64(2), items)

	var kind string
	var mtime int64
	require.NoError(t, db.QueryRow(
		"SELECT kind, mtime FROM children WHERE entry_path = ? AND name = ?", "/a", "f",
	).Scan(&kind, &mtime))
	assert.Equal(t, "file", kind)
	assert.Equal(t, int64(90), mtime)

	var dev int64
	require.NoError(t, db.QueryRow("SELECT dev FROM entries WHERE path = ?", "/big").Scan(&dev))
	assert.Equal(t, uint64(1<<64-1), uint64(dev))
}

func TestWriteSQLite_Rerun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	entries := sampleEntries()
	require.NoError(t, WriteSQLite(context.Background(), dbPath, entries))

	entries[0].Size = 1
	require.NoError(t, WriteSQLite(context.Background(), dbPath, entries))

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n))
	assert.Equal(t, 3, n)
	var dsize int64
	require.NoError(t, db.QueryRow("SELECT dsize FROM entries WHERE path = '/a'").Scan(&dsize))
	assert.Equal(t, int64(1), dsize)
}

func TestWriteSQLite_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WriteSQLite(ctx, filepath.Join(t.TempDir(), "cache.db"), sampleEntries())
	assert.Error(t, err)
}
