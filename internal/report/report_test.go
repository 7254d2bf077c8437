package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/indu/internal/dircache"
	"github.com/agentic-research/indu/internal/entry"
)

func writeCache(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.json")
	s := dircache.New(path, dircache.WithProgram("indu", "9.9"))
	defer s.Destroy()
	s.Store("/a", &entry.Dir{Flags: entry.FlagDir, Dev: 1, Ino: 2, Size: 8192, Items: 3},
		&entry.Ext{Flags: entry.ExtMtime, Mtime: 100},
		[]entry.Child{
			{Name: "f", Flags: entry.FlagFile, Size: 4096, ASize: 12, Dev: 1, Ino: 3},
			{Name: "h", Flags: entry.FlagFile | entry.FlagHardlink, Dev: 1, Ino: 4, Nlink: 3},
			{Name: "b", Flags: entry.FlagDir, Dev: 1, Ino: 5},
		})
	s.Store("/a/b", &entry.Dir{Flags: entry.FlagDir, Dev: 1, Ino: 5}, nil, []entry.Child{
		{Name: "mnt", Flags: entry.FlagDir | entry.FlagOtherFS, Dev: 1},
		{Name: "sock", Dev: 1},
	})
	require.NoError(t, s.Save())
	return path
}

func TestLoad(t *testing.T) {
	doc, err := Load(writeCache(t))
	require.NoError(t, err)

	assert.Equal(t, []any{int64(1), int64(2)}, doc["version"])
	assert.Equal(t, "9.9", doc["meta"].(map[string]any)["progver"])
	assert.Equal(t, int64(2), doc["entry_count"])
	assert.Equal(t, int64(5), doc["child_count"])

	entries := doc["entries"].([]any)
	require.Len(t, entries, 2)
	a := entries[0].(map[string]any)
	assert.Equal(t, "/a", a["path"])
	assert.Equal(t, int64(100), a["mtime"])
	assert.Equal(t, int64(3), a["items"], "items are the child count after a reload")
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestQuery(t *testing.T) {
	doc, err := Load(writeCache(t))
	require.NoError(t, err)

	paths, err := Query(doc, "$.entries[*].path")
	require.NoError(t, err)
	assert.Equal(t, []any{"/a", "/a/b"}, paths)

	names, err := Query(doc, "$.entries[0].children[*].name")
	require.NoError(t, err)
	assert.Equal(t, []any{"f", "h", "b"}, names)

	dirs, err := Query(doc, "$.entries[*].children[?(@.kind == 'dir')].name")
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"b", "mnt"}, dirs)

	big, err := Query(doc, "$.entries[?(@.dsize > 4096)].path")
	require.NoError(t, err)
	assert.Equal(t, []any{"/a"}, big)

	_, err = Query(doc, "$.entries[")
	assert.Error(t, err)
}

func TestChildDoc(t *testing.T) {
	doc, err := Load(writeCache(t))
	require.NoError(t, err)

	h, err := Query(doc, "$.entries[0].children[1]")
	require.NoError(t, err)
	require.Len(t, h, 1)
	hm := h[0].(map[string]any)
	assert.Equal(t, "file", hm["kind"])
	assert.Equal(t, int64(3), hm["nlink"])
	assert.Equal(t, []any{"hardlink"}, hm["flags"])

	sock, err := Query(doc, "$.entries[1].children[1].kind")
	require.NoError(t, err)
	assert.Equal(t, []any{"other"}, sock)

	mnt, err := Query(doc, "$.entries[1].children[0].flags")
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"otherfs"}}, mnt)
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, map[string]any{"b": int64(1), "a": []any{"x"}}))

	out := buf.String()
	assert.Less(t, bytes.Index(buf.Bytes(), []byte(`"a"`)), bytes.Index(buf.Bytes(), []byte(`"b"`)))
	assert.Contains(t, out, "\n  ")

	back, err := oj.ParseString(out)
	require.NoError(t, err)
	assert.Equal(t, int64(1), back.(map[string]any)["b"])
}
