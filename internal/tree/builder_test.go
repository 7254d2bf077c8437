package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/indu/internal/entry"
)

func dir(size int64) *entry.Dir {
	return &entry.Dir{Flags: entry.FlagDir, Size: size, ASize: size}
}

func file(size int64) *entry.Dir {
	return &entry.Dir{Flags: entry.FlagFile, Size: size, ASize: size}
}

func feed(t *testing.T, b *Builder, steps ...func(*Builder) error) {
	t.Helper()
	for _, s := range steps {
		require.NoError(t, s(b))
	}
}

func open(name string, d *entry.Dir) func(*Builder) error {
	return func(b *Builder) error { return b.Item(d, name, nil, 0) }
}

func closeDir(b *Builder) error { return b.Item(nil, "", nil, 0) }

func TestBuilder_Totals(t *testing.T) {
	b := NewBuilder()
	feed(t, b,
		open("/r", dir(4096)),
		open("a", file(100)),
		open("sub", dir(4096)),
		open("b", file(10)),
		open("c", file(1)),
		closeDir,
		open("empty", dir(4096)),
		closeDir,
		closeDir,
	)
	root, err := b.Finish()
	require.NoError(t, err)

	assert.Equal(t, "/r", root.Name)
	assert.Equal(t, int64(4096+100+4096+10+1+4096), root.Size)
	assert.Equal(t, 5, root.Items)

	sub := root.Child("sub")
	require.NotNil(t, sub)
	assert.Equal(t, int64(4096+11), sub.Size)
	assert.Equal(t, 2, sub.Items)
	assert.Nil(t, root.Child("nope"))
}

func TestBuilder_HardLinksCountedOnce(t *testing.T) {
	b := NewBuilder()
	link := func(dev, ino uint64) *entry.Dir {
		return &entry.Dir{Flags: entry.FlagFile | entry.FlagHardlink, Size: 50, ASize: 50, Dev: dev, Ino: ino}
	}
	feed(t, b,
		open("/r", dir(0)),
		func(b *Builder) error { return b.Item(link(1, 7), "x", nil, 2) },
		open("d", dir(0)),
		func(b *Builder) error { return b.Item(link(1, 7), "y", nil, 2) },
		func(b *Builder) error { return b.Item(link(2, 7), "z", nil, 2) },
		closeDir,
		closeDir,
	)
	root, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, int64(100), root.Size)
	assert.Equal(t, 4, root.Items)
	assert.Equal(t, uint64(2), b.HardLinks())
	assert.Equal(t, uint32(2), root.Child("x").Nlink)
}

func TestBuilder_SkippedItemsHaveNoSize(t *testing.T) {
	b := NewBuilder()
	feed(t, b,
		open("/r", dir(0)),
		open("ex", &entry.Dir{Flags: entry.FlagFile | entry.FlagExcluded, Size: 999}),
		open("mnt", &entry.Dir{Flags: entry.FlagDir | entry.FlagOtherFS, Size: 999}),
		closeDir,
		open("ok", file(3)),
		closeDir,
	)
	root, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, int64(3), root.Size)
	assert.Equal(t, 3, root.Items)
}

func TestBuilder_RecordsMtime(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Item(dir(0), "/r", &entry.Ext{Flags: entry.ExtMtime, Mtime: 77}, 0))
	require.NoError(t, b.Item(file(0), "f", &entry.Ext{Flags: entry.ExtUID, UID: 1}, 0))
	require.NoError(t, closeDir(b))
	root, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, uint64(77), root.Mtime)
	assert.Zero(t, root.Child("f").Mtime)
}

func TestBuilder_FileRoot(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Item(file(5), "lonely", nil, 0))
	root, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, int64(5), root.Size)
}

func TestBuilder_Unbalanced(t *testing.T) {
	b := NewBuilder()
	assert.ErrorIs(t, closeDir(b), ErrUnbalanced)

	b = NewBuilder()
	feed(t, b, open("/r", dir(0)), open("d", dir(0)))
	assert.Len(t, b.stack, 2)
	_, err := b.Finish()
	assert.ErrorIs(t, err, ErrUnbalanced)
	assert.NotNil(t, b.root)

	b = NewBuilder()
	feed(t, b, open("/r", dir(0)), closeDir)
	assert.ErrorIs(t, b.Item(file(1), "late", nil, 0), ErrUnbalanced)
	assert.ErrorIs(t, closeDir(b), ErrUnbalanced)
}
