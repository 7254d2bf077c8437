//go:build unix

package scan

import (
	"golang.org/x/sys/unix"

	"github.com/agentic-research/indu/internal/entry"
)

// fromStat converts a stat result into the item's own metadata. Sizes are
// the item's own, never a subtree total.
func fromStat(st *unix.Stat_t, extended bool) (entry.Dir, *entry.Ext, uint32) {
	d := entry.Dir{
		Size:  st.Blocks * 512,
		ASize: st.Size,
		Dev:   uint64(st.Dev),
		Ino:   st.Ino,
	}
	nlink := uint32(st.Nlink)
	switch uint32(st.Mode) & unix.S_IFMT {
	case unix.S_IFDIR:
		d.Flags = entry.FlagDir
		nlink = 0
	case unix.S_IFREG:
		d.Flags = entry.FlagFile
		if nlink > 1 {
			d.Flags |= entry.FlagHardlink
		}
	}
	if d.Flags&entry.FlagHardlink == 0 {
		nlink = 0
	}

	ext := &entry.Ext{Flags: entry.ExtMtime, Mtime: uint64(st.Mtim.Sec)}
	if extended {
		ext.Flags |= entry.ExtUID | entry.ExtGID | entry.ExtMode
		ext.UID = st.Uid
		ext.GID = st.Gid
		ext.Mode = uint32(st.Mode)
	}
	return d, ext, nlink
}
