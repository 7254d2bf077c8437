// Package entry holds the value types shared by the scanner, the directory
// cache and the output sinks.
package entry

// Flags describes what kind of item a Dir or Child is and why it may have
// been skipped.
type Flags uint16

const (
	FlagDir      Flags = 1 << iota // directory
	FlagFile                       // regular file
	FlagErr                        // error while reading this item
	FlagExcluded                   // excluded by pattern
	FlagOtherFS                    // on a different filesystem than the scan root
	FlagKernFS                     // Linux pseudo filesystem (proc, sysfs, ...)
	FlagFirmlink                   // macOS firmlink
	FlagHardlink                   // nlink > 1, counted once per (dev, ino)
)

// Skipped reports whether the item was not descended into or sized.
func (f Flags) Skipped() bool {
	return f&(FlagExcluded|FlagOtherFS|FlagKernFS|FlagFirmlink) != 0
}

// NotRegular reports whether the item is neither a file nor a directory and
// carries no error or exclusion reason (symlinks, sockets, devices).
func (f Flags) NotRegular() bool {
	return f&(FlagDir|FlagFile|FlagErr|FlagExcluded|FlagOtherFS|FlagKernFS|FlagFirmlink) == 0
}

// Dir is the core metadata of a scanned item.
type Dir struct {
	Flags Flags
	Size  int64 // disk usage in bytes
	ASize int64 // apparent size in bytes
	Dev   uint64
	Ino   uint64
	Items int // number of items below a directory, set on cache hits
}

// ExtFlags records which Ext fields carry data.
type ExtFlags uint8

const (
	ExtMtime ExtFlags = 1 << iota
	ExtUID
	ExtGID
	ExtMode
)

// Ext is the extended metadata of a scanned item.
type Ext struct {
	Flags ExtFlags
	Mtime uint64
	UID   uint32
	GID   uint32
	Mode  uint32
}

// Child is a snapshot of one directory entry. Children is only populated
// transiently while parsing a cache file; stored children are shallow.
type Child struct {
	Name     string
	Flags    Flags
	Size     int64
	ASize    int64
	Dev      uint64
	Ino      uint64
	Mtime    uint64
	UID      uint32
	GID      uint32
	Mode     uint32
	Nlink    uint32
	Children []Child
}

// IsDir reports whether c is a directory.
func (c *Child) IsDir() bool { return c.Flags&FlagDir != 0 }

// NewChild captures an emitted item as a shallow snapshot.
func NewChild(name string, d *Dir, ext *Ext, nlink uint32) Child {
	c := Child{
		Name:  name,
		Flags: d.Flags,
		Size:  d.Size,
		ASize: d.ASize,
		Dev:   d.Dev,
		Ino:   d.Ino,
		Nlink: nlink,
	}
	if ext != nil {
		if ext.Flags&ExtMtime != 0 {
			c.Mtime = ext.Mtime
		}
		if ext.Flags&ExtUID != 0 {
			c.UID = ext.UID
		}
		if ext.Flags&ExtGID != 0 {
			c.GID = ext.GID
		}
		if ext.Flags&ExtMode != 0 {
			c.Mode = ext.Mode
		}
	}
	return c
}

// Shallow returns a copy of c without nested children.
func (c Child) Shallow() Child {
	c.Children = nil
	return c
}

// Sink receives scan events. A call with d == nil closes the directory most
// recently opened; live scans and cache replay produce identical sequences.
type Sink interface {
	Item(d *Dir, name string, ext *Ext, nlink uint32) error
}
