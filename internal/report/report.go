// Package report renders a cache file as a plain JSON document and queries
// it with JSONPath.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/indu/internal/codec"
	"github.com/agentic-research/indu/internal/dircache"
	"github.com/agentic-research/indu/internal/entry"
)

// Load reads the cache file at path into a document. It takes no lock: the
// file is only ever replaced by rename, so a reader sees a whole version.
func Load(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = f.Close() }()

	h, entries, err := dircache.ReadEntries(f)
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", path, err)
	}
	return Document(h, entries), nil
}

// Document converts a parsed cache file into generic JSON values.
func Document(h codec.Header, entries []*dircache.Entry) map[string]any {
	list := make([]any, 0, len(entries))
	children := 0
	for _, e := range entries {
		list = append(list, entryDoc(e))
		children += len(e.Children)
	}
	return map[string]any{
		"version": []any{h.Major, h.Minor},
		"meta": map[string]any{
			"progname":  h.ProgName,
			"progver":   h.ProgVer,
			"timestamp": int64(h.Timestamp),
		},
		"entry_count": int64(len(entries)),
		"child_count": int64(children),
		"entries":     list,
	}
}

func entryDoc(e *dircache.Entry) map[string]any {
	kids := make([]any, 0, len(e.Children))
	for i := range e.Children {
		kids = append(kids, childDoc(&e.Children[i]))
	}
	return map[string]any{
		"path":     e.Path,
		"mtime":    int64(e.Mtime),
		"dev":      int64(e.Dev),
		"ino":      int64(e.Ino),
		"dsize":    e.Size,
		"asize":    e.ASize,
		"items":    int64(e.Items),
		"children": kids,
	}
}

func childDoc(c *entry.Child) map[string]any {
	doc := map[string]any{
		"name":  c.Name,
		"kind":  Kind(c.Flags),
		"dsize": c.Size,
		"asize": c.ASize,
		"dev":   int64(c.Dev),
		"ino":   int64(c.Ino),
	}
	if c.Mtime != 0 {
		doc["mtime"] = int64(c.Mtime)
	}
	if c.Nlink > 1 {
		doc["nlink"] = int64(c.Nlink)
	}
	if c.UID != 0 || c.GID != 0 || c.Mode != 0 {
		doc["uid"] = int64(c.UID)
		doc["gid"] = int64(c.GID)
		doc["mode"] = int64(c.Mode)
	}
	if flags := FlagNames(c.Flags); len(flags) > 0 {
		doc["flags"] = flags
	}
	return doc
}

// Kind names the type of an item.
func Kind(f entry.Flags) string {
	switch {
	case f&entry.FlagDir != 0:
		return "dir"
	case f&entry.FlagFile != 0:
		return "file"
	default:
		return "other"
	}
}

// FlagNames lists the status flags set in f.
func FlagNames(f entry.Flags) []any {
	var out []any
	for _, fl := range []struct {
		bit  entry.Flags
		name string
	}{
		{entry.FlagHardlink, "hardlink"},
		{entry.FlagErr, "read_error"},
		{entry.FlagExcluded, "excluded"},
		{entry.FlagOtherFS, "otherfs"},
		{entry.FlagKernFS, "kernfs"},
		{entry.FlagFirmlink, "frmlnk"},
	} {
		if f&fl.bit != 0 {
			out = append(out, fl.name)
		}
	}
	return out
}

// Query evaluates a JSONPath expression against doc.
func Query(doc any, expr string) ([]any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", expr, err)
	}
	return x.Get(doc), nil
}

// Write prints v as indented JSON with sorted keys.
func Write(w io.Writer, v any) error {
	_, err := io.WriteString(w, oj.JSON(v, &ojg.Options{Indent: 2, Sort: true})+"\n")
	return err
}
