// Package export copies a directory cache into a SQLite database for ad hoc
// querying.
package export

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/agentic-research/indu/internal/dircache"
	"github.com/agentic-research/indu/internal/report"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	path TEXT PRIMARY KEY,
	mtime INTEGER NOT NULL,
	dev INTEGER NOT NULL,
	ino INTEGER NOT NULL,
	dsize INTEGER DEFAULT 0,
	asize INTEGER DEFAULT 0,
	items INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS children (
	entry_path TEXT NOT NULL,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	flags INTEGER DEFAULT 0,
	dsize INTEGER DEFAULT 0,
	asize INTEGER DEFAULT 0,
	dev INTEGER DEFAULT 0,
	ino INTEGER DEFAULT 0,
	mtime INTEGER DEFAULT 0,
	uid INTEGER DEFAULT 0,
	gid INTEGER DEFAULT 0,
	mode INTEGER DEFAULT 0,
	nlink INTEGER DEFAULT 0,
	PRIMARY KEY (entry_path, name)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_children_kind ON children(kind);
`

// WriteSQLite writes entries into the database at dbPath, replacing rows
// with the same keys. Unsigned values are stored bit for bit as INTEGER.
func WriteSQLite(ctx context.Context, dbPath string, entries []*dircache.Entry) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = MEMORY"); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmtEntry, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO entries (path, mtime, dev, ino, dsize, asize, items)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare entries: %w", err)
	}
	defer func() { _ = stmtEntry.Close() }()

	stmtChild, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO children
			(entry_path, name, kind, flags, dsize, asize, dev, ino, mtime, uid, gid, mode, nlink)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare children: %w", err)
	}
	defer func() { _ = stmtChild.Close() }()

	for _, e := range entries {
		if _, err := stmtEntry.ExecContext(ctx,
			e.Path, int64(e.Mtime), int64(e.Dev), int64(e.Ino), e.Size, e.ASize, e.Items,
		); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.Path, err)
		}
		for i := range e.Children {
			c := &e.Children[i]
			if _, err := stmtChild.ExecContext(ctx,
				e.Path, c.Name, report.Kind(c.Flags), int64(c.Flags),
				c.Size, c.ASize, int64(c.Dev), int64(c.Ino), int64(c.Mtime),
				int64(c.UID), int64(c.GID), int64(c.Mode), int64(c.Nlink),
			); err != nil {
				return fmt.Errorf("insert child %s/%s: %w", e.Path, c.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
