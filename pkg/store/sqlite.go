package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	// SQLite serializes writers on its own; no row lock needed.
	lockDeal: "",
	rebind:   rebindQuestion,
	bindTime: func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
	isUnique: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
	},
}

// rebindQuestion rewrites $1..$n placeholders to ?. Queries list their
// placeholders in argument order, so positional binding is preserved.
func rebindQuestion(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && unicode.IsDigit(rune(query[i+1])) {
			b.WriteByte('?')
			for i+1 < len(query) && unicode.IsDigit(rune(query[i+1])) {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// OpenSQLite opens (or creates) the database file at path, applies the
// schema, and returns a Store. Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// modernc/sqlite connections do not share in-memory state and the file
	// backend allows one writer, so a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: sqlite pragmas: %w", err)
	}
	s, err := newSQLStore(db, &sqliteDialect, sqliteSchema)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
