package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var postgresDialect = dialect{
	name:     "postgres",
	lockDeal: `SELECT id FROM deals WHERE id = $1 FOR UPDATE`,
	rebind:   func(q string) string { return q },
	bindTime: func(t time.Time) any { return t.UTC() },
	isUnique: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	},
}

// OpenPostgres connects via lib/pq, applies the schema, and returns a Store.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	s, err := newSQLStore(db, &postgresDialect, postgresSchema)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
