package storage

import (
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// NewPSQLStorage opens a Postgres-backed Feed Store using the given
// connection string. It demonstrates that the Feed Store is
// database/sql-driver-agnostic: schema, ingestion protocol and
// derived-work pass are shared verbatim with the SQLite backend via
// sqlStore, only placeholder syntax, the auto-increment primary key
// declaration and the _feeds insert differ (see dialect in sqlstore.go).
func NewPSQLStorage(connStr string) (Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres connection")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "pinging postgres")
	}

	return openSQLStore(db, postgresDialect)
}
