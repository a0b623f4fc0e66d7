// Package sqlitekv is a store.Backend backed by SQLite, using real
// transactions and SQL SAVEPOINTs for the store's nested-savepoint crank
// protocol.
package sqlitekv

import (
	"database/sql"
	"fmt"

	"slug/internal/kernelerr"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Backend implements store.Backend against a single "kv" table. All reads
// and writes go through an open transaction: Open starts one immediately,
// and Commit both commits it and opens the next one, so the backend is
// always inside a transaction between crank boundaries.
type Backend struct {
	db *sql.DB
	tx *sql.Tx
}

// Open opens (creating if necessary) a SQLite database at path and prepares
// its schema.
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.StoreFailure, path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, kernelerr.Wrap(kernelerr.StoreFailure, path, err)
	}
	b := &Backend{db: db}
	if err := b.beginTx(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) beginTx() error {
	tx, err := b.db.Begin()
	if err != nil {
		return kernelerr.Wrap(kernelerr.StoreFailure, "begin", err)
	}
	b.tx = tx
	return nil
}

func (b *Backend) Close() error {
	if b.tx != nil {
		b.tx.Rollback()
	}
	return b.db.Close()
}

func (b *Backend) Get(key string) (string, bool) {
	var value string
	err := b.tx.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

func (b *Backend) GetRequired(key string) (string, error) {
	v, ok := b.Get(key)
	if !ok {
		return "", kernelerr.New(kernelerr.StoreFailure, key, "required key missing")
	}
	return v, nil
}

func (b *Backend) Set(key, value string) {
	_, err := b.tx.Exec(`INSERT INTO kv(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		panic(fmt.Sprintf("sqlitekv: set %q: %v", key, err))
	}
}

func (b *Backend) Delete(key string) {
	if _, err := b.tx.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		panic(fmt.Sprintf("sqlitekv: delete %q: %v", key, err))
	}
}

func (b *Backend) Keys(prefix string) []string {
	rows, err := b.tx.Query(`SELECT key FROM kv WHERE key LIKE ? ORDER BY key`, prefix+"%")
	if err != nil {
		panic(fmt.Sprintf("sqlitekv: keys %q: %v", prefix, err))
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			panic(fmt.Sprintf("sqlitekv: scan key: %v", err))
		}
		out = append(out, k)
	}
	return out
}

func (b *Backend) CreateSavepoint(name string) {
	if _, err := b.tx.Exec("SAVEPOINT " + quoteIdent(name)); err != nil {
		panic(fmt.Sprintf("sqlitekv: savepoint %q: %v", name, err))
	}
}

func (b *Backend) RollbackTo(name string) {
	if _, err := b.tx.Exec("ROLLBACK TO " + quoteIdent(name)); err != nil {
		panic(fmt.Sprintf("sqlitekv: rollback to %q: %v", name, err))
	}
}

func (b *Backend) Release(name string) {
	if _, err := b.tx.Exec("RELEASE " + quoteIdent(name)); err != nil {
		panic(fmt.Sprintf("sqlitekv: release %q: %v", name, err))
	}
}

func (b *Backend) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return kernelerr.Wrap(kernelerr.StoreFailure, "commit", err)
	}
	return b.beginTx()
}

// quoteIdent wraps a savepoint name in double quotes. The store passes
// "crank", or "<name>#<n>" from Store.CreateCrankSavepoint with a
// caller-chosen name; quote characters inside name are not escaped.
func quoteIdent(name string) string {
	return `"` + name + `"`
}
