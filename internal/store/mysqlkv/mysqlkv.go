// Package mysqlkv is a store.Backend backed by MySQL/MariaDB. It mirrors
// sqlitekv's transaction-plus-SAVEPOINT protocol; MySQL's InnoDB engine
// supports nested SAVEPOINT/RELEASE SAVEPOINT/ROLLBACK TO SAVEPOINT the
// same way SQLite does.
package mysqlkv

import (
	"database/sql"
	"fmt"

	"slug/internal/kernelerr"

	_ "github.com/go-sql-driver/mysql"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	kkey   VARCHAR(255) PRIMARY KEY,
	value  TEXT NOT NULL
) ENGINE=InnoDB;
`

// Backend implements store.Backend against a single "kv" table reached via
// a DSN like "user:pass@tcp(host:3306)/dbname".
type Backend struct {
	db *sql.DB
	tx *sql.Tx
}

func Open(dsn string) (*Backend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.StoreFailure, dsn, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, kernelerr.Wrap(kernelerr.StoreFailure, dsn, err)
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
	err := b.tx.QueryRow(`SELECT value FROM kv WHERE kkey = ?`, key).Scan(&value)
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
	_, err := b.tx.Exec(`INSERT INTO kv(kkey, value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)`, key, value)
	if err != nil {
		panic(fmt.Sprintf("mysqlkv: set %q: %v", key, err))
	}
}

func (b *Backend) Delete(key string) {
	if _, err := b.tx.Exec(`DELETE FROM kv WHERE kkey = ?`, key); err != nil {
		panic(fmt.Sprintf("mysqlkv: delete %q: %v", key, err))
	}
}

func (b *Backend) Keys(prefix string) []string {
	rows, err := b.tx.Query(`SELECT kkey FROM kv WHERE kkey LIKE ? ORDER BY kkey`, prefix+"%")
	if err != nil {
		panic(fmt.Sprintf("mysqlkv: keys %q: %v", prefix, err))
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			panic(fmt.Sprintf("mysqlkv: scan key: %v", err))
		}
		out = append(out, k)
	}
	return out
}

func (b *Backend) CreateSavepoint(name string) {
	if _, err := b.tx.Exec("SAVEPOINT " + quoteIdent(name)); err != nil {
		panic(fmt.Sprintf("mysqlkv: savepoint %q: %v", name, err))
	}
}

func (b *Backend) RollbackTo(name string) {
	if _, err := b.tx.Exec("ROLLBACK TO SAVEPOINT " + quoteIdent(name)); err != nil {
		panic(fmt.Sprintf("mysqlkv: rollback to %q: %v", name, err))
	}
}

func (b *Backend) Release(name string) {
	if _, err := b.tx.Exec("RELEASE SAVEPOINT " + quoteIdent(name)); err != nil {
		panic(fmt.Sprintf("mysqlkv: release %q: %v", name, err))
	}
}

func (b *Backend) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return kernelerr.Wrap(kernelerr.StoreFailure, "commit", err)
	}
	return b.beginTx()
}

func quoteIdent(name string) string {
	return "`" + name + "`"
}
