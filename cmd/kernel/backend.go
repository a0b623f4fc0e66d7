package main

import (
	"fmt"

	"slug/internal/store"
	"slug/internal/store/memkv"
	"slug/internal/store/mysqlkv"
	"slug/internal/store/pgkv"
	"slug/internal/store/sqlitekv"
)

// openStore opens the Backend named by opts.backend and wraps it in a
// fresh *store.Store. "memory" ignores dsn; every other backend treats
// dsn as the sqlite file path or the mysql/postgres DSN.
func openStore(opts *globalOpts) (*store.Store, error) {
	backend, err := openBackend(opts.backend, opts.dsn)
	if err != nil {
		return nil, err
	}
	return store.New(backend), nil
}

func openBackend(name, dsn string) (store.Backend, error) {
	switch name {
	case "", "memory":
		return memkv.New(), nil
	case "sqlite":
		if dsn == "" {
			return nil, fmt.Errorf("kernel: --dsn is required for the sqlite backend")
		}
		return sqlitekv.Open(dsn)
	case "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("kernel: --dsn is required for the mysql backend")
		}
		return mysqlkv.Open(dsn)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("kernel: --dsn is required for the postgres backend")
		}
		return pgkv.Open(dsn)
	default:
		return nil, fmt.Errorf("kernel: unknown backend %q (want memory, sqlite, mysql, or postgres)", name)
	}
}
