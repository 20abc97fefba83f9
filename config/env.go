// Package config holds the small amount of environment-driven configuration
// batchdag backends accept: the local filesystem root and the DuckDB database
// path. The framework itself has no CLI surface (pipelines are authored as
// code, per spec), so this is the only place environment variables are read.
package config

import "os"

// GetEnv returns the value of key, or fallback if it is unset.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

const (
	// LocalRootEnv overrides backend.LocalFileSystem's default root directory.
	LocalRootEnv = "BATCHDAG_LOCAL_ROOT"
	// DuckDBPathEnv sets the database file backend.NewPersistedDuckDBBackend
	// opens; unset, it uses a generated temporary path. ":memory:" opens an
	// in-memory database whose Commit is a no-op. backend.NewDuckDBBackend
	// does not read it and is always in-memory.
	DuckDBPathEnv = "BATCHDAG_DUCKDB_PATH"
)
