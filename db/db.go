// Package db opens the profile database and applies schema migrations.
package db

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pocketbase/dbx"
	"github.com/pressly/goose/v3"

	_ "github.com/dlnabridge/dlnabridge/db/migrations"
	"github.com/dlnabridge/dlnabridge/log"
)

// Init opens the sqlite database at path and brings the schema up to date.
func Init(path string) (*dbx.DB, error) {
	database, err := dbx.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", path, err)
	}

	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, err
	}
	// All migrations are registered Go migrations; there is no SQL directory.
	if err := goose.Up(database.DB(), "."); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return database, nil
}

type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	log.Fatal(fmt.Sprintf(format, v...))
}

func (gooseLogger) Printf(format string, v ...interface{}) {
	log.Debug(fmt.Sprintf(format, v...))
}
