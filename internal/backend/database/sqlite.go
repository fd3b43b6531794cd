package database

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		handle TEXT NOT NULL DEFAULT ''
	)`,
		`CREATE TABLE IF NOT EXISTS submission_images (
		submission_id INTEGER NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		filename TEXT NOT NULL,
		PRIMARY KEY (submission_id, position)
	)`,
	},
}

type SQLiteDatabase struct {
	sqlDatabase
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway. A single connection also keeps a ":memory:"
	// database shared instead of giving every pooled connection its own empty one.
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		sqlDatabase:      sqlDatabase{db: db, dialect: sqliteDialect},
		connectionString: connectionString,
	}, nil
}
