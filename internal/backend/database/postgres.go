package database

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS submissions (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		handle TEXT NOT NULL DEFAULT ''
	)`,
		`CREATE TABLE IF NOT EXISTS submission_images (
		submission_id BIGINT NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		filename TEXT NOT NULL,
		PRIMARY KEY (submission_id, position)
	)`,
	},
	numberedParams: true,
}

type PostgresDatabase struct {
	sqlDatabase
	connectionString string
}

// NewPostgresDatabase opens a pool through the pgx database/sql driver.
// The connection string accepts both URL and key=value forms.
func NewPostgresDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("pgx", connectionString)
	if err != nil {
		return nil, err
	}

	return &PostgresDatabase{
		sqlDatabase:      sqlDatabase{db: db, dialect: postgresDialect},
		connectionString: connectionString,
	}, nil
}
