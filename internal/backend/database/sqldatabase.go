package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

const selectSubmissions = `SELECT s.id, s.name, s.handle, i.filename
	FROM submissions s
	LEFT JOIN submission_images i ON i.submission_id = s.id`

// dialect captures the differences between the supported SQL engines.
type dialect struct {
	name           string
	schema         []string
	numberedParams bool // $1, $2, ... instead of ?
}

// sqlDatabase implements DatabaseService on top of database/sql for every dialect.
type sqlDatabase struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlDatabase) CreateDatabase() error {
	for _, statement := range s.dialect.schema {
		if _, err := s.db.Exec(statement); err != nil {
			return fmt.Errorf("%w: failed to create %s schema: %w", ErrPersistence, s.dialect.name, err)
		}
	}
	return nil
}

func (s *sqlDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlDatabase) DoesDatabaseExist() bool {
	// Both engines create or connect lazily, a successful ping is the best signal available.
	err := s.db.Ping()
	return err == nil
}

func (s *sqlDatabase) CreateSubmission(ctx context.Context, name, handle string, images []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin transaction: %w", ErrPersistence, err)
	}
	defer func() {
		_ = tx.Rollback() // no-op once committed
	}()

	var id int64
	row := tx.QueryRowContext(ctx, s.rebind("INSERT INTO submissions (name, handle) VALUES (?, ?) RETURNING id"), name, handle)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("%w: failed to insert submission: %w", ErrPersistence, err)
	}

	if len(images) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.rebind("INSERT INTO submission_images (submission_id, position, filename) VALUES (?, ?, ?)"))
		if err != nil {
			return 0, fmt.Errorf("%w: failed to prepare image insert: %w", ErrPersistence, err)
		}
		defer func() {
			_ = stmt.Close()
		}()

		for position, filename := range images {
			if _, err := stmt.ExecContext(ctx, id, position, filename); err != nil {
				return 0, fmt.Errorf("%w: failed to insert image %q: %w", ErrPersistence, filename, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: failed to commit submission: %w", ErrPersistence, err)
	}
	return id, nil
}

func (s *sqlDatabase) GetAllSubmissions(ctx context.Context) ([]*Submission, error) {
	rows, err := s.db.QueryContext(ctx, selectSubmissions+" ORDER BY s.id, i.position")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query submissions: %w", ErrPersistence, err)
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	return scanSubmissions(rows)
}

func (s *sqlDatabase) GetSubmissionByID(ctx context.Context, id int64) (*Submission, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(selectSubmissions+" WHERE s.id = ? ORDER BY i.position"), id)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query submission %d: %w", ErrPersistence, id, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	submissions, err := scanSubmissions(rows)
	if err != nil {
		return nil, err
	}
	if len(submissions) == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return submissions[0], nil
}

func (s *sqlDatabase) DeleteSubmission(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrPersistence, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM submission_images WHERE submission_id = ?"), id); err != nil {
		return fmt.Errorf("%w: failed to delete images of submission %d: %w", ErrPersistence, id, err)
	}

	result, err := tx.ExecContext(ctx, s.rebind("DELETE FROM submissions WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("%w: failed to delete submission %d: %w", ErrPersistence, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to read affected rows: %w", ErrPersistence, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit deletion of submission %d: %w", ErrPersistence, id, err)
	}
	return nil
}

func (s *sqlDatabase) rebind(query string) string {
	return rebind(query, s.dialect.numberedParams)
}

// scanSubmissions folds the joined rows (one per image, ordered by submission) back into submissions.
func scanSubmissions(rows *sql.Rows) ([]*Submission, error) {
	submissions := make([]*Submission, 0)
	var current *Submission
	for rows.Next() {
		var (
			id           int64
			name, handle string
			filename     sql.NullString
		)
		if err := rows.Scan(&id, &name, &handle, &filename); err != nil {
			return nil, fmt.Errorf("%w: failed to scan submission: %w", ErrPersistence, err)
		}

		if current == nil || current.ID != id {
			current = &Submission{ID: id, Name: name, Handle: handle, Images: []string{}}
			submissions = append(submissions, current)
		}
		if filename.Valid {
			current.Images = append(current.Images, filename.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate submissions: %w", ErrPersistence, err)
	}
	return submissions, nil
}

// rebind rewrites ? placeholders into $n placeholders when numbered is set.
func rebind(query string, numbered bool) string {
	if !numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
