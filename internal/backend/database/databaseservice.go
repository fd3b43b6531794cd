package database

import "context"

type DatabaseService interface {
	CreateDatabase() error
	DoesDatabaseExist() bool
	Close() error

	// CreateSubmission inserts the submission row and its ordered image rows in a single transaction
	// and returns the id assigned by the storage engine.
	CreateSubmission(ctx context.Context, name, handle string, images []string) (int64, error)
	GetAllSubmissions(ctx context.Context) ([]*Submission, error)
	// GetSubmissionByID returns ErrNotFound when no submission has the given id.
	GetSubmissionByID(ctx context.Context, id int64) (*Submission, error)
	// DeleteSubmission removes the submission and its image rows. Returns ErrNotFound when absent.
	DeleteSubmission(ctx context.Context, id int64) error
}
