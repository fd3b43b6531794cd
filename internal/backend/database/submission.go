package database

type Submission struct {
	ID     int64    `db:"id"`
	Name   string   `db:"name"`
	Handle string   `db:"handle"`
	Images []string `db:"-"` // stored filenames in upload order, kept in submission_images
}
