package database

import "errors"

var (
	ErrNotFound    = errors.New("submission not found")
	ErrPersistence = errors.New("persistence error")
)
