package core

import "errors"

var ErrTooManyFiles = errors.New("too many files")
