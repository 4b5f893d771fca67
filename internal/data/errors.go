package data

import "errors"

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrSheetNotFound is returned when a job has no sheet with the given name.
	ErrSheetNotFound = errors.New("sheet not found")
	// ErrFileNotFound is returned when a stored upload is missing.
	ErrFileNotFound = errors.New("stored file not found")
)
