package model

// JobListOptions filters and pages job listings.
type JobListOptions struct {
	TenantID string
	Status   JobStatus
	Limit    int
	Offset   int
}

// ErrorListOptions pages through a job's error records. AfterID enables
// keyset pagination; results are ordered by id ascending.
type ErrorListOptions struct {
	JobID   string
	Filter  ErrorFilter
	AfterID int64
	Limit   int
}
