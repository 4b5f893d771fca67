package model

import "time"

// SheetStatus represents the progress state of one sheet inside a job.
type SheetStatus string

const (
	SheetStatusPending    SheetStatus = "pending"
	SheetStatusProcessing SheetStatus = "processing"
	SheetStatusCompleted  SheetStatus = "completed"
	SheetStatusFailed     SheetStatus = "failed"
)

// MigrationSheet tracks per-sheet row counters for a job. One row per sheet
// in the uploaded workbook, created when the job is submitted. Position is
// the sheet's zero-based index in the workbook; sheets are imported in that
// order.
type MigrationSheet struct {
	ID            string      `json:"id"              db:"id"`
	JobID         string      `json:"job_id"          db:"job_id"`
	Position      int         `json:"position"        db:"position"`
	SheetName     string      `json:"sheet_name"      db:"sheet_name"`
	SheetType     string      `json:"sheet_type"      db:"sheet_type"`
	Status        SheetStatus `json:"status"          db:"status"`
	TotalRows     int64       `json:"total_rows"      db:"total_rows"`
	ProcessedRows int64       `json:"processed_rows"  db:"processed_rows"`
	SuccessRows   int64       `json:"success_rows"    db:"success_rows"`
	ErrorRows     int64       `json:"error_rows"      db:"error_rows"`
	CreatedAt     time.Time   `json:"created_at"      db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"      db:"updated_at"`
}
