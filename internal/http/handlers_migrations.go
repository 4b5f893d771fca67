package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/neobrutalism/crm-migration/config"
	"github.com/neobrutalism/crm-migration/internal/data"
	"github.com/neobrutalism/crm-migration/internal/domain/model"
	"github.com/neobrutalism/crm-migration/internal/service"
)

// MigrationHandlers provides HTTP handlers for migration job operations.
type MigrationHandlers struct {
	Migrations *service.MigrationService
	Progress   *service.ProgressService
	Errors     *service.ErrorService
	Upload     config.UploadConfig
}

// SubmitUpload handles multipart workbook uploads and registers a job.
func (h *MigrationHandlers) SubmitUpload(w http.ResponseWriter, r *http.Request) {
	if h.Upload.MaxFileBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.Upload.MaxFileBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "missing_file", Err: err})
		return
	}
	defer func() { _ = file.Close() }()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".xlsx" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "unsupported_file_type",
			Err:     fmt.Errorf("only .xlsx workbooks are accepted, got %q", ext),
		})
		return
	}

	job, err := h.Migrations.SubmitUpload(r.Context(), service.SubmitUploadParams{
		TenantID:  r.FormValue("tenant_id"),
		FileName:  header.Filename,
		StagingID: "staging-" + uuid.NewString(),
		Body:      file,
	})
	if err != nil {
		if errors.Is(err, model.ErrDuplicateFile) {
			WriteJSON(w, http.StatusConflict, map[string]any{
				"error":   "duplicate_file",
				"message": "an identical file is already being imported",
				"job":     job,
			})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "submit_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

// GetJob returns a job by ID.
func (h *MigrationHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Migrations.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListJobs returns jobs filtered by the query parameters.
func (h *MigrationHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	opts := model.JobListOptions{
		TenantID: r.URL.Query().Get("tenant_id"),
		Status:   model.JobStatus(r.URL.Query().Get("status")),
		Limit:    parseIntQuery(r, "limit", 50),
		Offset:   parseIntQuery(r, "offset", 0),
	}
	jobs, err := h.Migrations.ListJobs(r.Context(), opts)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "list_failed", Err: err})
		return
	}
	if jobs == nil {
		jobs = []*model.MigrationJob{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// Stats returns counts of jobs per status.
func (h *MigrationHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Migrations.Stats(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// GetProgress returns the job's progress snapshot.
func (h *MigrationHandlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Progress.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// ListErrors pages through a job's row-level error records.
func (h *MigrationHandlers) ListErrors(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	opts := model.ErrorListOptions{
		JobID: jobID,
		Filter: model.ErrorFilter{
			SheetName:   r.URL.Query().Get("sheet"),
			ErrorCode:   r.URL.Query().Get("code"),
			BatchNumber: parseIntQuery(r, "batch", 0),
		},
		AfterID: int64(parseIntQuery(r, "after_id", 0)),
		Limit:   parseIntQuery(r, "limit", 100),
	}

	errs, err := h.Errors.List(r.Context(), opts)
	if err != nil {
		writeJobError(w, err)
		return
	}
	total, err := h.Errors.Count(r.Context(), jobID, opts.Filter)
	if err != nil {
		writeJobError(w, err)
		return
	}
	if errs == nil {
		errs = []*model.MigrationError{}
	}

	resp := map[string]any{"errors": errs, "total": total}
	if len(errs) > 0 {
		resp["next_after_id"] = errs[len(errs)-1].ID
	}
	WriteJSON(w, http.StatusOK, resp)
}

// cancelRequest is the body of a cancel call.
type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel requests cooperative cancellation of a job.
func (h *MigrationHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength > 0 && !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Migrations.RequestCancel(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// writeJobError maps domain errors onto HTTP status codes.
func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, data.ErrJobNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "job_not_found", Err: err})
	case errors.Is(err, model.ErrInvalidTransition):
		WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "invalid_transition", Err: err})
	default:
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "internal_error", Err: err})
	}
}
