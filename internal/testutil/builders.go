// Package testutil provides testing utilities and helpers for the migration pipeline.
package testutil

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/neobrutalism/crm-migration/internal/domain/model"
)

// SubmitRequestBuilder provides a fluent interface for building SubmitJobRequest objects for testing.
type SubmitRequestBuilder struct {
	req *model.SubmitJobRequest
}

// NewSubmitRequest creates a new SubmitRequestBuilder with sensible defaults.
func NewSubmitRequest() *SubmitRequestBuilder {
	return &SubmitRequestBuilder{
		req: &model.SubmitJobRequest{
			TenantID: "tenant-1",
			FileName: "workbook.xlsx",
			FileSize: 1024,
			FileHash: HashOf("workbook.xlsx"),
			Sheets: []model.SheetInfo{
				{Name: "Contracts", SheetType: "contracts", TotalRows: 10},
			},
		},
	}
}

// WithTenant sets the tenant ID.
func (b *SubmitRequestBuilder) WithTenant(tenantID string) *SubmitRequestBuilder {
	b.req.TenantID = tenantID
	return b
}

// WithFileName sets the file name.
func (b *SubmitRequestBuilder) WithFileName(name string) *SubmitRequestBuilder {
	b.req.FileName = name
	return b
}

// WithFileHash sets the file hash.
func (b *SubmitRequestBuilder) WithFileHash(hash string) *SubmitRequestBuilder {
	b.req.FileHash = hash
	return b
}

// WithSheets replaces the sheet list.
func (b *SubmitRequestBuilder) WithSheets(sheets ...model.SheetInfo) *SubmitRequestBuilder {
	b.req.Sheets = sheets
	return b
}

// Build returns the constructed request.
func (b *SubmitRequestBuilder) Build() model.SubmitJobRequest {
	return *b.req
}

// HashOf returns a deterministic content hash for test fixtures.
func HashOf(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}
