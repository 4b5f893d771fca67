package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/neobrutalism/crm-migration/internal/core"
)

// DiskFileStore keeps uploaded workbooks on local disk between submission and
// import. Files are stored under dataDir keyed by job ID, so duplicate file
// names cannot collide.
type DiskFileStore struct {
	dataDir string
}

// NewDiskFileStore creates the store and its directory.
func NewDiskFileStore(dataDir string) (*DiskFileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskFileStore{dataDir: dataDir}, nil
}

// Save streams the upload to disk, hashing it as it goes. The hash is
// computed over the exact bytes written, so the stored file and the dedup key
// can never disagree.
func (s *DiskFileStore) Save(ctx context.Context, params core.SaveFileParams) (*core.StoredFile, error) {
	if params.JobID == "" {
		return nil, errors.New("job id is required")
	}
	path := s.path(params.JobID)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), params.Reader)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write upload: %w", err)
	}

	return &core.StoredFile{
		Path: path,
		Size: size,
		Hash: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open returns the on-disk path of the stored workbook for jobID.
func (s *DiskFileStore) Open(ctx context.Context, jobID string) (string, error) {
	path := s.path(jobID)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrFileNotFound
		}
		return "", fmt.Errorf("stat upload: %w", err)
	}
	return path, nil
}

// Rename re-keys a stored workbook from one ID to another.
func (s *DiskFileStore) Rename(ctx context.Context, oldID, newID string) error {
	if err := os.Rename(s.path(oldID), s.path(newID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrFileNotFound
		}
		return fmt.Errorf("rename upload: %w", err)
	}
	return nil
}

// Remove deletes the stored workbook for jobID. Removing a missing file is
// not an error.
func (s *DiskFileStore) Remove(ctx context.Context, jobID string) error {
	if err := os.Remove(s.path(jobID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}

func (s *DiskFileStore) path(jobID string) string {
	return filepath.Join(s.dataDir, jobID+".xlsx")
}
