// Package store manages job artifacts on disk: the uploaded source PDFs
// and the translated outputs.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

// Artifacts stores per-job files. Uploads land in uploadDir as <id>.pdf,
// outputs in outputDir as <id>.translated.pdf.
type Artifacts struct {
	uploadDir string
	outputDir string
}

// NewArtifacts creates the directories and returns the store.
func NewArtifacts(uploadDir, outputDir string) (*Artifacts, error) {
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, types.NewAppError(types.ErrStorage, "failed to create artifact directory", err)
		}
	}
	return &Artifacts{uploadDir: uploadDir, outputDir: outputDir}, nil
}

// UploadPath returns the path of a job's source PDF.
func (a *Artifacts) UploadPath(jobID string) string {
	return filepath.Join(a.uploadDir, jobID+".pdf")
}

// OutputPath returns the path of a job's translated PDF.
func (a *Artifacts) OutputPath(jobID string) string {
	return filepath.Join(a.outputDir, jobID+".translated.pdf")
}

// SaveUpload streams the uploaded PDF to disk, enforcing maxBytes. The
// file is written to a temp name and renamed so a crash never leaves a
// half-written upload under the job id.
func (a *Artifacts) SaveUpload(jobID string, r io.Reader, maxBytes int64) (string, int64, error) {
	dst := a.UploadPath(jobID)
	tmp := dst + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, types.NewAppError(types.ErrStorage, "failed to create upload file", err)
	}

	limited := r
	if maxBytes > 0 {
		limited = io.LimitReader(r, maxBytes+1)
	}
	size, err := io.Copy(f, limited)
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmp)
		return "", 0, types.NewAppError(types.ErrStorage, "failed to write upload", err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return "", 0, types.NewAppError(types.ErrStorage, "failed to flush upload", closeErr)
	}
	if maxBytes > 0 && size > maxBytes {
		os.Remove(tmp)
		return "", 0, types.NewAppErrorWithDetails(types.ErrUnsupportedDocument,
			"file exceeds size limit", fmt.Sprintf("limit %d bytes", maxBytes), nil)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", 0, types.NewAppError(types.ErrStorage, "failed to finalize upload", err)
	}
	return dst, size, nil
}

// SaveOutput writes the translated PDF for a job.
func (a *Artifacts) SaveOutput(jobID string, data []byte) (string, error) {
	dst := a.OutputPath(jobID)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", types.NewAppError(types.ErrStorage, "failed to write output", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", types.NewAppError(types.ErrStorage, "failed to finalize output", err)
	}
	return dst, nil
}

// OpenOutput opens a job's translated PDF for reading. A missing file
// maps to ErrNotFound.
func (a *Artifacts) OpenOutput(jobID string) (*os.File, error) {
	f, err := os.Open(a.OutputPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppError(types.ErrNotFound, "output not found", err)
		}
		return nil, types.NewAppError(types.ErrStorage, "failed to open output", err)
	}
	return f, nil
}

// Remove deletes both artifacts of a job. Missing files are not errors.
func (a *Artifacts) Remove(jobID string) error {
	var firstErr error
	for _, path := range []string{a.UploadPath(jobID), a.OutputPath(jobID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = types.NewAppError(types.ErrStorage, "failed to remove artifact", err)
			}
		}
	}
	if firstErr == nil {
		logger.Debug("artifacts removed", logger.String("jobID", jobID))
	}
	return firstErr
}
