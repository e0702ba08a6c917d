package ops

import (
	"context"
	stderrors "errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/claimdesk/internal/blob"
	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/db"
	"github.com/hpungsan/claimdesk/internal/errors"
)

// UploadFileInput contains parameters for the UploadFile operation.
type UploadFileInput struct {
	ClaimID  int64
	Filename string    // required
	MimeType string    // optional; detected from extension, then content
	Content  io.Reader // required
}

// UploadFile stores file bytes in blob storage and records the file.
func UploadFile(ctx context.Context, d *Deps, input UploadFileInput) (*claim.File, error) {
	if err := requireID("claim_id", input.ClaimID); err != nil {
		return nil, err
	}
	filename, err := cleanFilename(input.Filename)
	if err != nil {
		return nil, err
	}
	if input.Content == nil {
		return nil, errors.NewInvalidRequest("file content is required")
	}
	if _, err := db.GetClaim(d.DB, input.ClaimID); err != nil {
		return nil, err
	}

	// Read one byte past the limit to detect oversize uploads
	limit := d.Cfg.MaxUploadBytes
	data, err := io.ReadAll(io.LimitReader(input.Content, limit+1))
	if err != nil {
		return nil, errors.NewInvalidRequest("failed to read upload: " + err.Error())
	}
	if int64(len(data)) > limit {
		return nil, errors.NewPayloadTooLarge(limit)
	}

	mimeType := detectMimeType(filename, input.MimeType, data)
	key := blob.NewKey(input.ClaimID, filename)
	if err := d.Blobs.Put(ctx, key, data, mimeType); err != nil {
		return nil, storageError(err)
	}

	f := &claim.File{
		ClaimID:     input.ClaimID,
		Filename:    filename,
		MimeType:    mimeType,
		SizeBytes:   int64(len(data)),
		StoragePath: key,
		CreatedAt:   time.Now().Unix(),
	}
	if err := db.InsertFile(d.DB, f); err != nil {
		d.deleteBlob(ctx, key)
		return nil, err
	}

	d.Logger.Info("file uploaded", "claim_id", f.ClaimID, "file_id", f.ID, "mime_type", f.MimeType, "size_bytes", f.SizeBytes)
	return f, nil
}

// cleanFilename strips any directory part, from either path separator,
// leaving the bare name stored for a file.
func cleanFilename(name string) (string, error) {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", errors.NewInvalidRequest("filename is required")
	}
	return name, nil
}

// ListFiles returns a claim's files in upload order.
func ListFiles(_ context.Context, d *Deps, claimID int64) ([]*claim.File, error) {
	if err := requireID("claim_id", claimID); err != nil {
		return nil, err
	}
	if _, err := db.GetClaim(d.DB, claimID); err != nil {
		return nil, err
	}
	return db.ListFiles(d.DB, claimID)
}

// GetFile returns a file's metadata.
func GetFile(_ context.Context, d *Deps, claimID, fileID int64) (*claim.File, error) {
	if err := requireID("file_id", fileID); err != nil {
		return nil, err
	}
	return db.GetFile(d.DB, claimID, fileID)
}

// ReadFile returns a file's metadata and bytes.
func ReadFile(ctx context.Context, d *Deps, claimID, fileID int64) (*claim.File, []byte, error) {
	f, err := GetFile(ctx, d, claimID, fileID)
	if err != nil {
		return nil, nil, err
	}
	data, err := d.Blobs.Get(ctx, f.StoragePath)
	if stderrors.Is(err, blob.ErrNotFound) {
		return nil, nil, errors.NewNotFound("file content", f.Filename)
	}
	if err != nil {
		return nil, nil, storageError(err)
	}
	return f, data, nil
}

// DeleteFile removes a file's bytes (best effort) and then its record.
func DeleteFile(ctx context.Context, d *Deps, claimID, fileID int64) error {
	f, err := GetFile(ctx, d, claimID, fileID)
	if err != nil {
		return err
	}
	d.deleteBlob(ctx, f.StoragePath)
	if err := db.DeleteFile(d.DB, claimID, fileID); err != nil {
		return err
	}
	d.Logger.Info("file deleted", "claim_id", claimID, "file_id", fileID)
	return nil
}

// deleteBlob removes an object, logging instead of failing.
func (d *Deps) deleteBlob(ctx context.Context, key string) {
	if err := d.Blobs.Delete(ctx, key); err != nil && !stderrors.Is(err, blob.ErrNotFound) {
		d.Logger.Warn("blob delete failed", "key", key, "error", err)
	}
}

// storageError keeps DeskErrors (STORAGE_UNAVAILABLE from the retry wrapper)
// and maps anything else to STORAGE_UNAVAILABLE.
func storageError(err error) error {
	var dErr *errors.DeskError
	if stderrors.As(err, &dErr) {
		return dErr
	}
	return errors.NewStorageUnavailable(err)
}

func detectMimeType(filename, declared string, data []byte) string {
	if declared = strings.TrimSpace(declared); declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
