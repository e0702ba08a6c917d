package db

import (
	"database/sql"
	"strconv"

	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/errors"
)

const fileColumns = `id, claim_id, filename, mime_type, size_bytes, storage_path, revision, created_at`

// InsertFile stores a file record and sets f.ID. Revision starts at 1.
func InsertFile(q Querier, f *claim.File) error {
	if f.Revision == 0 {
		f.Revision = 1
	}
	result, err := q.Exec(`
		INSERT INTO files (claim_id, filename, mime_type, size_bytes, storage_path, revision, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.ClaimID, f.Filename, f.MimeType, f.SizeBytes, f.StoragePath, f.Revision, f.CreatedAt)
	if err != nil {
		return dbError(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return dbError(err)
	}
	f.ID = id
	return nil
}

// GetFile retrieves a file by id within a claim.
func GetFile(q Querier, claimID, fileID int64) (*claim.File, error) {
	row := q.QueryRow(`SELECT `+fileColumns+` FROM files WHERE id = ? AND claim_id = ?`, fileID, claimID)

	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("file", strconv.FormatInt(fileID, 10))
	}
	if err != nil {
		return nil, dbError(err)
	}
	return f, nil
}

// FindFileByName returns the oldest file in a claim with the given filename,
// or nil if there is none.
func FindFileByName(q Querier, claimID int64, filename string) (*claim.File, error) {
	row := q.QueryRow(`
		SELECT `+fileColumns+` FROM files
		WHERE claim_id = ? AND filename = ?
		ORDER BY id LIMIT 1
	`, claimID, filename)

	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err)
	}
	return f, nil
}

// ListFiles returns a claim's files in upload order.
func ListFiles(q Querier, claimID int64) ([]*claim.File, error) {
	rows, err := q.Query(`SELECT `+fileColumns+` FROM files WHERE claim_id = ? ORDER BY id`, claimID)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	files := []*claim.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, dbError(err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return files, nil
}

// DeleteFile removes a file record.
func DeleteFile(q Querier, claimID, fileID int64) error {
	result, err := q.Exec(`DELETE FROM files WHERE id = ? AND claim_id = ?`, fileID, claimID)
	if err != nil {
		return dbError(err)
	}
	return checkAffected(result, errors.NewNotFound("file", strconv.FormatInt(fileID, 10)))
}

// ReplaceFileContent points a file at new content if its revision is still
// expectedRevision, bumping the revision. Returns ErrStaleTarget otherwise.
func ReplaceFileContent(q Querier, fileID, expectedRevision int64, storagePath string, sizeBytes int64) (int64, error) {
	result, err := q.Exec(`
		UPDATE files
		SET storage_path = ?, size_bytes = ?, revision = revision + 1
		WHERE id = ? AND revision = ?
	`, storagePath, sizeBytes, fileID, expectedRevision)
	if err != nil {
		return 0, dbError(err)
	}
	if err := checkAffected(result, ErrStaleTarget); err != nil {
		return 0, err
	}
	return expectedRevision + 1, nil
}

func scanFile(row scanner) (*claim.File, error) {
	var f claim.File
	err := row.Scan(&f.ID, &f.ClaimID, &f.Filename, &f.MimeType, &f.SizeBytes, &f.StoragePath, &f.Revision, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
