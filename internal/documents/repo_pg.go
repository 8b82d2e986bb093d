package documents

import (
	"context"
	"database/sql"
	"errors"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new file record.
func (r *PGRepo) Create(ctx context.Context, f DocumentFile) error {
	const query = `
INSERT INTO document_files (
    id,
    proposal_id,
    draft_id,
    kind,
    file_name,
    storage_key,
    content_type,
    size_bytes,
    checksum,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.DB.ExecContext(
		ctx,
		query,
		f.ID,
		nullString(f.ProposalID),
		nullString(f.DraftID),
		string(f.Kind),
		f.FileName,
		f.StorageKey,
		f.ContentType,
		f.SizeBytes,
		nullString(f.Checksum),
		f.CreatedAt,
	)
	return err
}

// GetByID fetches a file by ID.
func (r *PGRepo) GetByID(ctx context.Context, id string) (DocumentFile, error) {
	const query = `
SELECT id, proposal_id, draft_id, kind, file_name, storage_key, content_type, size_bytes, checksum, created_at
FROM document_files
WHERE id = $1
LIMIT 1`
	var f DocumentFile
	var proposalID, draftID, checksum sql.NullString
	var kind string
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&f.ID,
		&proposalID,
		&draftID,
		&kind,
		&f.FileName,
		&f.StorageKey,
		&f.ContentType,
		&f.SizeBytes,
		&checksum,
		&f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DocumentFile{}, ErrNotFound
		}
		return DocumentFile{}, err
	}
	f.Kind = Kind(kind)
	f.ProposalID = proposalID.String
	f.DraftID = draftID.String
	f.Checksum = checksum.String
	return f, nil
}

// ReassignToProposal moves every file of a draft to the proposal.
func (r *PGRepo) ReassignToProposal(ctx context.Context, draftID, proposalID string) (int64, error) {
	const query = `
UPDATE document_files
SET proposal_id = $2, draft_id = NULL
WHERE draft_id = $1`
	res, err := r.DB.ExecContext(ctx, query, draftID, proposalID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
