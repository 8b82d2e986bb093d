package ocr

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const selectColumns = `id, document_file_id, proposal_id, draft_id, raw_text, structured_data, score, heuristics, created_at`

// Create inserts one result row.
func (r *PGRepo) Create(ctx context.Context, res Result) error {
	const query = `
INSERT INTO ocr_results (
    id,
    document_file_id,
    proposal_id,
    draft_id,
    raw_text,
    structured_data,
    score,
    heuristics,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if res.StructuredData.Fields == nil {
		res.StructuredData.Fields = map[string]string{}
	}
	data, err := json.Marshal(res.StructuredData)
	if err != nil {
		return fmt.Errorf("marshal structured data: %w", err)
	}
	heuristics, err := json.Marshal(res.Heuristics)
	if err != nil {
		return fmt.Errorf("marshal heuristics: %w", err)
	}

	_, err = r.DB.ExecContext(
		ctx,
		query,
		res.ID,
		res.DocumentFileID,
		nullString(res.ProposalID),
		nullString(res.DraftID),
		res.RawText,
		data,
		res.Score,
		heuristics,
		res.CreatedAt,
	)
	return err
}

// ListByProposal returns results for a proposal, newest first.
func (r *PGRepo) ListByProposal(ctx context.Context, proposalID string, limit, offset int) ([]Result, error) {
	query := `SELECT ` + selectColumns + `
FROM ocr_results
WHERE proposal_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`
	return r.query(ctx, query, proposalID, pageLimit(limit), max(offset, 0))
}

// ListByDraft returns results for a draft, newest first.
func (r *PGRepo) ListByDraft(ctx context.Context, draftID string, limit, offset int) ([]Result, error) {
	query := `SELECT ` + selectColumns + `
FROM ocr_results
WHERE draft_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`
	return r.query(ctx, query, draftID, pageLimit(limit), max(offset, 0))
}

// LatestForDocument returns the newest result for a document file.
func (r *PGRepo) LatestForDocument(ctx context.Context, documentFileID string) (Result, error) {
	query := `SELECT ` + selectColumns + `
FROM ocr_results
WHERE document_file_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1`
	rows, err := r.query(ctx, query, documentFileID)
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{}, ErrNotFound
	}
	return rows[0], nil
}

func (r *PGRepo) query(ctx context.Context, query string, args ...any) ([]Result, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Result{}
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanResult(rows *sql.Rows) (Result, error) {
	var res Result
	var proposalID, draftID sql.NullString
	var data, heuristics []byte
	if err := rows.Scan(
		&res.ID,
		&res.DocumentFileID,
		&proposalID,
		&draftID,
		&res.RawText,
		&data,
		&res.Score,
		&heuristics,
		&res.CreatedAt,
	); err != nil {
		return Result{}, err
	}
	res.ProposalID = proposalID.String
	res.DraftID = draftID.String
	if len(data) > 0 {
		if err := json.Unmarshal(data, &res.StructuredData); err != nil {
			return Result{}, fmt.Errorf("decode structured data: %w", err)
		}
	}
	if len(heuristics) > 0 {
		if err := json.Unmarshal(heuristics, &res.Heuristics); err != nil {
			return Result{}, fmt.Errorf("decode heuristics: %w", err)
		}
	}
	return res, nil
}

func pageLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var (
	_ Repo = (*PGRepo)(nil)
	_ Repo = (*MemoryRepo)(nil)
)
