package drafts

import (
	"context"
	"database/sql"
	"errors"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a draft.
func (r *PGRepo) Create(ctx context.Context, d Draft) error {
	const query = `
INSERT INTO drafts (id, full_name, cpf, promoted_proposal_id, created_at)
VALUES ($1, $2, $3, $4, $5)`
	var promoted sql.NullString
	if d.PromotedProposalID != "" {
		promoted = sql.NullString{String: d.PromotedProposalID, Valid: true}
	}
	_, err := r.DB.ExecContext(ctx, query, d.ID, d.FullName, d.CPF, promoted, d.CreatedAt)
	return err
}

// GetByID fetches a draft by ID.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Draft, error) {
	const query = `
SELECT id, full_name, cpf, promoted_proposal_id, created_at
FROM drafts
WHERE id = $1`
	var d Draft
	var promoted sql.NullString
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.FullName, &d.CPF, &promoted, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Draft{}, ErrNotFound
		}
		return Draft{}, err
	}
	d.PromotedProposalID = promoted.String
	return d, nil
}
