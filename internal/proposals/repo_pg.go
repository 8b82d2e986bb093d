package proposals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r *PGRepo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// GetByID fetches a proposal by ID.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Proposal, error) {
	const query = `
SELECT id, person_id, status, status_reason, created_at, updated_at
FROM proposals
WHERE id = $1`
	var p Proposal
	var status string
	var reason sql.NullString
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.PersonID, &status, &reason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Proposal{}, ErrNotFound
		}
		return Proposal{}, err
	}
	p.Status = Status(status)
	p.StatusReason = reason.String
	return p, nil
}

// GetPerson fetches the person attached to a proposal.
func (r *PGRepo) GetPerson(ctx context.Context, proposalID string) (Person, error) {
	const query = `
SELECT pe.id, pe.full_name, pe.cpf_hash
FROM proposals pr
JOIN people pe ON pe.id = pr.person_id
WHERE pr.id = $1`
	var person Person
	err := r.DB.QueryRowContext(ctx, query, proposalID).Scan(&person.ID, &person.FullName, &person.CPFHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Person{}, ErrPersonNotFound
		}
		return Person{}, err
	}
	return person, nil
}

// TransitionStatus runs the guarded update and the history insert in one
// transaction. Concurrent callers race on the row lock; only one applies.
func (r *PGRepo) TransitionStatus(ctx context.Context, t Transition) (bool, error) {
	if len(t.From) == 0 {
		return false, fmt.Errorf("transition requires at least one source status")
	}

	args := []any{t.ProposalID, string(t.To), t.Reason, r.now()}
	placeholders := make([]string, 0, len(t.From))
	for _, s := range t.From {
		args = append(args, string(s))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	query := `
WITH prev AS (
    SELECT id, status FROM proposals WHERE id = $1 FOR UPDATE
)
UPDATE proposals p
SET status = $2, status_reason = $3, updated_at = $4
FROM prev
WHERE p.id = prev.id AND prev.status IN (` + strings.Join(placeholders, ", ") + `)
RETURNING prev.status`

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var from string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	const history = `
INSERT INTO proposal_status_history (id, proposal_id, from_status, to_status, reason, request_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.ExecContext(ctx, history, uuid.NewString(), t.ProposalID, from, string(t.To), t.Reason, t.RequestID, r.now()); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
