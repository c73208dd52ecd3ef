package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/churnguard/internal/errs"
	"github.com/and161185/churnguard/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

const accountColumns = `id, company_name, email, pwd_hash, COALESCE(model_id, ''), verified, created_at, updated_at`

// Create inserts a new account row. An empty model id is stored as NULL.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (id, company_name, email, pwd_hash, model_id, verified)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
RETURNING created_at, updated_at`
	err := r.db.Pool.QueryRow(ctx, q, a.ID, a.CompanyName, a.Email, a.PwdHash, a.ModelID, a.Verified).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// GetByID selects an account by ID.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByEmail selects an account by email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE email=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, email))
}

// Update applies the non-nil fields of upd in a single statement.
func (r *AccountRepo) Update(ctx context.Context, id uuid.UUID, upd model.AccountUpdate) error {
	const q = `
UPDATE accounts
SET company_name = COALESCE($2, company_name),
    email        = COALESCE($3, email),
    pwd_hash     = COALESCE($4, pwd_hash),
    updated_at   = now()
WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id, upd.CompanyName, upd.Email, upd.PwdHash)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *AccountRepo) scanOne(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.CompanyName, &a.Email, &a.PwdHash, &a.ModelID, &a.Verified, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	return &a, nil
}
