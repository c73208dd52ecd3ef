// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/churnguard/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AccountRepository is the durable credential store for tenant accounts.
//
// Email uniqueness is enforced by the store itself: Create and Update return
// errs.ErrAlreadyExists on conflict, never a check-then-write race.
type AccountRepository interface {
	// Create inserts a new account.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByEmail loads an account by email (exact match).
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	// Update applies a partial change; nil fields are left untouched.
	Update(ctx context.Context, id uuid.UUID, upd model.AccountUpdate) error
}
