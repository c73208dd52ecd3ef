// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Account is a tenant (company) using the system.
//
// Email is unique and compared case-sensitively. PwdHash is a PHC-encoded
// argon2id string and is never serialized. An empty ModelID marks a legacy
// account created before model binding existed.
type Account struct {
	ID          uuid.UUID `json:"id"`
	CompanyName string    `json:"companyName"`
	Email       string    `json:"email"`
	PwdHash     string    `json:"-"`
	ModelID     string    `json:"modelId"`
	Verified    bool      `json:"isVerified"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasModel reports whether the account is bound to a trained model.
func (a *Account) HasModel() bool { return a.ModelID != "" }

// AccountUpdate is a partial change; nil fields are left untouched.
type AccountUpdate struct {
	CompanyName *string
	Email       *string
	PwdHash     *string
}

// Empty reports whether the update changes nothing.
func (u AccountUpdate) Empty() bool {
	return u.CompanyName == nil && u.Email == nil && u.PwdHash == nil
}

// Identity is the verified, scoped caller extracted from a session token.
type Identity struct {
	TenantID    string
	CompanyName string
	ModelID     string
	ExpiresAt   time.Time
}

// TrainResult is what the inference backend reports after training on a dataset.
type TrainResult struct {
	ModelID  string  `json:"model_id"`
	Accuracy float64 `json:"accuracy"`
}
