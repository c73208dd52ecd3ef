// Package service contains application services for tenant accounts and
// model-scoped inference.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/churnguard/internal/archive"
	pkgcrypto "github.com/and161185/churnguard/internal/crypto"
	"github.com/and161185/churnguard/internal/errs"
	"github.com/and161185/churnguard/internal/idempotency"
	"github.com/and161185/churnguard/internal/limiter"
	"github.com/and161185/churnguard/internal/model"
	"github.com/and161185/churnguard/internal/repository"
	"github.com/and161185/churnguard/internal/session"
)

// AuthService defines tenant signup, login and account operations.
type AuthService interface {
	// Signup trains a model on the tenant's dataset and creates the account bound to it.
	Signup(ctx context.Context, in SignupInput) (SignupResult, error)
	// Login applies rate-limiting, authenticates and issues a session token.
	Login(ctx context.Context, email, password, remoteAddr string) (LoginResult, error)
	GetAccount(ctx context.Context, tenantID string) (*model.Account, error)
	UpdateAccount(ctx context.Context, tenantID string, in UpdateInput) error
	// StartVerification simulates sending a verification link and returns the user-facing message.
	StartVerification(ctx context.Context, tenantID, email string) (string, error)
}

// Trainer trains a model on an uploaded dataset. Implemented by *inference.Client.
type Trainer interface {
	Train(ctx context.Context, filename string, dataset []byte) (model.TrainResult, error)
}

type SignupInput struct {
	CompanyName    string
	Email          string
	Password       string
	DatasetName    string
	Dataset        []byte
	IdempotencyKey string
}

type SignupResult struct {
	AccountID uuid.UUID
	ModelID   string
	Accuracy  float64
}

type LoginResult struct {
	Token       string
	CompanyName string
	ExpiresAt   time.Time
}

// UpdateInput is a partial account change; empty fields are left untouched.
type UpdateInput struct {
	CompanyName string
	Email       string
	Password    string
}

// AuthDeps are the collaborators of AuthServiceImpl. Limiter, Idempotency,
// Archive and Log are optional.
type AuthDeps struct {
	Accounts    repository.AccountRepository
	Hasher      *pkgcrypto.Hasher
	Codec       *session.Codec
	Trainer     Trainer
	Limiter     limiter.Limiter
	Idempotency idempotency.Store
	Archive     archive.Archiver
	Log         *zap.Logger
}

type AuthServiceImpl struct {
	accounts  repository.AccountRepository
	hasher    *pkgcrypto.Hasher
	codec     *session.Codec
	trainer   Trainer
	lim       limiter.Limiter
	idem      idempotency.Store
	archive   archive.Archiver
	log       *zap.Logger
	dummyHash string
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(d AuthDeps) (*AuthServiceImpl, error) {
	if d.Accounts == nil || d.Hasher == nil || d.Codec == nil || d.Trainer == nil {
		return nil, errors.New("auth service: accounts, hasher, codec and trainer are required")
	}
	s := &AuthServiceImpl{
		accounts: d.Accounts,
		hasher:   d.Hasher,
		codec:    d.Codec,
		trainer:  d.Trainer,
		lim:      d.Limiter,
		idem:     d.Idempotency,
		archive:  d.Archive,
		log:      d.Log,
	}
	if s.lim == nil {
		s.lim = limiter.Noop{}
	}
	if s.idem == nil {
		s.idem = idempotency.Noop{}
	}
	if s.archive == nil {
		s.archive = archive.Noop{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	// Verified against on unknown emails so both login failure paths cost the same.
	dummy, err := s.hasher.Hash("churnguard-no-such-account")
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Signup validates input, trains a model and creates an account bound to it.
//
// With an idempotency key, a retry after a failure past training reuses the
// trained model instead of training again, and a retry after success returns
// the original result.
func (s *AuthServiceImpl) Signup(ctx context.Context, in SignupInput) (SignupResult, error) {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.Email = strings.TrimSpace(in.Email)
	if in.CompanyName == "" || in.Email == "" || in.Password == "" {
		return SignupResult{}, fmt.Errorf("%w: companyName, email and password are required", errs.ErrValidation)
	}
	if len(in.Dataset) == 0 {
		return SignupResult{}, fmt.Errorf("%w: dataset is required", errs.ErrValidation)
	}
	log := s.log.With(zap.String("email", in.Email))

	var rec *idempotency.Record
	if in.IdempotencyKey != "" {
		r, err := s.idem.Get(ctx, in.IdempotencyKey)
		if err != nil {
			log.Warn("idempotency lookup failed", zap.Error(err))
		}
		rec = r
	}
	if rec != nil && rec.Email != in.Email {
		return SignupResult{}, fmt.Errorf("%w: idempotency key was used for another email", errs.ErrValidation)
	}
	if rec != nil && rec.Done() {
		id, err := uuid.FromString(rec.AccountID)
		if err != nil {
			return SignupResult{}, fmt.Errorf("idempotency record: %w", err)
		}
		return SignupResult{AccountID: id, ModelID: rec.ModelID, Accuracy: rec.Accuracy}, nil
	}

	if rec == nil || rec.ModelID == "" {
		switch _, err := s.accounts.GetByEmail(ctx, in.Email); {
		case err == nil:
			return SignupResult{}, errs.ErrAlreadyExists
		case !errors.Is(err, errs.ErrNotFound):
			return SignupResult{}, fmt.Errorf("lookup email: %w", err)
		}

		res, err := s.trainer.Train(ctx, in.DatasetName, in.Dataset)
		if err != nil {
			return SignupResult{}, fmt.Errorf("train: %w", err)
		}
		rec = &idempotency.Record{Email: in.Email, ModelID: res.ModelID, Accuracy: res.Accuracy}
		s.remember(ctx, in.IdempotencyKey, *rec)
	} else {
		log.Info("reusing trained model", zap.String("model_id", rec.ModelID))
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return SignupResult{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return SignupResult{}, err
	}
	acc := &model.Account{
		ID:          id,
		CompanyName: in.CompanyName,
		Email:       in.Email,
		PwdHash:     hash,
		ModelID:     rec.ModelID,
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			log.Warn("signup lost email race; trained model left unbound", zap.String("model_id", rec.ModelID))
			return SignupResult{}, err
		}
		return SignupResult{}, fmt.Errorf("create account: %w", err)
	}

	rec.AccountID = id.String()
	s.remember(ctx, in.IdempotencyKey, *rec)

	if key, err := s.archive.Archive(ctx, id.String(), rec.ModelID, in.DatasetName, in.Dataset); err != nil {
		log.Warn("dataset archive failed", zap.String("model_id", rec.ModelID), zap.Error(err))
	} else if key != "" {
		log.Debug("dataset archived", zap.String("key", key))
	}

	log.Info("tenant signed up", zap.String("tenant_id", id.String()), zap.String("model_id", rec.ModelID))
	return SignupResult{AccountID: id, ModelID: rec.ModelID, Accuracy: rec.Accuracy}, nil
}

func (s *AuthServiceImpl) remember(ctx context.Context, key string, rec idempotency.Record) {
	if key == "" {
		return
	}
	if err := s.idem.Put(ctx, key, rec); err != nil {
		s.log.Warn("idempotency record not saved", zap.String("model_id", rec.ModelID), zap.Error(err))
	}
}

// Login authenticates with rate limiting by (email, client address).
func (s *AuthServiceImpl) Login(ctx context.Context, email, password, remoteAddr string) (LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return LoginResult{}, fmt.Errorf("%w: email and password are required", errs.ErrValidation)
	}
	ipHash := limiter.HashIP(remoteAddr)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return LoginResult{}, fmt.Errorf("limiter: %w", err)
	}
	if !allowed {
		return LoginResult{}, errs.ErrRateLimited
	}

	acc, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, errs.ErrNotFound) {
		_, _ = s.hasher.Verify(password, s.dummyHash)
		return LoginResult{}, s.failure(ctx, email, ipHash)
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("lookup account: %w", err)
	}
	ok, err := s.hasher.Verify(password, acc.PwdHash)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return LoginResult{}, s.failure(ctx, email, ipHash)
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, email, ipHash)

	if !acc.HasModel() {
		return LoginResult{}, errs.ErrNoModel
	}

	token, exp, err := s.codec.Issue(session.Claims{
		TenantID:    acc.ID.String(),
		CompanyName: acc.CompanyName,
		ModelID:     acc.ModelID,
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	return LoginResult{Token: token, CompanyName: acc.CompanyName, ExpiresAt: exp}, nil
}

// failure records a failed attempt; once the threshold is reached the caller is rate-limited.
func (s *AuthServiceImpl) failure(ctx context.Context, email string, ipHash []byte) error {
	blocked, _, err := s.lim.Failure(ctx, email, ipHash)
	if err != nil {
		s.log.Warn("limiter failure not recorded", zap.Error(err))
	}
	if blocked {
		return errs.ErrRateLimited
	}
	return errs.ErrUnauthorized
}

func (s *AuthServiceImpl) GetAccount(ctx context.Context, tenantID string) (*model.Account, error) {
	id, err := uuid.FromString(tenantID)
	if err != nil {
		return nil, errs.ErrNotFound
	}
	return s.accounts.GetByID(ctx, id)
}

// UpdateAccount applies the non-empty fields of in. A password is rehashed;
// sessions issued before the change stay valid until they expire.
func (s *AuthServiceImpl) UpdateAccount(ctx context.Context, tenantID string, in UpdateInput) error {
	id, err := uuid.FromString(tenantID)
	if err != nil {
		return errs.ErrNotFound
	}
	var upd model.AccountUpdate
	if v := strings.TrimSpace(in.CompanyName); v != "" {
		upd.CompanyName = &v
	}
	if v := strings.TrimSpace(in.Email); v != "" {
		upd.Email = &v
	}
	if in.Password != "" {
		h, err := s.hasher.Hash(in.Password)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		upd.PwdHash = &h
	}
	if upd.Empty() {
		return nil
	}
	return s.accounts.Update(ctx, id, upd)
}

func (s *AuthServiceImpl) StartVerification(ctx context.Context, tenantID, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("%w: verification email is required", errs.ErrValidation)
	}
	// No mail transport yet; the link is only logged.
	s.log.Info("verification email requested", zap.String("tenant_id", tenantID), zap.String("email", email))
	return fmt.Sprintf("A verification link has been sent to %s. Please check your inbox.", email), nil
}
