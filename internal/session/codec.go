// Package session issues and verifies signed, expiring session tokens that
// carry a tenant's scoped claims. Tokens are HS256 JWTs and are never stored
// server-side; expiry is the only way a token stops being valid.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of a session token.
const DefaultTTL = 8 * time.Hour

// Verification failures. All of them mean "unauthorized" to a caller; they
// stay distinct so the reason can be logged.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrSignature        = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrIncompleteClaims = errors.New("token claims incomplete")
	// ErrNoModel is returned together with otherwise valid claims that carry no model id.
	ErrNoModel = errors.New("token has no model id")
)

// Claims is the scoped identity carried by a token.
type Claims struct {
	TenantID    string
	CompanyName string
	ModelID     string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type jwtClaims struct {
	jwt.RegisteredClaims
	CompanyName string `json:"companyName,omitempty"`
	ModelID     string `json:"modelId,omitempty"`
}

// Codec signs and verifies tokens with a process-wide secret.
type Codec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec constructs a Codec. A non-positive ttl means DefaultTTL.
func NewCodec(secret []byte, ttl time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("session: empty signing secret")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Codec{key: append([]byte(nil), secret...), ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// TTL returns the configured token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs claims with a fresh issued-at and expiry; any IssuedAt/ExpiresAt in cl are ignored.
func (c *Codec) Issue(cl Claims) (string, time.Time, error) {
	if cl.TenantID == "" {
		return "", time.Time{}, fmt.Errorf("issue: %w", ErrIncompleteClaims)
	}
	now := c.now()
	exp := now.Add(c.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cl.TenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		CompanyName: cl.CompanyName,
		ModelID:     cl.ModelID,
	})
	signed, err := tok.SignedString(c.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature, expiry and claim completeness.
//
// A token without a model id yields its claims together with ErrNoModel so
// the caller can answer with guidance rather than a bare rejection.
func (c *Codec) Verify(token string) (Claims, error) {
	var jc jwtClaims
	_, err := jwt.ParseWithClaims(token, &jc, func(t *jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return Claims{}, ErrSignature
		case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
			return Claims{}, ErrIncompleteClaims
		default:
			return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if jc.Subject == "" {
		return Claims{}, ErrIncompleteClaims
	}

	cl := Claims{
		TenantID:    jc.Subject,
		CompanyName: jc.CompanyName,
		ModelID:     jc.ModelID,
		ExpiresAt:   jc.ExpiresAt.Time,
	}
	if jc.IssuedAt != nil {
		cl.IssuedAt = jc.IssuedAt.Time
	}
	if cl.ModelID == "" {
		return cl, ErrNoModel
	}
	return cl, nil
}
