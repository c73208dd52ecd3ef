package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/churnguard/internal/model"
	"github.com/and161185/churnguard/internal/session"
)

type ctxKey string

const identityKey ctxKey = "cg.identity"

// TokenVerifier checks a session token. Implemented by *session.Codec.
type TokenVerifier interface {
	Verify(token string) (session.Claims, error)
}

// WithIdentity stores the authenticated identity in context.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext fetches the identity stored by Authenticator.
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey).(model.Identity)
	return id, ok
}

// Authenticator admits requests carrying a valid "Authorization: Bearer <token>"
// and attaches the caller's identity to the request context.
func Authenticator(v TokenVerifier, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, msgNoToken, nil)
				return
			}
			cl, err := v.Verify(tok)
			switch {
			case errors.Is(err, session.ErrNoModel):
				log.Info("token without model id", zap.String("tenant_id", cl.TenantID))
				writeError(w, http.StatusBadRequest, msgMissingModel, nil)
				return
			case err != nil:
				log.Info("token rejected", zap.String("reason", err.Error()), zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, msgInvalidToken, nil)
				return
			}
			id := model.Identity{
				TenantID:    cl.TenantID,
				CompanyName: cl.CompanyName,
				ModelID:     cl.ModelID,
				ExpiresAt:   cl.ExpiresAt,
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(v[7:])
	return t, t != ""
}
