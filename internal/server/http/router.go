// Package httpserver exposes the ChurnGuard client API over HTTP.
package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/and161185/churnguard/internal/service"
)

// DefaultMaxDatasetBytes caps signup uploads when Deps leaves it unset.
const DefaultMaxDatasetBytes = 32 << 20

// Deps wires services into the router.
type Deps struct {
	Auth            service.AuthService
	Gateway         service.Gateway
	Verifier        TokenVerifier
	Log             *zap.Logger
	CORSOrigins     []string
	MaxDatasetBytes int64
}

// NewRouter builds the HTTP API.
//
// Routes:
//
//	POST /signup, POST /login, GET /healthz      public
//	GET /user, PUT /user/update,
//	POST /user/verify/start                      bearer token
//	POST /dashboard, /churn_factors, /segmentation,
//	     /performance, /predict, /retrain        bearer token bound to a model
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{auth: d.Auth, gw: d.Gateway, log: log, maxDatasetBytes: d.MaxDatasetBytes}
	if h.maxDatasetBytes <= 0 {
		h.maxDatasetBytes = DefaultMaxDatasetBytes
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog(log))
	r.Use(Recover(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader, RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, msgNotFound, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed, nil)
	})

	r.Get("/healthz", h.Healthz)
	r.Post("/signup", h.Signup)
	r.Post("/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(Authenticator(d.Verifier, log))

		r.Get("/user", h.GetUser)
		r.Put("/user/update", h.UpdateUser)
		r.Post("/user/verify/start", h.StartVerification)

		r.Post("/dashboard", h.forward(d.Gateway.Dashboard))
		r.Post("/churn_factors", h.forward(d.Gateway.ChurnFactors))
		r.Post("/segmentation", h.forward(d.Gateway.Segmentation))
		r.Post("/performance", h.forward(d.Gateway.Performance))
		r.Post("/predict", h.Predict)
		r.Post("/retrain", h.Retrain)
	})

	return r
}
