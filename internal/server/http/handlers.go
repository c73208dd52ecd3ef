package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/and161185/churnguard/internal/errs"
	"github.com/and161185/churnguard/internal/inference"
	"github.com/and161185/churnguard/internal/model"
	"github.com/and161185/churnguard/internal/service"
)

// IdempotencyHeader lets a client retry a signup without training twice.
const IdempotencyHeader = "Idempotency-Key"

const maxJSONBody = 1 << 20

// Handler serves the client-facing API.
type Handler struct {
	auth            service.AuthService
	gw              service.Gateway
	log             *zap.Logger
	maxDatasetBytes int64
}

type signupResponse struct {
	Message  string  `json:"message"`
	Accuracy float64 `json:"accuracy"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string `json:"token"`
	CompanyName string `json:"companyName"`
}

type updateRequest struct {
	CompanyName string `json:"companyName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type verifyRequest struct {
	Email string `json:"email"`
}

type retrainRequest struct {
	ModelType string `json:"modelType"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// Signup accepts multipart form fields companyName, email, password and file dataset.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxDatasetBytes+maxJSONBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, msgDatasetTooLarge, nil)
			return
		}
		writeError(w, http.StatusBadRequest, msgDatasetRequired, nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := r.FormFile("dataset")
	if err != nil {
		writeError(w, http.StatusBadRequest, msgDatasetRequired, nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.maxDatasetBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgDatasetRequired, nil)
		return
	}
	if int64(len(data)) > h.maxDatasetBytes {
		writeError(w, http.StatusRequestEntityTooLarge, msgDatasetTooLarge, nil)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, msgDatasetRequired, nil)
		return
	}

	res, err := h.auth.Signup(r.Context(), service.SignupInput{
		CompanyName:    r.FormValue("companyName"),
		Email:          r.FormValue("email"),
		Password:       r.FormValue("password"),
		DatasetName:    hdr.Filename,
		Dataset:        data,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		var be *inference.BackendError
		switch {
		case errors.Is(err, errs.ErrValidation):
			writeError(w, http.StatusBadRequest, msgSignupFields, nil)
		case errors.Is(err, errs.ErrAlreadyExists):
			writeError(w, http.StatusConflict, msgEmailInUse, nil)
		case errors.As(err, &be):
			writeError(w, http.StatusBadGateway, msgSignupFailed, backendDetail(be))
		default:
			h.log.Error("signup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, msgSignupFailed, nil)
		}
		return
	}
	writeJSON(w, http.StatusCreated, signupResponse{Message: msgSignupOK, Accuracy: res.Accuracy})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password, r.RemoteAddr)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrValidation):
			writeError(w, http.StatusBadRequest, msgLoginFields, nil)
		case errors.Is(err, errs.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, msgBadCredentials, nil)
		case errors.Is(err, errs.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, msgRateLimited, nil)
		case errors.Is(err, errs.ErrNoModel):
			writeError(w, http.StatusBadRequest, msgOutdatedAccount, nil)
		default:
			h.log.Error("login failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, msgLoginFailed, nil)
		}
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, CompanyName: res.CompanyName})
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	acc, err := h.auth.GetAccount(r.Context(), id.TenantID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgUserNotFound, nil)
			return
		}
		h.log.Error("get account failed", zap.String("tenant_id", id.TenantID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgFetchUserFailed, nil)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	var req updateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := h.auth.UpdateAccount(r.Context(), id.TenantID, service.UpdateInput{
		CompanyName: req.CompanyName,
		Email:       req.Email,
		Password:    req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrAlreadyExists):
			writeError(w, http.StatusConflict, msgEmailInUse, nil)
		case errors.Is(err, errs.ErrNotFound):
			writeError(w, http.StatusNotFound, msgUserNotFound, nil)
		default:
			h.log.Error("update account failed", zap.String("tenant_id", id.TenantID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, msgUpdateFailed, nil)
		}
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msgUpdateOK})
}

func (h *Handler) StartVerification(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.auth.StartVerification(r.Context(), id.TenantID, req.Email)
	if err != nil {
		if errors.Is(err, errs.ErrValidation) {
			writeError(w, http.StatusBadRequest, msgVerifyEmailReq, nil)
			return
		}
		h.log.Error("start verification failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal, nil)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

type gatewayCall func(ctx context.Context, id model.Identity) (json.RawMessage, error)

// forward serves a model-scoped analytics route.
func (h *Handler) forward(call gatewayCall) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())
		raw, err := call(r.Context(), id)
		if err != nil {
			h.gatewayError(w, err)
			return
		}
		writeRaw(w, http.StatusOK, raw)
	}
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgBadBody, nil)
		return
	}
	raw, err := h.gw.Predict(r.Context(), id, body)
	if err != nil {
		h.gatewayError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

// Retrain accepts an optional {"modelType": ...} body.
func (h *Handler) Retrain(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	var req retrainRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgBadBody, nil)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, msgBadBody, nil)
			return
		}
	}
	raw, err := h.gw.Retrain(r.Context(), id, req.ModelType)
	if err != nil {
		h.gatewayError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (h *Handler) gatewayError(w http.ResponseWriter, err error) {
	var ge *service.GatewayError
	switch {
	case errors.Is(err, errs.ErrNoModelBound):
		writeError(w, http.StatusBadRequest, msgMissingModel, nil)
	case errors.Is(err, errs.ErrValidation):
		writeError(w, http.StatusBadRequest, msgBadBody, nil)
	case errors.As(err, &ge):
		writeError(w, http.StatusBadGateway, ge.Message, ge.Detail)
	default:
		h.log.Error("gateway call failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgInternal, nil)
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, msgBadBody, nil)
		return false
	}
	return true
}

func backendDetail(be *inference.BackendError) any {
	if len(be.Body) > 0 && json.Valid(be.Body) {
		return json.RawMessage(be.Body)
	}
	return be.Error()
}
