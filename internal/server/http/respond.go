package httpserver

import (
	"encoding/json"
	"net/http"
)

// Client-facing messages.
const (
	msgDatasetRequired  = "Dataset file is required."
	msgDatasetTooLarge  = "Dataset file is too large."
	msgSignupFields     = "companyName, email and password are required."
	msgSignupOK         = "User registered and model trained!"
	msgSignupFailed     = "An error occurred during signup."
	msgEmailInUse       = "This email is already in use."
	msgBadBody          = "Invalid request body."
	msgLoginFields      = "Email and password are required."
	msgBadCredentials   = "Invalid credentials"
	msgRateLimited      = "Too many login attempts. Try again later."
	msgOutdatedAccount  = "Your account is outdated and does not have a model associated with it. Please sign up again to create a new model."
	msgLoginFailed      = "An error occurred during login."
	msgNoToken          = "Access denied. No token provided."
	msgInvalidToken     = "Invalid or expired token."
	msgMissingModel     = "Invalid token: modelId is missing. Please log out and log in again."
	msgUserNotFound     = "User not found."
	msgFetchUserFailed  = "Failed to fetch user details."
	msgUpdateOK         = "Account details updated successfully!"
	msgUpdateFailed     = "Failed to update user details."
	msgVerifyEmailReq   = "Verification email is required."
	msgInternal         = "Internal server error."
	msgNotFound         = "Not found."
	msgMethodNotAllowed = "Method not allowed."
)

// errorBody is the uniform error shape: {"error": ..., "detail": ...}.
type errorBody struct {
	Error  string `json:"error"`
	Detail any    `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func writeError(w http.ResponseWriter, status int, msg string, detail any) {
	writeJSON(w, status, errorBody{Error: msg, Detail: detail})
}
