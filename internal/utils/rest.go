package utils

import (
	"encoding/json"
	"net/http"
	"time"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// ErrorResponse is the envelope of every failed request.
type ErrorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path,omitempty"`
}

// SuccessResponse is the envelope of every successful request.
type SuccessResponse struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{
		Status:    statusError,
		Error:     message,
		Timestamp: timestamp(),
	})
}

// RespondWithErrorCode sends an error response carrying a machine-readable code
func RespondWithErrorCode(w http.ResponseWriter, r *http.Request, status int, errName, message, code string) {
	resp := ErrorResponse{
		Status:    statusError,
		Error:     errName,
		Message:   message,
		Code:      code,
		Timestamp: timestamp(),
	}
	if r != nil {
		resp.Path = r.URL.Path
	}
	RespondWithJSON(w, status, resp)
}

// RespondWithAppError maps an error to its envelope. Non-AppErrors and
// persistence failures are reported with a generic message.
func RespondWithAppError(w http.ResponseWriter, r *http.Request, err error, fallbackCode string) {
	appErr, ok := AsAppError(err)
	if !ok || appErr.Kind == KindPersistence {
		code := fallbackCode
		if ok && appErr.Code != "" {
			code = appErr.Code
		}
		RespondWithErrorCode(w, r, http.StatusInternalServerError, "Internal server error", "An unexpected error occurred", code)
		return
	}
	RespondWithErrorCode(w, r, appErr.HTTPStatus(), errorTitle(appErr.Kind), appErr.Message, appErr.Code)
}

// RespondWithSuccess wraps data in the success envelope
func RespondWithSuccess(w http.ResponseWriter, code int, data interface{}, message string) error {
	return RespondWithJSON(w, code, SuccessResponse{
		Status:    statusSuccess,
		Data:      data,
		Message:   message,
		Timestamp: timestamp(),
	})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}

func errorTitle(kind ErrorKind) string {
	switch kind {
	case KindValidation:
		return "Validation failed"
	case KindNotFound:
		return "Not found"
	case KindConflict:
		return "Conflict"
	case KindAuthentication:
		return "Authentication failed"
	case KindAuthorization:
		return "Insufficient permissions"
	case KindRateLimited:
		return "Rate limit exceeded"
	default:
		return "Internal server error"
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
