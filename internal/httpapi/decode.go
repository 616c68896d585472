package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"agentprobe_api/internal/utils"
)

// decodeJSON reads a bounded JSON body into dst and writes the 400 itself
// when the body is missing or malformed.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyKB<<10)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondWithErrorCode(w, r, http.StatusRequestEntityTooLarge, "Request too large",
				"Request body exceeds the size limit", "REQUEST_TOO_LARGE")
			return false
		}
		utils.RespondWithErrorCode(w, r, http.StatusBadRequest, "Validation failed",
			"Invalid request payload", "INVALID_REQUEST")
		return false
	}
	return true
}
