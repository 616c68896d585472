package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"agentprobe_api/internal/export"
	"agentprobe_api/internal/middleware"
	"agentprobe_api/internal/utils"
)

// ExportHandler renders exports and serves locally stored downloads.
type ExportHandler struct {
	exporter  *export.Exporter
	downloads *export.LocalStore
}

// Export handles POST /api/v1/export
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req export.Request
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.exporter.Export(r.Context(), req, middleware.ClientIP(r))
	if err != nil {
		utils.RespondWithAppError(w, r, err, "EXPORT_ERROR")
		return
	}

	if export.Format(req.Format) == export.FormatCSV {
		w.Header().Set("X-Content-Type-Options", "nosniff")
	}
	utils.RespondWithSuccess(w, http.StatusOK, resp, "Export completed successfully")
}

// Download handles GET /api/v1/export/download/{token}. The signed token is
// the only credential.
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	d, err := h.downloads.Open(r.PathValue("token"))
	if errors.Is(err, export.ErrExportNotFound) {
		utils.RespondWithErrorCode(w, r, http.StatusNotFound, "Not found",
			"The export does not exist or its link has expired", "EXPORT_NOT_FOUND")
		return
	}
	if err != nil {
		utils.RespondWithErrorCode(w, r, http.StatusInternalServerError, "Internal server error",
			"An unexpected error occurred", "EXPORT_ERROR")
		return
	}

	header := w.Header()
	header.Set("Content-Type", d.ContentType)
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.Name))
	header.Set("Content-Length", strconv.Itoa(len(d.Content)))
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(d.Content)
}
