// Package export renders stored results as CSV or JSON and hands the file
// to a download store that issues a time-limited link.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentprobe_api/internal/clock"
	"agentprobe_api/internal/models"
	"agentprobe_api/internal/utils"
)

const (
	MaxFields = 100
	MaxRows   = 10000
)

// Format is the rendered file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Filters restrict the exported results. Dates are RFC 3339.
type Filters struct {
	Tool      string `json:"tool,omitempty"`
	Scenario  string `json:"scenario,omitempty"`
	Success   *bool  `json:"success,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// Request is an export request. Empty Fields exports every column.
type Request struct {
	Format  string   `json:"format"`
	Filters *Filters `json:"filters,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

// Response describes a finished export.
type Response struct {
	Status      string `json:"status"`
	DownloadURL string `json:"download_url"`
	ExpiresAt   string `json:"expires_at"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	RecordCount int    `json:"record_count"`
	Filename    string `json:"filename"`
}

// ResultLister reads results newest first.
type ResultLister interface {
	List(ctx context.Context, filter models.ResultFilter) ([]*models.Result, error)
}

// Store keeps a rendered file and returns a link to it.
type Store interface {
	Put(ctx context.Context, name, contentType string, content []byte) (url string, expiresAt time.Time, err error)
}

// Exporter renders exports.
type Exporter struct {
	results ResultLister
	store   Store
	clock   clock.Clock
	logger  *utils.Logger
}

func NewExporter(results ResultLister, store Store, clk clock.Clock) *Exporter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Exporter{
		results: results,
		store:   store,
		clock:   clk,
		logger:  utils.NewLogger("export"),
	}
}

// Export validates req, renders at most MaxRows matching results and stores the file.
// clientIP is only used for audit logging.
func (e *Exporter) Export(ctx context.Context, req Request, clientIP string) (*Response, error) {
	format := Format(req.Format)
	e.logger.Info("Export requested", "format", req.Format, "client_ip", clientIP)

	if format != FormatCSV && format != FormatJSON {
		return nil, utils.NewValidationError("INVALID_FORMAT", "format must be csv or json")
	}
	if len(req.Fields) > MaxFields {
		e.logger.Warn("Export rejected: excessive field count", "fields", len(req.Fields), "client_ip", clientIP)
		return nil, utils.NewValidationError("INVALID_FIELD_COUNT", "Too many fields specified for export")
	}
	cols := selectColumns(req.Fields)
	if len(cols) == 0 {
		return nil, utils.NewValidationError("INVALID_FIELDS", "None of the requested fields can be exported")
	}

	filter, err := buildFilter(req.Filters)
	if err != nil {
		return nil, err
	}

	results, err := e.results.List(ctx, filter)
	if err != nil {
		e.logger.Error("Export failed", "error", err, "client_ip", clientIP)
		return nil, utils.NewPersistenceError("EXPORT_ERROR", "Failed to export data", err)
	}
	if len(results) == 0 {
		return nil, utils.NewNotFoundError("NO_DATA_FOUND", "No records match the specified filters")
	}

	var content []byte
	if format == FormatCSV {
		content, err = renderCSV(results, cols)
	} else {
		content, err = renderJSON(results, cols)
	}
	if err != nil {
		return nil, utils.NewPersistenceError("EXPORT_ERROR", "Failed to export data", err)
	}

	filename := fmt.Sprintf("agentprobe-export-%d.%s", e.clock.Now().UnixMilli(), format)
	url, expiresAt, err := e.store.Put(ctx, filename, format.ContentType(), content)
	if err != nil {
		e.logger.Error("Failed to store export", "filename", filename, "error", err)
		return nil, utils.NewPersistenceError("EXPORT_ERROR", "Failed to export data", err)
	}

	e.logger.Info("Export completed", "format", req.Format, "records", len(results), "filename", filename)

	return &Response{
		Status:      "success",
		DownloadURL: url,
		ExpiresAt:   expiresAt.UTC().Format(time.RFC3339),
		Content:     string(content),
		ContentType: format.ContentType(),
		RecordCount: len(results),
		Filename:    filename,
	}, nil
}

func buildFilter(f *Filters) (models.ResultFilter, error) {
	filter := models.ResultFilter{Limit: MaxRows}
	if f == nil {
		return filter, nil
	}

	filter.Tool = f.Tool
	filter.Scenario = f.Scenario
	filter.Success = f.Success

	var err error
	if filter.Since, err = parseDate(f.StartDate, "start_date"); err != nil {
		return filter, err
	}
	if filter.Until, err = parseDate(f.EndDate, "end_date"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseDate(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, utils.NewValidationError("INVALID_DATE", field+" must be an RFC 3339 date-time")
	}
	t = t.UTC()
	return &t, nil
}

// ErrExportNotFound is returned for unknown or expired downloads.
var ErrExportNotFound = errors.New("export not found or expired")
