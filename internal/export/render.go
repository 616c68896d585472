package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"agentprobe_api/internal/models"
)

// column is one exportable result field.
type column struct {
	name  string
	value func(r *models.Result) interface{}
}

var columns = []column{
	{"run_id", func(r *models.Result) interface{} { return r.RunID }},
	{"timestamp", func(r *models.Result) interface{} { return r.Timestamp.UTC() }},
	{"tool", func(r *models.Result) interface{} { return r.Tool }},
	{"scenario", func(r *models.Result) interface{} { return r.Scenario }},
	{"agentprobe_version", func(r *models.Result) interface{} { return r.AgentprobeVersion }},
	{"os", func(r *models.Result) interface{} { return r.OS }},
	{"python_version", func(r *models.Result) interface{} { return r.PythonVersion }},
	{"duration", func(r *models.Result) interface{} { return r.Duration }},
	{"total_turns", func(r *models.Result) interface{} { return r.TotalTurns }},
	{"success", func(r *models.Result) interface{} { return r.Success }},
	{"error_message", func(r *models.Result) interface{} { return r.ErrorMessage }},
	{"friction_points", func(r *models.Result) interface{} { return nonNil(r.FrictionPoints) }},
	{"friction_point_count", func(r *models.Result) interface{} { return r.FrictionPointCount }},
	{"help_usage_count", func(r *models.Result) interface{} { return r.HelpUsageCount }},
	{"recommendations", func(r *models.Result) interface{} { return nonNil(r.Recommendations) }},
	{"client_id", func(r *models.Result) interface{} { return r.ClientID }},
	{"created_at", func(r *models.Result) interface{} { return r.CreatedAt.UTC() }},
}

var columnsByName = func() map[string]column {
	m := make(map[string]column, len(columns))
	for _, c := range columns {
		m[c.name] = c
	}
	return m
}()

// selectColumns returns the known columns among fields in request order,
// or every column when fields is empty.
func selectColumns(fields []string) []column {
	if len(fields) == 0 {
		return columns
	}
	seen := make(map[string]bool, len(fields))
	var out []column
	for _, f := range fields {
		c, ok := columnsByName[f]
		if !ok || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, c)
	}
	return out
}

func nonNil(l models.StringList) []string {
	if l == nil {
		return []string{}
	}
	return []string(l)
}

// formulaPrefixes start cell values that spreadsheets evaluate.
const formulaPrefixes = "=+-@|"

var unsafeHeaderChars = regexp.MustCompile(`[^\w\s-]`)

// escapeCell neutralizes spreadsheet formulas by prefixing a single quote.
func escapeCell(s string) string {
	if s != "" && strings.ContainsRune(formulaPrefixes, rune(s[0])) {
		return "'" + s
	}
	return s
}

func sanitizeHeader(name string) string {
	return escapeCell(unsafeHeaderChars.ReplaceAllString(name, "_"))
}

func cellString(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		return val.Format(time.RFC3339Nano), nil
	case []string:
		b, err := json.Marshal(val)
		return string(b), err
	default:
		return fmt.Sprint(val), nil
	}
}

func renderCSV(results []*models.Result, cols []column) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = sanitizeHeader(c.name)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	row := make([]string, len(cols))
	for _, r := range results {
		for i, c := range cols {
			s, err := cellString(c.value(r))
			if err != nil {
				return nil, fmt.Errorf("failed to render %s: %w", c.name, err)
			}
			row[i] = escapeCell(s)
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// record is an ordered JSON object.
type record struct {
	cols []column
	r    *models.Result
}

func (rec record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range rec.cols {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(c.name)
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(c.value(rec.r))
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func renderJSON(results []*models.Result, cols []column) ([]byte, error) {
	records := make([]record, len(results))
	for i, r := range results {
		records[i] = record{cols: cols, r: r}
	}
	return json.MarshalIndent(records, "", "  ")
}
