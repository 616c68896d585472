package stats

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agentprobe_api/internal/models"
	"agentprobe_api/internal/utils"
)

const clientIDLength = 16

// ClientInfo describes the machine that produced a run.
type ClientInfo struct {
	AgentprobeVersion string `json:"agentprobe_version"`
	OS                string `json:"os"`
	PythonVersion     string `json:"python_version"`
}

// Execution is the outcome of a run.
type Execution struct {
	Duration     float64 `json:"duration"`
	TotalTurns   int     `json:"total_turns"`
	Success      bool    `json:"success"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Analysis carries what the client observed during a run.
type Analysis struct {
	FrictionPoints  []string `json:"friction_points"`
	HelpUsageCount  int      `json:"help_usage_count"`
	Recommendations []string `json:"recommendations"`
}

// Submission is one result as posted by a client.
type Submission struct {
	RunID      string     `json:"run_id"`
	Timestamp  string     `json:"timestamp"`
	Tool       string     `json:"tool"`
	Scenario   string     `json:"scenario"`
	ClientInfo ClientInfo `json:"client_info"`
	Execution  Execution  `json:"execution"`
	Analysis   Analysis   `json:"analysis"`
	ClientID   string     `json:"client_id,omitempty"`
}

// Validate checks the submission shape and returns a validation AppError
// naming the first offending field.
func (s *Submission) Validate() error {
	if _, err := uuid.Parse(s.RunID); err != nil {
		return invalidField("run_id", "must be a UUID")
	}
	if _, err := parseTimestamp(s.Timestamp); err != nil {
		return invalidField("timestamp", "must be an RFC 3339 date-time")
	}
	if strings.TrimSpace(s.Tool) == "" {
		return invalidField("tool", "is required")
	}
	if strings.TrimSpace(s.Scenario) == "" {
		return invalidField("scenario", "is required")
	}
	if s.Execution.Duration <= 0 {
		return invalidField("execution.duration", "must be positive")
	}
	if s.Execution.TotalTurns <= 0 {
		return invalidField("execution.total_turns", "must be a positive integer")
	}
	if s.Analysis.HelpUsageCount < 0 {
		return invalidField("analysis.help_usage_count", "must not be negative")
	}
	return nil
}

// EffectiveClientID returns the supplied client ID or one derived from the
// client's OS and Python version.
func (s *Submission) EffectiveClientID() string {
	if s.ClientID != "" {
		return s.ClientID
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(s.ClientInfo.OS + "-" + s.ClientInfo.PythonVersion))
	if len(encoded) > clientIDLength {
		encoded = encoded[:clientIDLength]
	}
	return encoded
}

// toResult converts a validated submission into its stored form.
func (s *Submission) toResult(now time.Time) *models.Result {
	ts, _ := parseTimestamp(s.Timestamp)

	frictionPoints := s.Analysis.FrictionPoints
	if frictionPoints == nil {
		frictionPoints = []string{}
	}
	recommendations := s.Analysis.Recommendations
	if recommendations == nil {
		recommendations = []string{}
	}

	return &models.Result{
		RunID:             s.RunID,
		Timestamp:         ts,
		Tool:              s.Tool,
		Scenario:          s.Scenario,
		AgentprobeVersion: s.ClientInfo.AgentprobeVersion,
		OS:                s.ClientInfo.OS,
		PythonVersion:     s.ClientInfo.PythonVersion,
		Duration:          s.Execution.Duration,
		TotalTurns:        s.Execution.TotalTurns,
		Success:           s.Execution.Success,
		ErrorMessage:      s.Execution.ErrorMessage,
		FrictionPoints:    models.StringList(frictionPoints),
		HelpUsageCount:    s.Analysis.HelpUsageCount,
		Recommendations:   models.StringList(recommendations),
		ClientID:          s.EffectiveClientID(),
		CreatedAt:         now,
	}
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func invalidField(field, problem string) error {
	return utils.NewValidationError("VALIDATION_ERROR", fmt.Sprintf("%s %s", field, problem))
}
