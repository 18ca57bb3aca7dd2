package executor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the verdict of a check.
type Status string

const (
	StatusPass  Status = "Pass"
	StatusFail  Status = "Fail"
	StatusError Status = "Error"
)

// Numeric status codes reported by check scripts.
const (
	StatusIDPass  = 1
	StatusIDFail  = 2
	StatusIDError = 3
)

// Code returns the numeric code of the status, 0 for unknown statuses.
func (s Status) Code() int {
	switch s {
	case StatusPass:
		return StatusIDPass
	case StatusFail:
		return StatusIDFail
	case StatusError:
		return StatusIDError
	default:
		return 0
	}
}

// Result is the outcome of one check execution. Status and StatusID are
// always consistent.
type Result struct {
	RecommendationID string         `json:"recommendationId"`
	Status           Status         `json:"status"`
	StatusID         int            `json:"statusId"`
	Details          map[string]any `json:"details,omitempty"`
	Error            string         `json:"error,omitempty"`
	StartedAt        time.Time      `json:"startedAt"`
	Duration         time.Duration  `json:"duration"`
}

// ErrorResult builds an Error result for a check.
func ErrorResult(recommendationID, message string) Result {
	return Result{
		RecommendationID: recommendationID,
		Status:           StatusError,
		StatusID:         StatusIDError,
		Error:            message,
	}
}

// scriptOutput is the document printed by a check script. Field matching is
// case insensitive, so both "Details" and "details" are accepted.
type scriptOutput struct {
	Status   string          `json:"status"`
	StatusID json.RawMessage `json:"status_id"`
	Details  json.RawMessage `json:"Details"`
	Error    *string         `json:"Error"`
}

var errNoResult = errors.New("no JSON result found in script output")

// ParseOutput extracts the result printed by a check script. The last line
// holding a JSON object wins, so scripts may log before printing their
// result. A document with an unknown status, a status that does not match
// its status_id or a Fail verdict without details is rejected.
func ParseOutput(recommendationID string, stdout []byte) (Result, error) {
	out, err := lastJSONObject(stdout)
	if err != nil {
		return Result{}, err
	}

	status, err := parseStatus(out.Status)
	if err != nil {
		return Result{}, err
	}
	statusID, err := parseStatusID(out.StatusID)
	if err != nil {
		return Result{}, err
	}
	if status.Code() != statusID {
		return Result{}, fmt.Errorf("inconsistent result: status %q with status_id %d", status, statusID)
	}

	details := parseDetails(out.Details)
	if status == StatusFail && len(details) == 0 {
		return Result{}, errors.New("inconsistent result: status Fail without Details")
	}

	res := Result{
		RecommendationID: recommendationID,
		Status:           status,
		StatusID:         statusID,
		Details:          details,
	}
	if out.Error != nil {
		res.Error = *out.Error
	}
	if res.Status == StatusError && res.Error == "" {
		res.Error = "check reported an error"
	}
	return res, nil
}

func lastJSONObject(stdout []byte) (scriptOutput, error) {
	lines := bytes.Split(stdout, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var out scriptOutput
		if err := json.Unmarshal(line, &out); err == nil {
			return out, nil
		}
	}

	// pretty printed documents span several lines
	trimmed := bytes.TrimSpace(stdout)
	if start := bytes.IndexByte(trimmed, '{'); start >= 0 {
		var out scriptOutput
		if err := json.Unmarshal(trimmed[start:], &out); err == nil {
			return out, nil
		}
	}
	return scriptOutput{}, errNoResult
}

func parseStatus(raw string) (Status, error) {
	for _, s := range []Status{StatusPass, StatusFail, StatusError} {
		if strings.EqualFold(strings.TrimSpace(raw), string(s)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

func parseStatusID(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing status_id")
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		id, err := strconv.Atoi(number.String())
		if err != nil {
			return 0, fmt.Errorf("invalid status_id %s", number)
		}
		return id, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		id, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return 0, fmt.Errorf("invalid status_id %q", text)
		}
		return id, nil
	}
	return 0, fmt.Errorf("invalid status_id %s", raw)
}

func parseDetails(raw json.RawMessage) map[string]any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var details map[string]any
	if err := json.Unmarshal(raw, &details); err == nil {
		return details
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil
	}
	return map[string]any{"value": value}
}
