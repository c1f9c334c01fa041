package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// JobKind represents batch job types
type JobKind string

const (
	JobKindCapture       JobKind = "CAPTURE"
	JobKindSettingChange JobKind = "SETTING_CHANGE"
	JobKindRefresh       JobKind = "REFRESH"
)

// FormatPreference controls which capture formats are kept
type FormatPreference string

const (
	FormatKeepAll    FormatPreference = "KEEP_ALL"
	FormatPreferRaw  FormatPreference = "PREFER_RAW"
	FormatPreferJpeg FormatPreference = "PREFER_JPEG"
)

// CaptureJob asks the dispatcher to capture an image on every target session
type CaptureJob struct {
	TargetSessionIDs []string         `json:"targetSessionIds"`
	FilenamePrefix   string           `json:"filenamePrefix,omitempty"`
	FormatPreference FormatPreference `json:"formatPreference,omitempty"`
}

// SettingChangeJob asks the dispatcher to apply setting values to every
// target session
type SettingChangeJob struct {
	TargetSessionIDs []string `json:"targetSessionIds"`
	Settings         Settings `json:"settings"`
}

// ErrorKind classifies per-session failures and skips
type ErrorKind string

const (
	ErrorSessionGone       ErrorKind = "SESSION_GONE"
	ErrorAlreadyBusy       ErrorKind = "ALREADY_BUSY"
	ErrorTimeout           ErrorKind = "TIMEOUT"
	ErrorCommunicationLost ErrorKind = "COMMUNICATION_LOST"
	ErrorRejected          ErrorKind = "REJECTED"
	ErrorUnknown           ErrorKind = "UNKNOWN"
	ErrorConfigFailed      ErrorKind = "CONFIG_FAILED"
)

// OutcomeStatus represents the final state of one session's part of a batch
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "SUCCESS"
	OutcomeFailed  OutcomeStatus = "FAILED"
	OutcomeSkipped OutcomeStatus = "SKIPPED"
)

// Outcome is the settled result of one session within a batch
type Outcome struct {
	Status    OutcomeStatus `json:"status"`
	ErrorKind ErrorKind     `json:"errorKind,omitempty"`
	Message   string        `json:"message,omitempty"`
	Payload   string        `json:"payload,omitempty"`
	ElapsedMs int64         `json:"elapsedMs"`
}

// SuccessOutcome builds a success outcome with an optional payload
// (saved file path for captures, applied values for setting changes)
func SuccessOutcome(payload string) Outcome {
	return Outcome{Status: OutcomeSuccess, Payload: payload}
}

// FailedOutcome builds a failure outcome
func FailedOutcome(kind ErrorKind, message string) Outcome {
	return Outcome{Status: OutcomeFailed, ErrorKind: kind, Message: message}
}

// SkippedOutcome builds a skipped outcome
func SkippedOutcome(kind ErrorKind, reason string) Outcome {
	return Outcome{Status: OutcomeSkipped, ErrorKind: kind, Message: reason}
}

// OutcomeMap maps session id to its settled outcome
type OutcomeMap map[string]Outcome

// Value implements driver.Valuer interface
func (m OutcomeMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner interface
func (m *OutcomeMap) Scan(value interface{}) error {
	if value == nil {
		*m = make(OutcomeMap)
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into OutcomeMap", value)
	}
	return json.Unmarshal(b, m)
}

// BatchResult is the aggregated report of one batch. PerSession holds
// exactly one entry per id in the originating request's target set.
type BatchResult struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	Kind       JobKind    `json:"kind" db:"kind"`
	PerSession OutcomeMap `json:"perSession" db:"per_session"`
	StartedAt  time.Time  `json:"startedAt" db:"started_at"`
	FinishedAt time.Time  `json:"finishedAt" db:"finished_at"`
}

// BatchSummary holds the outcome counts for a batch
type BatchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Summary counts per-session outcomes
func (r *BatchResult) Summary() BatchSummary {
	s := BatchSummary{Total: len(r.PerSession)}
	for _, o := range r.PerSession {
		switch o.Status {
		case OutcomeSuccess:
			s.Succeeded++
		case OutcomeFailed:
			s.Failed++
		case OutcomeSkipped:
			s.Skipped++
		}
	}
	return s
}

// SucceededIDs returns the ids with a SUCCESS outcome in ascending order
func (r *BatchResult) SucceededIDs() []string {
	ids := make([]string, 0, len(r.PerSession))
	for id, o := range r.PerSession {
		if o.Status == OutcomeSuccess {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// AllSucceeded reports whether every outcome is SUCCESS
func (r *BatchResult) AllSucceeded() bool {
	for _, o := range r.PerSession {
		if o.Status != OutcomeSuccess {
			return false
		}
	}
	return true
}
