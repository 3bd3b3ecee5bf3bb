package api

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Status is the server side status of an analysis.
type Status string

const (
	StatusSubmitted  Status = "SUBMITTED"
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether polling stops on this status. Only COMPLETED and FAILED end a job;
// every other value, including unknown ones, keeps the poll loop running.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Timestamp decodes the service's timestamps, which arrive either as milliseconds since the
// epoch or as an ISO-8601 string.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts a number of milliseconds, an RFC 3339 string, a zone-less local
// date-time or null.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(string(b), 64)
			if ferr != nil {
				return err
			}
			ms = int64(f)
		}
		t.Time = time.UnixMilli(ms)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return &time.ParseError{Layout: time.RFC3339, Value: s, Message: ": unrecognised timestamp"}
}

// MarshalJSON writes milliseconds since the epoch, or null for the zero time.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

// SessionMetadata carries per-session limits.
type SessionMetadata struct {
	MaxAnalysisCount int `json:"maxAnalysisCount,omitempty"`
}

// SessionResponse is returned by session/create and session/verify.
type SessionResponse struct {
	Success          bool             `json:"success"`
	SessionID        string           `json:"sessionId,omitempty"`
	Token            string           `json:"token,omitempty"`
	SessionToken     string           `json:"sessionToken,omitempty"`
	Message          string           `json:"message,omitempty"`
	ExpiresAt        Timestamp        `json:"expiresAt"`
	RemainingMinutes int              `json:"remainingMinutes,omitempty"`
	UserEmail        string           `json:"userEmail,omitempty"`
	CreatedAt        Timestamp        `json:"createdAt"`
	Metadata         *SessionMetadata `json:"metadata,omitempty"`
}

// BearerToken returns the session token, which the service names either "token" or
// "sessionToken".
func (r *SessionResponse) BearerToken() string {
	if r.Token != "" {
		return r.Token
	}
	return r.SessionToken
}

// SubmitResponse is returned by analyze/code and analyze/zip.
type SubmitResponse struct {
	Success    bool   `json:"success"`
	AnalysisID string `json:"analysisId"`
	Status     Status `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
}

// AnalysisResponse is returned by analysis/{id}.
type AnalysisResponse struct {
	Success            bool          `json:"success"`
	AnalysisID         string        `json:"analysisId"`
	Status             Status        `json:"status"`
	Message            string        `json:"message,omitempty"`
	ProgressPercentage int           `json:"progressPercentage"`
	Result             *ReviewResult `json:"result,omitempty"`
	CreatedAt          Timestamp     `json:"createdAt"`
	UpdatedAt          Timestamp     `json:"updatedAt"`
}

// ReviewResult is the outcome of a completed analysis.
type ReviewResult struct {
	Summary      string               `json:"summary"`
	OverallScore float64              `json:"overallScore"`
	Issues       []Issue              `json:"issues,omitempty"`
	Suggestions  []Suggestion         `json:"suggestions,omitempty"`
	Security     *SecurityAnalysis    `json:"security,omitempty"`
	Performance  *PerformanceAnalysis `json:"performance,omitempty"`
	Quality      *QualityMetrics      `json:"quality,omitempty"`
}

// Issue is a single finding.
type Issue struct {
	ID          string `json:"id,omitempty"`
	Type        string `json:"type,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	LineNumber  int    `json:"lineNumber,omitempty"`
	CodeSnippet string `json:"codeSnippet,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Suggestion is an improvement proposal that is not tied to a finding.
type Suggestion struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Impact      string `json:"impact,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

type SecurityAnalysis struct {
	SecurityScore float64 `json:"securityScore"`
}

type PerformanceAnalysis struct {
	PerformanceScore float64 `json:"performanceScore"`
}

type QualityMetrics struct {
	MaintainabilityScore float64 `json:"maintainabilityScore"`
	ReadabilityScore     float64 `json:"readabilityScore"`
	LinesOfCode          int     `json:"linesOfCode"`
}

// Partial is the in-progress narrative of an analysis.
type Partial struct {
	Message  string   `json:"message,omitempty"`
	Findings []string `json:"findings,omitempty"`
}

// Empty reports whether the partial carries nothing to show.
func (p Partial) Empty() bool {
	return p.Message == "" && len(p.Findings) == 0
}

// Health is the service status reported by the health endpoint.
type Health struct {
	Status          string `json:"status"`
	CurrentSessions int    `json:"currentSessions"`
	MaxSessions     int    `json:"maxSessions"`
	SessionCapacity string `json:"sessionCapacity,omitempty"`
}

// BusyThreshold is the session usage above which the service is considered busy.
const BusyThreshold = 0.8

// Up reports whether the service declared itself healthy.
func (h Health) Up() bool {
	return h.Status == "UP"
}

// Load returns the fraction of session slots in use, or 0 when unknown.
func (h Health) Load() float64 {
	if h.MaxSessions <= 0 {
		return 0
	}
	return float64(h.CurrentSessions) / float64(h.MaxSessions)
}

// Busy reports whether usage is above BusyThreshold.
func (h Health) Busy() bool {
	return h.Load() > BusyThreshold
}
