package analysis

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/smartcode/reviewctl/internal/api"
)

// Phase is the client side state of a tracked analysis.
type Phase string

const (
	PhaseSubmitted Phase = "SUBMITTED"
	PhasePolling   Phase = "POLLING"
	PhaseCompleted Phase = "COMPLETED"
	PhaseFailed    Phase = "FAILED"
	PhaseTimedOut  Phase = "TIMED_OUT"
	PhaseCancelled Phase = "CANCELLED"
)

// Terminal reports whether the phase ends tracking.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseTimedOut, PhaseCancelled:
		return true
	}
	return false
}

// Job is a snapshot of a tracked analysis. Values handed out by the tracker are copies.
type Job struct {
	AnalysisID  string            `json:"analysisId"`
	Phase       Phase             `json:"phase"`
	Status      api.Status        `json:"status,omitempty"`
	Progress    int               `json:"progressPercentage"`
	Message     string            `json:"message,omitempty"`
	Partial     api.Partial       `json:"partial,omitempty"`
	Result      *api.ReviewResult `json:"result,omitempty"`
	Language    string            `json:"language,omitempty"`
	Source      string            `json:"source"`
	SubmittedAt time.Time         `json:"submittedAt"`
	FinishedAt  time.Time         `json:"finishedAt,omitempty"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Partial.Findings = append([]string(nil), j.Partial.Findings...)
	cp.Result = cloneResult(j.Result)
	return &cp
}

func cloneResult(r *api.ReviewResult) *api.ReviewResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Issues = append([]api.Issue(nil), r.Issues...)
	cp.Suggestions = append([]api.Suggestion(nil), r.Suggestions...)
	if r.Security != nil {
		s := *r.Security
		cp.Security = &s
	}
	if r.Performance != nil {
		p := *r.Performance
		cp.Performance = &p
	}
	if r.Quality != nil {
		q := *r.Quality
		cp.Quality = &q
	}
	return &cp
}

// InlineSource is the Job source of pasted code.
const InlineSource = "inline"

// Payload is what gets submitted: inline code, or an archive when ArchiveName is set.
// FileName only labels inline code read from a file.
type Payload struct {
	Code        string
	Language    string
	FileName    string
	ArchiveName string
	Archive     []byte
}

// CodePayload builds an inline code payload.
func CodePayload(code, language string) Payload {
	return Payload{Code: code, Language: language}
}

// ArchivePayload builds an archive payload.
func ArchivePayload(name string, data []byte) Payload {
	return Payload{ArchiveName: name, Archive: data}
}

// IsArchive reports whether p is an archive submission.
func (p Payload) IsArchive() bool {
	return p.ArchiveName != ""
}

func (p Payload) source() string {
	switch {
	case p.IsArchive():
		return filepath.Base(p.ArchiveName)
	case p.FileName != "":
		return filepath.Base(p.FileName)
	}
	return InlineSource
}

var languageByExt = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".go":    "go",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".rs":    "rust",
	".kt":    "kotlin",
	".swift": "swift",
	".scala": "scala",
	".sql":   "sql",
	".sh":    "shell",
}

// DetectLanguage guesses the language of a source file from its extension. It returns ""
// when the extension is unknown.
func DetectLanguage(fileName string) string {
	return languageByExt[strings.ToLower(filepath.Ext(fileName))]
}
