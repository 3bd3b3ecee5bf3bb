// Package notify delivers user-facing notices (toasts in the web client, console lines in the
// CLI) from the session controller and the analysis tracker.
package notify

import (
	"sync"
	"time"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a single message for the user.
type Notice struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Sink receives notices. Implementations must be safe for concurrent use; notices are
// delivered from timer goroutines as well as from callers.
type Sink interface {
	Notify(Notice)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Notice)

// Notify calls f(n).
func (f SinkFunc) Notify(n Notice) { f(n) }

// Nop discards every notice.
var Nop Sink = SinkFunc(func(Notice) {})

// Send builds a notice with the current time and delivers it to s. A nil sink is ignored.
func Send(s Sink, level Level, msg string) {
	if s == nil {
		return
	}
	s.Notify(Notice{Level: level, Message: msg, Time: time.Now()})
}

// Recorder keeps every notice it receives.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify records n.
func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Count returns the number of recorded notices at level whose message equals msg.
// An empty msg matches every message.
func (r *Recorder) Count(level Level, msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notices {
		if x.Level == level && (msg == "" || x.Message == msg) {
			n++
		}
	}
	return n
}
