package notify

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

var levelColors = map[Level]*color.Color{
	LevelInfo:    color.New(color.FgCyan),
	LevelSuccess: color.New(color.FgGreen).Add(color.Bold),
	LevelWarning: color.New(color.FgYellow).Add(color.Bold),
	LevelError:   color.New(color.FgHiRed).Add(color.Bold),
}

var levelMarks = map[Level]string{
	LevelInfo:    "ℹ",
	LevelSuccess: "✔",
	LevelWarning: "⚠",
	LevelError:   "✖",
}

// Console prints notices as colored lines.
type Console struct {
	mu         sync.Mutex
	w          io.Writer
	timestamps bool
}

// NewConsole returns a Console writing to w. Colors follow fatih/color's terminal detection.
func NewConsole(w io.Writer, timestamps bool) *Console {
	return &Console{w: w, timestamps: timestamps}
}

// Notify writes n as "[hh:mm:ss] <mark> message".
func (c *Console) Notify(n Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()

	label, ok := levelColors[n.Level]
	if !ok {
		label = levelColors[LevelInfo]
	}
	mark := levelMarks[n.Level]
	if mark == "" {
		mark = levelMarks[LevelInfo]
	}

	prefix := ""
	if c.timestamps && !n.Time.IsZero() {
		prefix = n.Time.Local().Format("[15:04:05] ")
	}
	indent := strings.Repeat(" ", len(prefix)+2)
	fmt.Fprint(c.w, prefix)
	label.Fprint(c.w, mark+" ")
	fmt.Fprintln(c.w, indentMultiline(n.Message, indent))
}

func indentMultiline(s, indent string) string {
	lines := strings.Split(s, "\n")
	for i := 1; i < len(lines); i++ {
		lines[i] = indent + lines[i]
	}
	return strings.Join(lines, "\n")
}
