package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/smartcode/reviewctl/internal/analysis"
	"github.com/smartcode/reviewctl/internal/api"
)

var headingLabel = color.New(color.FgHiMagenta, color.Bold)
var faintLabel = color.New(color.FgHiWhite, color.Faint)

var severityColors = map[string]*color.Color{
	"CRITICAL": color.New(color.FgRed, color.Bold),
	"HIGH":     color.New(color.FgRed),
	"MEDIUM":   color.New(color.FgYellow),
	"LOW":      color.New(color.FgCyan),
	"INFO":     color.New(color.FgBlue),
}

func severityColor(severity string) *color.Color {
	if c, ok := severityColors[strings.ToUpper(severity)]; ok {
		return c
	}
	return faintLabel
}

// scoreColor colours a 0-10 score: green from 8, yellow from 5, red below.
func scoreColor(score float64) *color.Color {
	switch {
	case score >= 8:
		return okLabel
	case score >= 5:
		return warnLabel
	default:
		return errorLabel
	}
}

func printProgress(w io.Writer, j analysis.Job) {
	faintLabel.Fprintf(w, "\r%s %3d%%", j.Status, j.Progress)
}

func printPartial(w io.Writer, j analysis.Job) {
	if j.Partial.Empty() {
		return
	}
	fmt.Fprintln(w)
	if j.Partial.Message != "" {
		faintLabel.Fprintf(w, "… %s\n", j.Partial.Message)
	}
	for _, f := range j.Partial.Findings {
		faintLabel.Fprintf(w, "  · %s\n", f)
	}
}

func printResult(w io.Writer, j *analysis.Job) {
	headingLabel.Fprintf(w, "Analysis %s", j.AnalysisID)
	fmt.Fprintf(w, " (%s)\n", j.Source)
	if j.Result == nil {
		fmt.Fprintf(w, "Status: %s\n", j.Phase)
		return
	}
	printReview(w, j.Result)
}

func printReview(w io.Writer, r *api.ReviewResult) {
	fmt.Fprint(w, "Overall score: ")
	scoreColor(r.OverallScore).Fprintf(w, "%.1f/10\n", r.OverallScore)
	if r.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", r.Summary)
	}

	var scores []string
	if r.Security != nil {
		scores = append(scores, fmt.Sprintf("security %.1f", r.Security.SecurityScore))
	}
	if r.Performance != nil {
		scores = append(scores, fmt.Sprintf("performance %.1f", r.Performance.PerformanceScore))
	}
	if q := r.Quality; q != nil {
		scores = append(scores,
			fmt.Sprintf("maintainability %.1f", q.MaintainabilityScore),
			fmt.Sprintf("readability %.1f", q.ReadabilityScore))
		if q.LinesOfCode > 0 {
			scores = append(scores, fmt.Sprintf("%d lines", q.LinesOfCode))
		}
	}
	if len(scores) > 0 {
		faintLabel.Fprintf(w, "%s\n", strings.Join(scores, " | "))
	}

	if len(r.Issues) > 0 {
		headingLabel.Fprintf(w, "\nIssues (%d)\n", len(r.Issues))
		for _, is := range r.Issues {
			severityColor(is.Severity).Fprintf(w, "  [%s]", strings.ToUpper(is.Severity))
			fmt.Fprintf(w, " %s", is.Title)
			if loc := issueLocation(is); loc != "" {
				faintLabel.Fprintf(w, " %s", loc)
			}
			fmt.Fprintln(w)
			if is.Description != "" {
				fmt.Fprintf(w, "      %s\n", is.Description)
			}
			if is.Suggestion != "" {
				okLabel.Fprintf(w, "      → %s\n", is.Suggestion)
			}
		}
	}

	if len(r.Suggestions) > 0 {
		headingLabel.Fprintf(w, "\nSuggestions (%d)\n", len(r.Suggestions))
		for _, s := range r.Suggestions {
			fmt.Fprintf(w, "  • %s", s.Title)
			if s.Priority != "" {
				faintLabel.Fprintf(w, " (%s)", strings.ToLower(s.Priority))
			}
			fmt.Fprintln(w)
			if s.Description != "" {
				fmt.Fprintf(w, "      %s\n", s.Description)
			}
		}
	}
}

func issueLocation(is api.Issue) string {
	switch {
	case is.FileName != "" && is.LineNumber > 0:
		return fmt.Sprintf("%s:%d", is.FileName, is.LineNumber)
	case is.FileName != "":
		return is.FileName
	case is.LineNumber > 0:
		return fmt.Sprintf("line %d", is.LineNumber)
	}
	return ""
}
