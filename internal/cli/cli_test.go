package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcode/reviewctl/internal/analysis"
	"github.com/smartcode/reviewctl/internal/session"
)

func init() {
	color.NoColor = true
}

type fakeService struct {
	mu       sync.Mutex
	creates  int
	submits  int
	polls    map[string]int
	uploads  []string
	ended    []string
	lastCode string
}

func newFakeService(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()
	fs := &fakeService{polls: make(map[string]int)}
	srv := httptest.NewServer(fs.handler())
	t.Cleanup(srv.Close)
	return fs, srv
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (fs *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/create", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.creates++
		fs.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"success": true, "sessionId": "S1"})
	})
	mux.HandleFunc("POST /api/session/verify", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["otp"] != "123456" {
			reply(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid OTP"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"success": true, "sessionId": "S1", "sessionToken": "T1"})
	})
	mux.HandleFunc("POST /api/session/end", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		fs.mu.Lock()
		fs.ended = append(fs.ended, req["sessionToken"])
		fs.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"success": true})
	})
	mux.HandleFunc("POST /api/analyze/code", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		fs.mu.Lock()
		fs.submits++
		id := fmt.Sprintf("A%d", fs.submits)
		fs.lastCode = req["language"] + ":" + req["code"]
		fs.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"success": true, "analysisId": id})
	})
	mux.HandleFunc("POST /api/analyze/zip", func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			reply(w, http.StatusBadRequest, map[string]any{"success": false, "message": "file is required"})
			return
		}
		fs.mu.Lock()
		fs.submits++
		id := fmt.Sprintf("A%d", fs.submits)
		fs.uploads = append(fs.uploads, header.Filename)
		fs.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"success": true, "analysisId": id})
	})
	mux.HandleFunc("GET /api/analysis/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		fs.mu.Lock()
		fs.polls[id]++
		n := fs.polls[id]
		fs.mu.Unlock()
		if n < 2 {
			reply(w, http.StatusOK, map[string]any{"success": true, "analysisId": id, "status": "PROCESSING", "progressPercentage": 30})
			return
		}
		reply(w, http.StatusOK, map[string]any{
			"success":    true,
			"analysisId": id,
			"status":     "COMPLETED",
			"result": map[string]any{
				"summary":      "Readable code with one naming issue.",
				"overallScore": 8.5,
				"issues": []map[string]any{{
					"id": "I1", "severity": "MEDIUM", "title": "Unclear name", "fileName": "main.py", "lineNumber": 3,
					"suggestion": "Rename x to total",
				}},
				"suggestions": []map[string]any{{"id": "S1", "title": "Add type hints", "priority": "LOW"}},
			},
		})
	})
	mux.HandleFunc("GET /api/partial/{id}", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"partial": map[string]any{"message": "Reading code"}})
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"status": "UP", "currentSessions": 2, "maxSessions": 10})
	})
	return mux
}

// writeTestConfig writes a config file pointing at serverURL with fast polling.
func writeTestConfig(t *testing.T, serverURL string) string {
	t.Helper()
	t.Setenv("REVIEWCTL_SERVER_URL", "")
	t.Setenv("REVIEWCTL_LOG_LEVEL", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`version: 0.1.0
server_url: %s/api
session_file: %s
history_db: %s
session:
  expiry_check_interval: 10ms
analysis:
  poll_interval: 5ms
  partial_interval: 5ms
  poll_budget: 5s
`, serverURL, filepath.Join(dir, "session.yaml"), filepath.Join(dir, "history.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// lockedBuffer collects log output written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runCLI executes the root command with args and returns stdout and stderr.
func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	jsonOutput, verbose, configFile = false, false, ""

	var stdout bytes.Buffer
	var stderr lockedBuffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func startSession(t *testing.T, configPath string) {
	t.Helper()
	out, _, err := runCLI(t, "", "session", "create", "--email", "alice@example.com", "--name", "Alice", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Verification code sent to al***e@example.com")

	out, _, err = runCLI(t, "", "session", "verify", "123456", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Verified:  yes")
	assert.Contains(t, out, "State:     ACTIVE")
}

func TestSessionAnalyzeHistoryFlow(t *testing.T) {
	fs, srv := newFakeService(t)
	configPath := writeTestConfig(t, srv.URL)
	startSession(t, configPath)

	src := filepath.Join(t.TempDir(), "main.py")
	require.NoError(t, os.WriteFile(src, []byte("x = 1\nprint(x)\n"), 0o600))

	out, _, err := runCLI(t, "", "analyze", "code", src, "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Overall score: 8.5/10")
	assert.Contains(t, out, "[MEDIUM] Unclear name main.py:3")
	assert.Contains(t, out, "→ Rename x to total")
	assert.Contains(t, out, "Add type hints (low)")
	fs.mu.Lock()
	assert.Equal(t, "python:x = 1\nprint(x)\n", fs.lastCode)
	fs.mu.Unlock()

	out, _, err = runCLI(t, "", "session", "status", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Analyses:  1 of 5 used")

	out, _, err = runCLI(t, "", "history", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "A1")
	assert.Contains(t, out, "8.5")

	out, _, err = runCLI(t, "", "history", "-j", "--config", configPath)
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "A1", entries[0]["analysisId"])
	assert.Equal(t, "main.py", entries[0]["source"])

	out, _, err = runCLI(t, "", "session", "end", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, session.MsgEnded)
	fs.mu.Lock()
	assert.Equal(t, []string{"T1"}, fs.ended)
	fs.mu.Unlock()

	out, _, err = runCLI(t, "", "session", "status", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No active session")
}

func TestAnalyzeStdinJSON(t *testing.T) {
	fs, srv := newFakeService(t)
	configPath := writeTestConfig(t, srv.URL)
	startSession(t, configPath)

	out, _, err := runCLI(t, "package main\n", "analyze", "code", "-", "--language", "go", "-j", "--config", configPath)
	require.NoError(t, err)

	var job analysis.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, analysis.PhaseCompleted, job.Phase)
	assert.Equal(t, "inline", job.Source)
	require.NotNil(t, job.Result)
	assert.Equal(t, 8.5, job.Result.OverallScore)
	fs.mu.Lock()
	assert.Equal(t, "go:package main\n", fs.lastCode)
	fs.mu.Unlock()
}

func TestAnalyzeZip(t *testing.T) {
	fs, srv := newFakeService(t)
	configPath := writeTestConfig(t, srv.URL)
	startSession(t, configPath)

	archive := filepath.Join(t.TempDir(), "project.zip")
	require.NoError(t, os.WriteFile(archive, []byte("PK\x03\x04\x0a\x00\x00\x00\x00\x00rest"), 0o600))

	out, _, err := runCLI(t, "", "analyze", "zip", archive, "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Analysis A1 (project.zip)")
	fs.mu.Lock()
	assert.Equal(t, []string{"project.zip"}, fs.uploads)
	fs.mu.Unlock()

	bogus := filepath.Join(t.TempDir(), "notes.zip")
	require.NoError(t, os.WriteFile(bogus, []byte("just text"), 0o600))
	_, _, err = runCLI(t, "", "analyze", "zip", bogus, "--config", configPath)
	assert.ErrorIs(t, err, analysis.ErrArchiveContent)
	fs.mu.Lock()
	assert.Equal(t, 1, fs.submits)
	fs.mu.Unlock()
}

func TestAnalyzeNoWaitAndStatus(t *testing.T) {
	_, srv := newFakeService(t)
	configPath := writeTestConfig(t, srv.URL)
	startSession(t, configPath)

	out, _, err := runCLI(t, "print(1)", "analyze", "code", "-", "--no-wait", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Analysis submitted: A1")

	// a fetch may already have happened before the CLI stopped tracking
	out, _, err = runCLI(t, "", "analyze", "status", "A1", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Analysis:  A1")

	out, _, err = runCLI(t, "", "analyze", "status", "A1", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:    COMPLETED")
	assert.Contains(t, out, "Overall score: 8.5/10")
}

func TestAnalyzeWithoutSession(t *testing.T) {
	fs, srv := newFakeService(t)
	configPath := writeTestConfig(t, srv.URL)

	_, _, err := runCLI(t, "print(1)", "analyze", "code", "-", "--config", configPath)
	assert.ErrorIs(t, err, session.ErrNoSession)
	fs.mu.Lock()
	assert.Zero(t, fs.submits)
	fs.mu.Unlock()
}

func TestSessionCreateValidation(t *testing.T) {
	fs, srv := newFakeService(t)
	configPath := writeTestConfig(t, srv.URL)

	_, _, err := runCLI(t, "", "session", "create", "--email", "not-an-email", "--config", configPath)
	assert.ErrorIs(t, err, session.ErrInvalidEmail)

	_, _, err = runCLI(t, "", "session", "create", "--email", "alice@example.com", "--on-conflict", "maybe", "--config", configPath)
	assert.Error(t, err)

	_, _, err = runCLI(t, "", "session", "verify", "12345", "--config", configPath)
	assert.ErrorIs(t, err, session.ErrInvalidOTP)

	fs.mu.Lock()
	assert.Zero(t, fs.creates)
	fs.mu.Unlock()
}

func TestSessionCreateConflict(t *testing.T) {
	fs, srv := newFakeService(t)
	configPath := writeTestConfig(t, srv.URL)
	startSession(t, configPath)

	out, stderr, err := runCLI(t, "n\n", "session", "create", "--email", "alice@example.com", "--name", "Alice", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Discard it and create a new one? [y/N]")
	assert.Contains(t, out, "State:     ACTIVE")

	out, _, err = runCLI(t, "", "session", "create", "--email", "alice@example.com", "--on-conflict", "continue", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "State:     ACTIVE")

	fs.mu.Lock()
	assert.Equal(t, 1, fs.creates)
	fs.mu.Unlock()

	out, _, err = runCLI(t, "", "session", "create", "--email", "alice@example.com", "--on-conflict", "discard", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Verification code sent")

	fs.mu.Lock()
	assert.Equal(t, 2, fs.creates)
	assert.Equal(t, []string{"T1"}, fs.ended)
	fs.mu.Unlock()
}

func TestConfigCommands(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("REVIEWCTL_SERVER_URL", "")

	out, _, err := runCLI(t, "", "config", "--server", "review.example.com:9000", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Server configured: http://review.example.com:9000")

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "server_url: http://review.example.com:9000")

	out, _, err = runCLI(t, "", "config", "show", "-j", "--config", configPath)
	require.NoError(t, err)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "http://review.example.com:9000", shown["server_url"])
	assert.Equal(t, filepath.Join(filepath.Dir(configPath), "session.yaml"), shown["session"])

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(configPath), "session.yaml"), []byte("session_id: S1\n"), 0o600))
	_, _, err = runCLI(t, "", "config", "clear", "--config", configPath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(configPath), "session.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestHealthAndVersion(t *testing.T) {
	_, srv := newFakeService(t)
	configPath := writeTestConfig(t, srv.URL)

	out, _, err := runCLI(t, "", "health", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Service online")
	assert.Contains(t, out, "Sessions: 2 of 10 in use")
	assert.NotContains(t, out, "busy")

	out, _, err = runCLI(t, "", "version", "-j", "--config", configPath)
	require.NoError(t, err)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, getCLIVersion(), v["version"])
	assert.Equal(t, configPath, v["config_file"])
}
