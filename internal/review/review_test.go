package review

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcode/reviewctl/internal/analysis"
	"github.com/smartcode/reviewctl/internal/config"
	"github.com/smartcode/reviewctl/internal/history"
	"github.com/smartcode/reviewctl/internal/notify"
	"github.com/smartcode/reviewctl/internal/session"
)

// reviewServer is an in-memory code review service.
type reviewServer struct {
	mu          sync.Mutex
	polls       map[string]int
	completeAt  int // poll number that reports COMPLETED, 0 for never
	ended       []string
	authHeaders []string
	expiresAt   time.Time
}

func newReviewServer(t *testing.T, completeAt int) (*reviewServer, *httptest.Server) {
	t.Helper()
	rs := &reviewServer{
		polls:      make(map[string]int),
		completeAt: completeAt,
		expiresAt:  time.Now().Add(20 * time.Minute),
	}
	srv := httptest.NewServer(rs.handler())
	t.Cleanup(srv.Close)
	return rs, srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (rs *reviewServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/create", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["email"] == "taken@example.com" {
			writeJSON(w, http.StatusConflict, map[string]any{"success": false, "message": "An active session already exists for this email"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessionId": "S1", "message": "OTP sent"})
	})
	mux.HandleFunc("POST /api/session/verify", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["sessionId"] != "S1" || req["otp"] != "123456" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid OTP"})
			return
		}
		rs.mu.Lock()
		exp := rs.expiresAt
		rs.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"sessionId": "S1",
			"token":     "T1",
			"expiresAt": exp.UnixMilli(),
			"userEmail": "alice@example.com",
			"metadata":  map[string]any{"maxAnalysisCount": 3},
		})
	})
	mux.HandleFunc("POST /api/session/end", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		rs.mu.Lock()
		rs.ended = append(rs.ended, req["sessionToken"])
		rs.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/analyze/code", func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.authHeaders = append(rs.authHeaders, r.Header.Get("Authorization"))
		rs.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "analysisId": "A1", "status": "SUBMITTED"})
	})
	mux.HandleFunc("GET /api/analysis/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sessionToken") != "T1" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid session"})
			return
		}
		id := r.PathValue("id")
		rs.mu.Lock()
		rs.polls[id]++
		n := rs.polls[id]
		rs.mu.Unlock()

		if rs.completeAt == 0 || n < rs.completeAt {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "analysisId": id, "status": "IN_PROGRESS", "progressPercentage": 50})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":            true,
			"analysisId":         id,
			"status":             "COMPLETED",
			"progressPercentage": 100,
			"result": map[string]any{
				"summary":      "Clean code",
				"overallScore": 8.5,
				"issues":       []map[string]any{{"id": "I1", "severity": "LOW", "title": "Naming"}},
				"quality":      map[string]any{"linesOfCode": 12},
			},
		})
	})
	mux.HandleFunc("GET /api/partial/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"partial": map[string]any{"message": "Reviewing", "findings": []string{"naming"}}})
	})
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "UP", "currentSessions": 9, "maxSessions": 10})
	})
	return mux
}

func (rs *reviewServer) pollCount(id string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.polls[id]
}

func testConfig(t *testing.T, serverURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ServerURL = serverURL + "/api"
	cfg.SessionFile = filepath.Join(t.TempDir(), "session.yaml")
	cfg.Session.ExpiryCheckInterval = 5 * time.Millisecond
	cfg.Analysis.PollInterval = 5 * time.Millisecond
	cfg.Analysis.PartialInterval = 5 * time.Millisecond
	cfg.Analysis.PollBudget = 5 * time.Second
	return cfg
}

func newTestClient(t *testing.T, cfg *config.Config, opts Options) *Client {
	t.Helper()
	if opts.History == nil && !opts.NoHistory {
		h, err := history.Open(":memory:", 0)
		require.NoError(t, err)
		t.Cleanup(func() { h.Close() })
		opts.History = h
	}
	c, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEndToEnd(t *testing.T) {
	rs, srv := newReviewServer(t, 3)
	cfg := testConfig(t, srv.URL)
	notices := &notify.Recorder{}
	var completed atomic.Int32
	c := newTestClient(t, cfg, Options{
		Sink:     notices,
		Handlers: analysis.Handlers{OnComplete: func(analysis.Job) { completed.Add(1) }},
	})
	ctx := context.Background()

	s, err := c.Session().CreateSession(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "S1", s.SessionID)
	assert.Equal(t, session.StateAwaitingOTP, c.Session().State())

	s, err = c.Session().VerifyOTP(ctx, "", "123456")
	require.NoError(t, err)
	assert.True(t, s.Verified)
	assert.Equal(t, 3, s.MaxAnalysisCount)
	assert.Equal(t, session.StateActive, c.Session().State())

	job, err := c.Analyze(ctx, analysis.CodePayload("def f(): pass", "python"))
	require.NoError(t, err)
	assert.Equal(t, analysis.PhaseCompleted, job.Phase)
	require.NotNil(t, job.Result)
	assert.Equal(t, 8.5, job.Result.OverallScore)
	assert.Equal(t, 3, rs.pollCount("A1"))
	assert.Equal(t, int32(1), completed.Load())
	assert.Equal(t, 1, notices.Count(notify.LevelSuccess, "Analysis complete!"))
	assert.Equal(t, 1, c.Session().Snapshot().AnalysisCount)

	rs.mu.Lock()
	assert.Equal(t, []string{"Bearer T1"}, rs.authHeaders)
	rs.mu.Unlock()

	entry, err := c.History().Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, 8.5, entry.OverallScore)
	assert.Equal(t, 1, entry.IssueCount)
	assert.Equal(t, 12, entry.LinesOfCode)
	assert.Equal(t, "inline", entry.Source)

	require.NoError(t, c.Session().EndSession(ctx))
	assert.Equal(t, session.StateNone, c.Session().State())
	rs.mu.Lock()
	assert.Equal(t, []string{"T1"}, rs.ended)
	rs.mu.Unlock()

	stored, err := session.NewFileStore(cfg.SessionFile).Load()
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSessionExpiryStopsTracking(t *testing.T) {
	rs, srv := newReviewServer(t, 0)
	cfg := testConfig(t, srv.URL)

	var offset atomic.Int64
	now := func() time.Time { return time.Now().Add(time.Duration(offset.Load())) }
	notices := &notify.Recorder{}
	var expired atomic.Int32
	c := newTestClient(t, cfg, Options{
		Sink:      notices,
		Now:       now,
		Callbacks: session.Callbacks{OnExpired: func() { expired.Add(1) }},
	})
	ctx := context.Background()

	_, err := c.Session().CreateSession(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	_, err = c.Session().VerifyOTP(ctx, "S1", "123456")
	require.NoError(t, err)

	job, err := c.Tracker().Submit(ctx, analysis.CodePayload("x = 1", "python"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rs.pollCount("A1") >= 2 }, time.Second, time.Millisecond)

	offset.Store(int64(time.Hour))

	final, err := c.Tracker().Wait(ctx, job.AnalysisID)
	assert.ErrorIs(t, err, analysis.ErrCancelled)
	assert.Equal(t, analysis.PhaseCancelled, final.Phase)
	assert.Equal(t, session.StateExpired, c.Session().State())
	assert.Equal(t, int32(1), expired.Load())
	assert.Equal(t, 1, notices.Count(notify.LevelWarning, session.MsgExpired))

	polls := rs.pollCount("A1")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, rs.pollCount("A1"))

	_, err = c.Tracker().Submit(ctx, analysis.CodePayload("x = 1", "python"))
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestEndSessionStopsTracking(t *testing.T) {
	_, srv := newReviewServer(t, 0)
	cfg := testConfig(t, srv.URL)
	c := newTestClient(t, cfg, Options{})
	ctx := context.Background()

	_, err := c.Session().CreateSession(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	_, err = c.Session().VerifyOTP(ctx, "", "123456")
	require.NoError(t, err)

	job, err := c.Tracker().Submit(ctx, analysis.CodePayload("x = 1", "python"))
	require.NoError(t, err)
	require.NoError(t, c.Session().EndSession(ctx))

	_, err = c.Tracker().Wait(ctx, job.AnalysisID)
	assert.ErrorIs(t, err, analysis.ErrCancelled)
}

func TestSessionSurvivesRestart(t *testing.T) {
	_, srv := newReviewServer(t, 0)
	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	first, err := New(cfg, Options{NoHistory: true})
	require.NoError(t, err)
	_, err = first.Session().CreateSession(ctx, "alice@example.com", "Alice")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// a pending session can be verified by the next process
	second := newTestClient(t, cfg, Options{NoHistory: true})
	assert.Equal(t, session.StateAwaitingOTP, second.Session().State())
	_, err = second.Session().VerifyOTP(ctx, "", "123456")
	require.NoError(t, err)
	require.NoError(t, second.Close())

	third := newTestClient(t, cfg, Options{NoHistory: true})
	assert.Equal(t, session.StateActive, third.Session().State())
	token, err := third.Session().AuthorizeAnalysis()
	require.NoError(t, err)
	assert.Equal(t, "T1", token)

	// the stored session blocks a second create
	_, err = third.Session().CreateSession(ctx, "alice@example.com", "Alice")
	assert.ErrorIs(t, err, session.ErrSessionConflict)
}

func TestRemoteRejectionIsSurfaced(t *testing.T) {
	_, srv := newReviewServer(t, 0)
	cfg := testConfig(t, srv.URL)
	notices := &notify.Recorder{}
	c := newTestClient(t, cfg, Options{Sink: notices, NoHistory: true})

	_, err := c.Session().CreateSession(context.Background(), "taken@example.com", "Taken")
	require.Error(t, err)
	assert.Equal(t, session.StateNone, c.Session().State())

	found := false
	for _, n := range notices.Notices() {
		if n.Level == notify.LevelError && strings.Contains(strings.ToLower(n.Message), "session") {
			found = true
		}
	}
	assert.True(t, found, "rejection reaches the sink")
}

func TestHealth(t *testing.T) {
	_, srv := newReviewServer(t, 0)
	c := newTestClient(t, testConfig(t, srv.URL), Options{NoHistory: true})

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Up())
	assert.True(t, h.Busy())
}
