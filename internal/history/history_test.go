package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcode/reviewctl/internal/analysis"
	"github.com/smartcode/reviewctl/internal/api"
)

func setupStore(t *testing.T, limit int) *Store {
	t.Helper()
	s, err := Open(":memory:", limit)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := setupStore(t, 0)
	ctx := context.Background()
	finished := time.UnixMilli(1_700_000_000_000)

	job := analysis.Job{
		AnalysisID: "A1",
		Phase:      analysis.PhaseCompleted,
		Language:   "python",
		Source:     analysis.InlineSource,
		FinishedAt: finished,
		Result: &api.ReviewResult{
			Summary:      "Looks fine",
			OverallScore: 8.5,
			Issues:       []api.Issue{{ID: "I1"}, {ID: "I2"}},
			Quality:      &api.QualityMetrics{LinesOfCode: 42},
		},
	}
	require.NoError(t, s.RecordJob(ctx, job))

	e, err := s.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "python", e.Language)
	assert.Equal(t, "inline", e.Source)
	assert.Equal(t, "COMPLETED", e.Status)
	assert.Equal(t, 8.5, e.OverallScore)
	assert.Equal(t, 2, e.IssueCount)
	assert.Equal(t, 42, e.LinesOfCode)
	assert.Equal(t, "Looks fine", e.Summary)
	assert.True(t, finished.Equal(e.CreatedAt))

	// recording the same analysis again replaces it
	job.Result.OverallScore = 9
	require.NoError(t, s.RecordJob(ctx, job))
	entries, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 9.0, entries[0].OverallScore)
}

func TestGetMissing(t *testing.T) {
	s := setupStore(t, 0)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordRequiresID(t *testing.T) {
	s := setupStore(t, 0)
	assert.Error(t, s.Record(context.Background(), Entry{Status: "COMPLETED"}))
}

func TestListNewestFirstAndPrune(t *testing.T) {
	s := setupStore(t, 3)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Record(ctx, Entry{
			AnalysisID: fmt.Sprintf("A%d", i),
			Status:     "COMPLETED",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "A5", entries[0].AnalysisID)
	assert.Equal(t, "A4", entries[1].AnalysisID)
	assert.Equal(t, "A3", entries[2].AnalysisID)

	_, err = s.Get(ctx, "A1")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err = s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDefaultLimit(t *testing.T) {
	s := setupStore(t, 0)
	ctx := context.Background()
	for i := 0; i < DefaultLimit+5; i++ {
		require.NoError(t, s.Record(ctx, Entry{AnalysisID: fmt.Sprintf("A%d", i), Status: "COMPLETED"}))
	}
	entries, err := s.List(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, entries, DefaultLimit)
}

func TestOpenFileReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), Entry{AnalysisID: "A1", Status: "COMPLETED"}))
	require.NoError(t, s.Close())

	s, err = Open(path, 0)
	require.NoError(t, err)
	defer s.Close()
	e, err := s.Get(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, "A1", e.AnalysisID)
}

func TestEntryFromJobFallsBackToSubmittedAt(t *testing.T) {
	submitted := time.UnixMilli(1_700_000_000_000)
	e := EntryFromJob(analysis.Job{AnalysisID: "A1", Phase: analysis.PhaseFailed, SubmittedAt: submitted})
	assert.Equal(t, "FAILED", e.Status)
	assert.True(t, submitted.Equal(e.CreatedAt))
	assert.Zero(t, e.IssueCount)
}
