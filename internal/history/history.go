// Package history keeps a local record of finished analyses in SQLite.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/smartcode/reviewctl/internal/analysis"
	"github.com/smartcode/reviewctl/internal/common/apperrors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultLimit is the number of entries kept when Open is given no limit.
const DefaultLimit = 50

var (
	ErrHistory  = apperrors.New("history error").SetKind(apperrors.KindInternal)
	ErrOpen     = ErrHistory.New("unable to open history database")
	ErrNotFound = ErrHistory.New("analysis not found in history").SetKind(apperrors.KindValidation)
)

// Entry is one recorded analysis.
type Entry struct {
	AnalysisID   string    `json:"analysisId"`
	Language     string    `json:"language,omitempty"`
	Source       string    `json:"source"`
	Status       string    `json:"status"`
	OverallScore float64   `json:"overallScore"`
	IssueCount   int       `json:"issueCount"`
	LinesOfCode  int       `json:"linesOfCode"`
	Summary      string    `json:"summary,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// EntryFromJob summarises a finished job.
func EntryFromJob(j analysis.Job) Entry {
	e := Entry{
		AnalysisID: j.AnalysisID,
		Language:   j.Language,
		Source:     j.Source,
		Status:     string(j.Phase),
		CreatedAt:  j.FinishedAt,
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.SubmittedAt
	}
	if r := j.Result; r != nil {
		e.OverallScore = r.OverallScore
		e.IssueCount = len(r.Issues)
		e.Summary = r.Summary
		if r.Quality != nil {
			e.LinesOfCode = r.Quality.LinesOfCode
		}
	}
	return e
}

// Store is the history database.
type Store struct {
	db    *sql.DB
	limit int
}

// Open opens the SQLite database at path, running migrations, and keeps at most limit entries.
func Open(path string, limit int) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, ErrOpen.MsgErr("open db", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, ErrOpen.MsgErr("ping db", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, ErrOpen.MsgErr("run migrations", err)
	}

	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{db: db, limit: limit}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// Record inserts or replaces the entry for e.AnalysisID and prunes the oldest entries beyond
// the store limit.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.AnalysisID == "" {
		return ErrHistory.New("analysis id is required").SetKind(apperrors.KindValidation)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ErrHistory.Err(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analysis_history
			(analysis_id, language, source, status, overall_score, issue_count, lines_of_code, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(analysis_id) DO UPDATE SET
			language = excluded.language,
			source = excluded.source,
			status = excluded.status,
			overall_score = excluded.overall_score,
			issue_count = excluded.issue_count,
			lines_of_code = excluded.lines_of_code,
			summary = excluded.summary,
			created_at = excluded.created_at`,
		e.AnalysisID, e.Language, e.Source, e.Status, e.OverallScore, e.IssueCount, e.LinesOfCode, e.Summary, e.CreatedAt.UnixMilli())
	if err != nil {
		return ErrHistory.MsgErr("insert history entry", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM analysis_history WHERE id NOT IN (
			SELECT id FROM analysis_history ORDER BY created_at DESC, id DESC LIMIT ?
		)`, s.limit)
	if err != nil {
		return ErrHistory.MsgErr("prune history", err)
	}
	if err := tx.Commit(); err != nil {
		return ErrHistory.Err(err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		log.Debug().Int64("pruned", n).Msg("history pruned")
	}
	return nil
}

// RecordJob records a finished job.
func (s *Store) RecordJob(ctx context.Context, j analysis.Job) error {
	return s.Record(ctx, EntryFromJob(j))
}

// List returns up to limit entries, newest first. A non-positive limit returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT analysis_id, language, source, status, overall_score, issue_count, lines_of_code, summary, created_at
		FROM analysis_history ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, ErrHistory.MsgErr("list history", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, ErrHistory.Err(err)
	}
	return entries, nil
}

// Get returns the entry for analysisID.
func (s *Store) Get(ctx context.Context, analysisID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT analysis_id, language, source, status, overall_score, issue_count, lines_of_code, summary, created_at
		FROM analysis_history WHERE analysis_id = ?`, analysisID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var e Entry
	var created int64
	err := sc.Scan(&e.AnalysisID, &e.Language, &e.Source, &e.Status, &e.OverallScore, &e.IssueCount, &e.LinesOfCode, &e.Summary, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, ErrHistory.MsgErr("scan history entry", err)
	}
	e.CreatedAt = time.UnixMilli(created)
	return &e, nil
}
