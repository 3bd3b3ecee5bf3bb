// Package analysis tracks submitted code reviews until the service reports a terminal status.
//
// Each job runs two loops that share one cancellable context: the authoritative status poll,
// which alone decides the outcome, and a best-effort partial-result poll whose failures are
// only logged. A wall-clock budget bounds the status poll; running out of it ends the job as
// TIMED_OUT rather than FAILED, since the service may still finish it.
package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/smartcode/reviewctl/internal/api"
	"github.com/smartcode/reviewctl/internal/common/apperrors"
	"github.com/smartcode/reviewctl/internal/notify"
)

// API is the part of the service client the tracker uses.
type API interface {
	SubmitCode(ctx context.Context, token, code, language string) (*api.SubmitResponse, error)
	SubmitArchive(ctx context.Context, token, fileName string, data []byte) (*api.SubmitResponse, error)
	GetAnalysis(ctx context.Context, token, analysisID string) (*api.AnalysisResponse, error)
	GetPartial(ctx context.Context, token, analysisID string) (api.Partial, error)
}

// Authorizer supplies the bearer token for analysis requests and counts accepted analyses.
// The session controller implements it.
type Authorizer interface {
	AuthorizeAnalysis() (string, error)
	RecordAnalysis()
}

// Handlers are optional hooks. They run on the job's goroutines, outside the tracker's lock,
// and must not call Submit, Wait or Close. Nil fields are no-ops.
type Handlers struct {
	OnProgress func(Job)
	OnPartial  func(Job)
	OnComplete func(Job)
	OnFailed   func(Job, error)
}

// Config holds polling intervals and submission limits.
type Config struct {
	PollInterval      time.Duration
	PartialInterval   time.Duration
	PollBudget        time.Duration
	MaxCodeBytes      int
	MaxArchiveBytes   int64
	ArchiveExtensions []string
}

// DefaultConfig returns the limits and intervals of the hosted web client.
func DefaultConfig() Config {
	return Config{
		PollInterval:      2 * time.Second,
		PartialInterval:   3 * time.Second,
		PollBudget:        300 * time.Second,
		MaxCodeBytes:      100_000,
		MaxArchiveBytes:   50 * 1024 * 1024,
		ArchiveExtensions: []string{".zip", ".tar.gz", ".rar"},
	}
}

// Options configures a Tracker.
type Options struct {
	Sink     notify.Sink // notify.Nop when nil
	Config   Config      // zero fields take DefaultConfig values
	Handlers Handlers
}

// Tracker submits analyses and follows at most one of them at a time.
type Tracker struct {
	submitMu sync.Mutex // serialises Submit so only one job is ever polled

	mu      sync.Mutex
	runs    map[string]*run
	current *run
	closed  bool

	api  API
	auth Authorizer
	sink notify.Sink
	cfg  Config
	h    Handlers
}

// run is the tracking state of one analysis. job, err and finished are guarded by the
// tracker's lock.
type run struct {
	id     string
	token  string
	cancel context.CancelFunc
	done   chan struct{}
	logger zerolog.Logger

	finished bool
	job      Job
	err      error
}

// errFinished stops the job's errgroup once the status poll reached a terminal state.
var errFinished = errors.New("analysis finished")

// NewTracker creates a tracker.
func NewTracker(client API, auth Authorizer, opts Options) *Tracker {
	t := &Tracker{
		runs: make(map[string]*run),
		api:  client,
		auth: auth,
		sink: opts.Sink,
		cfg:  opts.Config,
		h:    opts.Handlers,
	}
	if t.sink == nil {
		t.sink = notify.Nop
	}

	def := DefaultConfig()
	if t.cfg.PollInterval <= 0 {
		t.cfg.PollInterval = def.PollInterval
	}
	if t.cfg.PartialInterval <= 0 {
		t.cfg.PartialInterval = def.PartialInterval
	}
	if t.cfg.PollBudget <= 0 {
		t.cfg.PollBudget = def.PollBudget
	}
	if t.cfg.MaxCodeBytes <= 0 {
		t.cfg.MaxCodeBytes = def.MaxCodeBytes
	}
	if t.cfg.MaxArchiveBytes <= 0 {
		t.cfg.MaxArchiveBytes = def.MaxArchiveBytes
	}
	if len(t.cfg.ArchiveExtensions) == 0 {
		t.cfg.ArchiveExtensions = def.ArchiveExtensions
	}

	if t.h.OnProgress == nil {
		t.h.OnProgress = func(Job) {}
	}
	if t.h.OnPartial == nil {
		t.h.OnPartial = func(Job) {}
	}
	if t.h.OnComplete == nil {
		t.h.OnComplete = func(Job) {}
	}
	if t.h.OnFailed == nil {
		t.h.OnFailed = func(Job, error) {}
	}
	return t
}

// Submit validates p, stops the job currently being tracked and waits for its loops to exit,
// then sends p and starts polling the new analysis. ctx bounds the submission request only;
// polling continues after Submit returns.
func (t *Tracker) Submit(ctx context.Context, p Payload) (*Job, error) {
	if err := Validate(p, t.cfg); err != nil {
		return nil, t.fail(err)
	}

	t.submitMu.Lock()
	defer t.submitMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrCancelled
	}
	prev := t.current
	t.mu.Unlock()
	if prev != nil {
		t.stop(prev)
		<-prev.done
	}

	token, err := t.auth.AuthorizeAnalysis()
	if err != nil {
		return nil, t.fail(err)
	}

	var resp *api.SubmitResponse
	if p.IsArchive() {
		resp, err = t.api.SubmitArchive(ctx, token, p.ArchiveName, p.Archive)
	} else {
		resp, err = t.api.SubmitCode(ctx, token, p.Code, p.Language)
	}
	if err != nil {
		return nil, t.fail(err)
	}
	t.auth.RecordAnalysis()

	// the service is not expected to reuse ids, but a live run for the key must stop first
	t.mu.Lock()
	stale := t.runs[resp.AnalysisID]
	t.mu.Unlock()
	if stale != nil {
		t.stop(stale)
		<-stale.done
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     resp.AnalysisID,
		token:  token,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: log.With().Str("analysis_id", resp.AnalysisID).Logger(),
		job: Job{
			AnalysisID:  resp.AnalysisID,
			Phase:       PhasePolling,
			Status:      resp.Status,
			Message:     resp.Message,
			Language:    p.Language,
			Source:      p.source(),
			SubmittedAt: time.Now(),
		},
	}
	if r.job.Status == "" {
		r.job.Status = api.StatusSubmitted
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return nil, ErrCancelled
	}
	t.pruneLocked()
	t.runs[r.id] = r
	t.current = r
	job := r.job.Clone()
	t.mu.Unlock()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return t.pollLoop(gctx, r) })
	g.Go(func() error { t.partialLoop(gctx, r); return nil })
	go func() {
		_ = g.Wait()
		cancel()
		close(r.done)
	}()

	r.logger.Info().Str("source", job.Source).Msg("analysis submitted")
	return job, nil
}

// pollLoop fetches the authoritative status every PollInterval until a terminal status, the
// budget runs out, or ctx is cancelled. Polls never overlap: the loop is sequential and a tick
// that fired while a poll was in flight is skipped.
func (t *Tracker) pollLoop(ctx context.Context, r *run) error {
	budgetCtx, cancelBudget := context.WithTimeout(ctx, t.cfg.PollBudget)
	defer cancelBudget()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-budgetCtx.Done():
			if ctx.Err() != nil {
				return nil
			}
			t.timeout(r)
			return errFinished
		case <-ticker.C:
			if t.poll(budgetCtx, r) {
				return errFinished
			}
			select {
			case <-ticker.C:
				r.logger.Debug().Msg("skipping tick fired during in-flight poll")
			default:
			}
		}
	}
}

// poll performs one status fetch and reports whether the job reached a terminal state.
func (t *Tracker) poll(ctx context.Context, r *run) bool {
	resp, err := t.api.GetAnalysis(ctx, r.token, r.id)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn().Str("kind", apperrors.KindOf(err).String()).Str("error", apperrors.Detail(err)).Msg("status poll failed, retrying on next tick")
		}
		return false
	}

	t.mu.Lock()
	if r.finished || ctx.Err() != nil {
		t.mu.Unlock()
		return false
	}
	r.job.Status = resp.Status
	r.job.Progress = resp.ProgressPercentage
	if resp.Message != "" {
		r.job.Message = resp.Message
	}

	var failure error
	switch resp.Status {
	case api.StatusCompleted:
		r.finished = true
		r.job.Phase = PhaseCompleted
		r.job.Result = cloneResult(resp.Result)
		r.job.FinishedAt = time.Now()
	case api.StatusFailed:
		msg := resp.Message
		if msg == "" {
			msg = "Unknown error"
		}
		failure = ErrAnalysisFailed.Msg("Analysis failed: " + msg)
		r.finished = true
		r.job.Phase = PhaseFailed
		r.job.FinishedAt = time.Now()
		r.err = failure
	}
	job := r.job.Clone()
	t.mu.Unlock()

	switch job.Phase {
	case PhaseCompleted:
		r.logger.Info().Msg("analysis completed")
		notify.Send(t.sink, notify.LevelSuccess, "Analysis complete!")
		t.h.OnComplete(*job)
		return true
	case PhaseFailed:
		r.logger.Warn().Str("message", job.Message).Msg("analysis failed")
		notify.Send(t.sink, notify.LevelError, failure.Error())
		t.h.OnFailed(*job, failure)
		return true
	}
	t.h.OnProgress(*job)
	return false
}

func (t *Tracker) timeout(r *run) {
	t.mu.Lock()
	if r.finished {
		t.mu.Unlock()
		return
	}
	r.finished = true
	r.job.Phase = PhaseTimedOut
	r.job.FinishedAt = time.Now()
	r.err = ErrPollTimeout
	job := r.job.Clone()
	t.mu.Unlock()

	r.logger.Warn().Dur("budget", t.cfg.PollBudget).Msg("polling budget exhausted")
	notify.Send(t.sink, notify.LevelWarning, ErrPollTimeout.Error())
	t.h.OnFailed(*job, ErrPollTimeout)
}

// partialLoop fetches the partial narrative every PartialInterval. Failures are only logged
// and results arriving after the job finished or stopped being current are dropped.
func (t *Tracker) partialLoop(ctx context.Context, r *run) {
	ticker := time.NewTicker(t.cfg.PartialInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p, err := t.api.GetPartial(ctx, r.token, r.id)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Debug().Str("error", apperrors.Detail(err)).Msg("partial fetch failed")
				}
				continue
			}

			t.mu.Lock()
			if r.finished || t.current != r || ctx.Err() != nil {
				t.mu.Unlock()
				r.logger.Debug().Msg("discarding late partial result")
				continue
			}
			r.job.Partial = api.Partial{Message: p.Message, Findings: append([]string(nil), p.Findings...)}
			job := r.job.Clone()
			t.mu.Unlock()

			t.h.OnPartial(*job)
		}
	}
}

// stop marks r cancelled unless it already finished and cancels its loops without waiting.
func (t *Tracker) stop(r *run) bool {
	t.mu.Lock()
	stopped := false
	if !r.finished {
		r.finished = true
		r.job.Phase = PhaseCancelled
		r.job.FinishedAt = time.Now()
		r.err = ErrCancelled
		stopped = true
	}
	t.mu.Unlock()

	r.cancel()
	if stopped {
		r.logger.Info().Msg("analysis tracking cancelled")
	}
	return stopped
}

// Cancel stops tracking the current job without waiting for its loops to exit, so it may be
// called from session callbacks. It reports whether a running job was stopped.
func (t *Tracker) Cancel() bool {
	t.mu.Lock()
	r := t.current
	t.mu.Unlock()
	if r == nil {
		return false
	}
	return t.stop(r)
}

// Wait blocks until the loops of the given analysis have exited and returns the final job
// and its terminal error: nil for COMPLETED, otherwise the failure, timeout or cancellation.
func (t *Tracker) Wait(ctx context.Context, analysisID string) (*Job, error) {
	t.mu.Lock()
	r := t.runs[analysisID]
	t.mu.Unlock()
	if r == nil {
		return nil, ErrUnknownJob.Msg("unknown analysis " + analysisID)
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return r.job.Clone(), r.err
}

// Current returns a copy of the most recently submitted job, or nil.
func (t *Tracker) Current() *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	return t.current.job.Clone()
}

// Status fetches the status of any analysis once, outside of tracking.
func (t *Tracker) Status(ctx context.Context, analysisID string) (*api.AnalysisResponse, error) {
	token, err := t.auth.AuthorizeAnalysis()
	if err != nil {
		return nil, err
	}
	resp, err := t.api.GetAnalysis(ctx, token, analysisID)
	if err != nil {
		log.Debug().Str("analysis_id", analysisID).Str("error", apperrors.Detail(err)).Msg("status fetch failed")
		return nil, err
	}
	return resp, nil
}

// Close stops every job and waits for all loops to exit. Submit fails afterwards.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	runs := make([]*run, 0, len(t.runs))
	for _, r := range t.runs {
		runs = append(runs, r)
	}
	t.mu.Unlock()

	for _, r := range runs {
		t.stop(r)
	}
	for _, r := range runs {
		<-r.done
	}
}

// pruneLocked forgets runs whose loops have exited, except the current one.
func (t *Tracker) pruneLocked() {
	for id, r := range t.runs {
		if r == t.current {
			continue
		}
		select {
		case <-r.done:
			delete(t.runs, id)
		default:
		}
	}
}

// fail logs err and reports its user-safe text to the sink.
func (t *Tracker) fail(err error) error {
	log.Warn().Str("kind", apperrors.KindOf(err).String()).Str("error", apperrors.Detail(err)).Msg("analysis request failed")
	notify.Send(t.sink, notify.LevelError, api.UserMessage(err))
	return err
}
