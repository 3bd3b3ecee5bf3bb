// Package review wires the session controller, the analysis tracker and the local history
// into a single client for the code review service.
package review

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartcode/reviewctl/internal/analysis"
	"github.com/smartcode/reviewctl/internal/api"
	"github.com/smartcode/reviewctl/internal/common/apperrors"
	"github.com/smartcode/reviewctl/internal/common/httpclient"
	"github.com/smartcode/reviewctl/internal/config"
	"github.com/smartcode/reviewctl/internal/history"
	"github.com/smartcode/reviewctl/internal/notify"
	"github.com/smartcode/reviewctl/internal/session"
)

// historyTimeout bounds writing one history entry.
const historyTimeout = 5 * time.Second

// Options configures a Client. Zero values select the configured defaults.
type Options struct {
	Sink         notify.Sink       // notify.Nop when nil
	SessionStore session.Store     // FileStore at cfg.SessionPath() when nil
	History      *history.Store    // opened at cfg.HistoryPath() when nil, unless NoHistory
	NoHistory    bool              // run without a history database
	Transport    http.RoundTripper // overrides the HTTP transport
	Callbacks    session.Callbacks // invoked after the client's own session hooks
	Handlers     analysis.Handlers // invoked after the client's own analysis hooks
	Now          func() time.Time  // session clock
}

// Client is the assembled review client.
type Client struct {
	api         *api.Client
	session     *session.Controller
	tracker     *analysis.Tracker
	history     *history.Store
	ownsHistory bool
}

// New builds a client from cfg and restores any stored session. A session record that cannot
// be read is discarded and logged; it does not fail New.
func New(cfg *config.Config, opts Options) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = notify.Nop
	}

	var transportOpts []httpclient.ClientOptions
	if opts.Transport != nil {
		transportOpts = append(transportOpts, httpclient.ClientOptions{Transport: opts.Transport})
	}
	c := &Client{
		api:     api.New(httpclient.NewClient(cfg, transportOpts...)),
		history: opts.History,
	}

	if c.history == nil && !opts.NoHistory {
		h, err := history.Open(cfg.HistoryPath(), cfg.HistoryLimit)
		if err != nil {
			return nil, err
		}
		c.history = h
		c.ownsHistory = true
	}

	store := opts.SessionStore
	if store == nil {
		store = session.NewFileStore(cfg.SessionPath())
	}

	c.session = session.NewController(c.api, session.Options{
		Store: store,
		Sink:  sink,
		Config: session.Config{
			Lifetime:            cfg.Session.Lifetime,
			OTPWindow:           cfg.Session.OTPWindow,
			ExpiryCheckInterval: cfg.Session.ExpiryCheckInterval,
			AnalysisQuota:       cfg.Session.AnalysisQuota,
			Now:                 opts.Now,
		},
		Callbacks: c.sessionCallbacks(opts.Callbacks),
	})

	c.tracker = analysis.NewTracker(c.api, c.session, analysis.Options{
		Sink: sink,
		Config: analysis.Config{
			PollInterval:      cfg.Analysis.PollInterval,
			PartialInterval:   cfg.Analysis.PartialInterval,
			PollBudget:        cfg.Analysis.PollBudget,
			MaxCodeBytes:      cfg.Analysis.MaxCodeBytes,
			MaxArchiveBytes:   cfg.Analysis.MaxArchiveBytes,
			ArchiveExtensions: cfg.Analysis.ArchiveExtensions,
		},
		Handlers: c.analysisHandlers(opts.Handlers),
	})

	if _, err := c.session.Restore(); err != nil {
		log.Warn().Str("error", apperrors.Detail(err)).Msg("stored session discarded")
	}
	return c, nil
}

// sessionCallbacks stops tracking when the session goes away.
func (c *Client) sessionCallbacks(user session.Callbacks) session.Callbacks {
	return session.Callbacks{
		OnVerified: user.OnVerified,
		OnEnded: func() {
			c.tracker.Cancel()
			if user.OnEnded != nil {
				user.OnEnded()
			}
		},
		OnExpired: func() {
			c.tracker.Cancel()
			if user.OnExpired != nil {
				user.OnExpired()
			}
		},
	}
}

// analysisHandlers records completed jobs in the history.
func (c *Client) analysisHandlers(user analysis.Handlers) analysis.Handlers {
	h := user
	h.OnComplete = func(j analysis.Job) {
		c.record(j)
		if user.OnComplete != nil {
			user.OnComplete(j)
		}
	}
	return h
}

func (c *Client) record(j analysis.Job) {
	if c.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := c.history.RecordJob(ctx, j); err != nil {
		log.Warn().Str("analysis_id", j.AnalysisID).Str("error", apperrors.Detail(err)).Msg("unable to record analysis history")
	}
}

// Session returns the session controller.
func (c *Client) Session() *session.Controller { return c.session }

// Tracker returns the analysis tracker.
func (c *Client) Tracker() *analysis.Tracker { return c.tracker }

// History returns the history store, or nil when running without one.
func (c *Client) History() *history.Store { return c.history }

// Health probes the service.
func (c *Client) Health(ctx context.Context) (api.Health, error) {
	return c.api.Health(ctx)
}

// Analyze submits p and blocks until the analysis reaches a terminal state or ctx is done.
// Cancelling ctx stops tracking the job.
func (c *Client) Analyze(ctx context.Context, p analysis.Payload) (*analysis.Job, error) {
	job, err := c.tracker.Submit(ctx, p)
	if err != nil {
		return nil, err
	}
	final, err := c.tracker.Wait(ctx, job.AnalysisID)
	if ctx.Err() != nil {
		c.tracker.Cancel()
		return job, ctx.Err()
	}
	return final, err
}

// Close stops tracking, stops the expiry watch and closes the history database. The stored
// session is kept for the next process.
func (c *Client) Close() error {
	c.tracker.Close()
	c.session.Close()
	if c.ownsHistory {
		return c.history.Close()
	}
	return nil
}
