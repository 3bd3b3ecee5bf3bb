package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartcode/reviewctl/internal/api"
	"github.com/smartcode/reviewctl/internal/common/apperrors"
	"github.com/smartcode/reviewctl/internal/notify"
)

// State is the position of the controller in the session lifecycle.
type State string

const (
	StateNone        State = "NONE"
	StateCreating    State = "CREATING"
	StateAwaitingOTP State = "AWAITING_OTP"
	StateVerifying   State = "VERIFYING"
	StateActive      State = "ACTIVE"
	StateExpired     State = "EXPIRED"
)

// ConflictChoice resolves a SessionConflict.
type ConflictChoice int

const (
	// DiscardAndRetry clears the existing session so that CreateSession can be called again.
	DiscardAndRetry ConflictChoice = iota + 1
	// ContinueExisting makes the existing session current again.
	ContinueExisting
)

// Notices emitted by the controller.
const (
	MsgCodeSent        = "Verification code sent! Check your email."
	MsgVerified        = "Session verified! You can now analyze your code."
	MsgEnded           = "Session ended."
	MsgExpired         = "Your session has expired. Please create a new session to continue."
	MsgConflictCleared = "Previous session cleared. Please try again."
)

// API is the part of the service client the controller uses.
type API interface {
	CreateSession(ctx context.Context, email, name string) (*api.SessionResponse, error)
	VerifySession(ctx context.Context, sessionID, otp string) (*api.SessionResponse, error)
	EndSession(ctx context.Context, token string) error
}

// Callbacks are optional hooks invoked outside the controller's lock. Nil fields are no-ops.
type Callbacks struct {
	OnVerified func(Session)
	OnEnded    func()
	OnExpired  func()
}

// Config holds the lifecycle settings of a Controller.
type Config struct {
	Lifetime            time.Duration    // used when the service sends no expiry
	OTPWindow           time.Duration    // pending sessions older than this are dropped on Restore
	ExpiryCheckInterval time.Duration    // expiry watch tick
	AnalysisQuota       int              // used when the service sends no quota
	Now                 func() time.Time // clock, time.Now when nil
}

// Options configures a Controller.
type Options struct {
	Store     Store       // MemoryStore when nil
	Sink      notify.Sink // notify.Nop when nil
	Config    Config
	Callbacks Callbacks
}

// Controller owns the session state machine. It is safe for concurrent use; network calls
// are made without holding the lock and concurrent create/verify calls are rejected.
type Controller struct {
	mu       sync.Mutex
	state    State
	sess     *Session
	conflict *Session
	watch    *watch

	api   API
	store Store
	sink  notify.Sink
	cfg   Config
	cb    Callbacks
}

type watch struct {
	done chan struct{}
}

// NewController creates a controller in state NONE. Call Restore to pick up a stored session.
func NewController(client API, opts Options) *Controller {
	c := &Controller{
		state: StateNone,
		api:   client,
		store: opts.Store,
		sink:  opts.Sink,
		cfg:   opts.Config,
		cb:    opts.Callbacks,
	}
	if c.store == nil {
		c.store = &MemoryStore{}
	}
	if c.sink == nil {
		c.sink = notify.Nop
	}
	if c.cfg.Lifetime <= 0 {
		c.cfg.Lifetime = 20 * time.Minute
	}
	if c.cfg.OTPWindow <= 0 {
		c.cfg.OTPWindow = 10 * time.Minute
	}
	if c.cfg.ExpiryCheckInterval <= 0 {
		c.cfg.ExpiryCheckInterval = time.Second
	}
	if c.cfg.AnalysisQuota <= 0 {
		c.cfg.AnalysisQuota = 5
	}
	if c.cfg.Now == nil {
		c.cfg.Now = time.Now
	}
	if c.cb.OnVerified == nil {
		c.cb.OnVerified = func(Session) {}
	}
	if c.cb.OnEnded == nil {
		c.cb.OnEnded = func() {}
	}
	if c.cb.OnExpired == nil {
		c.cb.OnExpired = func() {}
	}
	return c
}

// CreateSession validates email and asks the service for a one-time code. An unexpired
// session, held in memory or in the store, makes this a SessionConflict; the existing session
// is kept for ResolveConflict and no request is sent.
func (c *Controller) CreateSession(ctx context.Context, email, name string) (*Session, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, c.fail(err)
	}
	c.CheckExpiry()

	c.mu.Lock()
	if c.inFlightLocked() {
		c.mu.Unlock()
		return nil, c.fail(ErrBusy)
	}
	existing := c.sess
	if existing == nil {
		existing = c.loadStoredLocked()
	}
	if existing != nil && !existing.ExpiresAt.IsZero() {
		c.conflict = existing.Clone()
		c.mu.Unlock()
		log.Info().Str("session_id", existing.SessionID).Msg("session create refused, session still active")
		notify.Send(c.sink, notify.LevelWarning, api.FriendlyMessage("active session already exists"))
		return nil, ErrSessionConflict
	}
	prev := c.state
	c.state = StateCreating
	c.mu.Unlock()

	resp, err := c.api.CreateSession(ctx, email, name)

	c.mu.Lock()
	if err != nil {
		if prev == StateAwaitingOTP && c.sess != nil {
			c.state = StateAwaitingOTP
		} else {
			c.state = StateNone
		}
		c.mu.Unlock()
		return nil, c.fail(err)
	}

	s := &Session{
		SessionID:        resp.SessionID,
		Email:            email,
		Name:             name,
		CreatedAt:        c.cfg.Now(),
		MaxAnalysisCount: c.cfg.AnalysisQuota,
	}
	if !resp.CreatedAt.IsZero() {
		s.CreatedAt = resp.CreatedAt.Time
	}
	c.sess = s
	c.conflict = nil
	c.state = StateAwaitingOTP
	c.persistLocked()
	out := s.Clone()
	c.mu.Unlock()

	log.Info().Str("session_id", s.SessionID).Msg("session created, awaiting verification")
	notify.Send(c.sink, notify.LevelSuccess, MsgCodeSent)
	return out, nil
}

// VerifyOTP submits the one-time code for the pending session. An empty sessionID refers to
// the pending session. On success the session becomes ACTIVE and the expiry watch starts;
// on failure the controller stays in AWAITING_OTP.
func (c *Controller) VerifyOTP(ctx context.Context, sessionID, code string) (*Session, error) {
	if err := ValidateOTP(code); err != nil {
		return nil, c.fail(err)
	}

	c.mu.Lock()
	if c.inFlightLocked() {
		c.mu.Unlock()
		return nil, c.fail(ErrBusy)
	}
	if c.sess == nil || c.sess.Verified {
		c.mu.Unlock()
		return nil, c.fail(ErrNoPendingSession)
	}
	if sessionID != "" && sessionID != c.sess.SessionID {
		c.mu.Unlock()
		return nil, c.fail(ErrSessionMismatch)
	}
	id := c.sess.SessionID
	c.state = StateVerifying
	c.mu.Unlock()

	resp, err := c.api.VerifySession(ctx, id, code)
	if err == nil && resp.BearerToken() == "" {
		err = ErrTokenMissing
	}

	c.mu.Lock()
	current := c.sess != nil && c.sess.SessionID == id && !c.sess.Verified
	if err != nil {
		if current {
			c.state = StateAwaitingOTP
		}
		c.mu.Unlock()
		return nil, c.fail(err)
	}
	if !current {
		// ended while the request was in flight
		c.mu.Unlock()
		return nil, c.fail(ErrNoPendingSession)
	}

	now := c.cfg.Now()
	s := c.sess
	s.SessionToken = resp.BearerToken()
	s.Verified = true
	if resp.UserEmail != "" {
		s.Email = resp.UserEmail
	}
	if !resp.CreatedAt.IsZero() {
		s.CreatedAt = resp.CreatedAt.Time
	}
	if !resp.ExpiresAt.IsZero() {
		s.ExpiresAt = resp.ExpiresAt.Time
	} else {
		s.ExpiresAt = now.Add(c.cfg.Lifetime)
	}
	if resp.Metadata != nil && resp.Metadata.MaxAnalysisCount > 0 {
		s.MaxAnalysisCount = resp.Metadata.MaxAnalysisCount
	}
	c.state = StateActive
	c.persistLocked()
	c.startWatchLocked()
	out := s.Clone()
	c.mu.Unlock()

	log.Info().Str("session_id", id).Time("expires_at", out.ExpiresAt).Msg("session verified")
	notify.Send(c.sink, notify.LevelSuccess, MsgVerified)
	c.cb.OnVerified(*out)
	return out.Clone(), nil
}

// EndSession tells the service the session is over and clears it locally. The remote call is
// best-effort; its failure is logged and does not prevent the local cleanup.
func (c *Controller) EndSession(ctx context.Context) error {
	c.mu.Lock()
	if c.inFlightLocked() {
		c.mu.Unlock()
		return c.fail(ErrBusy)
	}
	s := c.sess.Clone()
	if s == nil {
		s = c.loadStoredLocked()
	}
	c.mu.Unlock()

	if s == nil {
		return c.fail(ErrNoSession)
	}

	if s.SessionToken != "" {
		if err := c.api.EndSession(ctx, s.SessionToken); err != nil {
			log.Warn().Str("session_id", s.SessionID).Str("error", apperrors.Detail(err)).Msg("unable to notify service of session end")
		}
	}

	c.mu.Lock()
	if c.sess == nil || c.sess.SessionID == s.SessionID {
		c.clearLocked(StateNone)
	}
	c.mu.Unlock()

	log.Info().Str("session_id", s.SessionID).Msg("session ended")
	notify.Send(c.sink, notify.LevelInfo, MsgEnded)
	c.cb.OnEnded()
	return nil
}

// ResolveConflict settles the conflict raised by the last CreateSession. DiscardAndRetry
// clears the held session, telling the service on a best-effort basis, so CreateSession can be
// retried. ContinueExisting makes the held session current again and resumes its expiry watch.
func (c *Controller) ResolveConflict(ctx context.Context, choice ConflictChoice) (*Session, error) {
	c.mu.Lock()
	held := c.conflict
	if held == nil {
		c.mu.Unlock()
		return nil, c.fail(ErrNoConflict)
	}

	switch choice {
	case DiscardAndRetry:
		c.conflict = nil
		c.clearLocked(StateNone)
		c.mu.Unlock()

		if held.SessionToken != "" {
			if err := c.api.EndSession(ctx, held.SessionToken); err != nil {
				log.Debug().Str("session_id", held.SessionID).Str("error", apperrors.Detail(err)).Msg("unable to end discarded session")
			}
		}
		log.Info().Str("session_id", held.SessionID).Msg("conflicting session discarded")
		notify.Send(c.sink, notify.LevelInfo, MsgConflictCleared)
		return nil, nil

	case ContinueExisting:
		c.conflict = nil
		if held.Expired(c.cfg.Now()) {
			c.clearLocked(StateExpired)
			c.mu.Unlock()
			c.expired(held.SessionID)
			return nil, c.fail(ErrSessionExpired)
		}
		c.sess = held.Clone()
		if held.Usable(c.cfg.Now()) {
			c.state = StateActive
			c.startWatchLocked()
		} else {
			c.state = StateAwaitingOTP
		}
		c.persistLocked()
		out := c.sess.Clone()
		c.mu.Unlock()

		log.Info().Str("session_id", out.SessionID).Msg("continuing with existing session")
		return out, nil

	default:
		c.mu.Unlock()
		return nil, c.fail(ErrValidation.Msg("unknown conflict choice"))
	}
}

// CheckExpiry clears the session once its expiry has passed. It returns true only for the
// call that performed the transition, so the expiry notice is emitted exactly once.
func (c *Controller) CheckExpiry() bool {
	c.mu.Lock()
	if c.sess == nil || !c.sess.Expired(c.cfg.Now()) {
		c.mu.Unlock()
		return false
	}
	id := c.sess.SessionID
	c.clearLocked(StateExpired)
	c.mu.Unlock()

	c.expired(id)
	return true
}

func (c *Controller) expired(sessionID string) {
	log.Info().Str("session_id", sessionID).Msg("session expired")
	notify.Send(c.sink, notify.LevelWarning, MsgExpired)
	c.cb.OnExpired()
}

// Restore loads the stored session at process start. A verified unexpired session becomes
// ACTIVE, a recent pending one AWAITING_OTP; anything else is removed from the store.
func (c *Controller) Restore() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		return c.sess.Clone(), nil
	}
	s, err := c.store.Load()
	if err != nil {
		log.Warn().Str("error", apperrors.Detail(err)).Msg("discarding unreadable session record")
		c.clearStoreLocked()
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	now := c.cfg.Now()
	switch {
	case s.Usable(now):
		c.sess = s
		c.state = StateActive
		c.startWatchLocked()
	case !s.Verified && s.ExpiresAt.IsZero() && now.Sub(s.CreatedAt) < c.cfg.OTPWindow:
		c.sess = s
		c.state = StateAwaitingOTP
	default:
		log.Debug().Str("session_id", s.SessionID).Msg("dropping stale session record")
		c.clearStoreLocked()
		return nil, nil
	}
	return c.sess.Clone(), nil
}

// AuthorizeAnalysis returns the bearer token for an analysis request. The session must be
// verified, unexpired and within its analysis quota; nothing is sent otherwise.
func (c *Controller) AuthorizeAnalysis() (string, error) {
	c.CheckExpiry()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.sess == nil && c.state == StateExpired:
		return "", ErrSessionExpired
	case c.sess == nil:
		return "", ErrNoSession
	case !c.sess.Verified || c.sess.SessionToken == "":
		return "", ErrNotVerified
	case c.sess.QuotaLeft() == 0:
		return "", ErrQuotaExhausted
	}
	return c.sess.SessionToken, nil
}

// RecordAnalysis counts an accepted analysis against the session quota.
func (c *Controller) RecordAnalysis() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return
	}
	c.sess.AnalysisCount++
	c.persistLocked()
}

// Snapshot returns a copy of the current session, or nil.
func (c *Controller) Snapshot() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Clone()
}

// PendingConflict returns a copy of the session held by an unresolved conflict, or nil.
func (c *Controller) PendingConflict() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conflict.Clone()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns the time left on the current session.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return 0
	}
	return c.sess.Remaining(c.cfg.Now())
}

// Close stops the expiry watch. The session is left in the store.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopWatchLocked()
}

func (c *Controller) inFlightLocked() bool {
	return c.state == StateCreating || c.state == StateVerifying
}

// loadStoredLocked returns the stored session, dropping it when it is expired.
func (c *Controller) loadStoredLocked() *Session {
	s, err := c.store.Load()
	if err != nil {
		log.Warn().Str("error", apperrors.Detail(err)).Msg("unable to read session record")
		return nil
	}
	if s != nil && s.Expired(c.cfg.Now()) {
		c.clearStoreLocked()
		return nil
	}
	return s
}

func (c *Controller) clearLocked(next State) {
	c.stopWatchLocked()
	c.sess = nil
	c.state = next
	c.clearStoreLocked()
}

func (c *Controller) clearStoreLocked() {
	if err := c.store.Clear(); err != nil {
		log.Warn().Str("error", apperrors.Detail(err)).Msg("unable to clear session record")
	}
}

func (c *Controller) persistLocked() {
	if err := c.store.Save(c.sess); err != nil {
		log.Warn().Str("error", apperrors.Detail(err)).Msg("unable to save session record")
	}
}

func (c *Controller) startWatchLocked() {
	c.stopWatchLocked()
	w := &watch{done: make(chan struct{})}
	c.watch = w
	go c.runWatch(w, c.cfg.ExpiryCheckInterval)
}

func (c *Controller) stopWatchLocked() {
	if c.watch != nil {
		close(c.watch.done)
		c.watch = nil
	}
}

func (c *Controller) runWatch(w *watch, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			live := c.watch == w
			c.mu.Unlock()
			if !live {
				return
			}
			if c.CheckExpiry() {
				return
			}
		}
	}
}

// fail logs err with full detail and reports its user-safe text to the sink.
func (c *Controller) fail(err error) error {
	level := notify.LevelError
	if apperrors.IsKind(err, apperrors.KindConflict) {
		level = notify.LevelWarning
	}
	log.Warn().Str("kind", apperrors.KindOf(err).String()).Str("error", apperrors.Detail(err)).Msg("session operation failed")
	notify.Send(c.sink, level, api.UserMessage(err))
	return err
}
