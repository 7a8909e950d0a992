package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/aixgo-dev/embedchat/internal/observability"
	"github.com/aixgo-dev/embedchat/pkg/assistant"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// ID defaults to a new uuid.
	ID string
	// ConfigID is carried for logging only.
	ConfigID string
	// Greeting is seeded by Open. Empty uses GreetingMessage.
	Greeting string
	// CancelOnClose issues a best-effort upstream CancelRun for a run still
	// pending when the session closes.
	CancelOnClose bool
}

// Session is one conversation: a lazily created thread and an append-only
// transcript. Submissions are serialized; a second one while a turn is in
// flight fails with ErrBusy. Session is safe for concurrent use.
type Session struct {
	id     string
	creds  assistant.Credentials
	runner *Runner
	opts   SessionOptions
	logger zerolog.Logger

	// ctx lives until Close and bounds every upstream call.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	threadID   string
	transcript []Message
	busy       bool
	pending    *assistant.RunHandle
	degraded   bool
	closed     bool
	lastActive time.Time
}

// NewSession creates a session. No upstream call is made until Open or
// Submit.
func NewSession(runner *Runner, creds assistant.Credentials, opts SessionOptions) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Greeting == "" {
		opts.Greeting = GreetingMessage
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         opts.ID,
		creds:      creds,
		runner:     runner,
		opts:       opts,
		logger:     log.With().Str("session_id", opts.ID).Str("config_id", opts.ConfigID).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		transcript: make([]Message, 0),
		lastActive: time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ThreadID returns the upstream thread id, empty until one was created.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Transcript returns a copy of the transcript in conversation order.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.transcript...)
}

// Pending reports whether a submission is in flight.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// LastActive returns when the session last accepted a submission or was opened.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Open creates the thread eagerly and seeds the greeting. On failure the
// connect-failure notice is seeded instead and an *InitError returned; a
// later Submit retries thread creation. Open on a session that already has
// a thread is a no-op.
func (s *Session) Open(ctx context.Context) ([]Message, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrClosed
	case s.busy:
		s.mu.Unlock()
		return nil, ErrBusy
	case s.threadID != "":
		s.mu.Unlock()
		return nil, nil
	}
	s.busy = true
	s.lastActive = time.Now()
	s.mu.Unlock()
	defer s.release()

	ctx, stop := s.bind(ctx)
	defer stop()

	if err := s.ensureThread(ctx); err != nil {
		return s.seedConnectFailure(), err
	}

	greeting := newNotice(s.opts.Greeting, "")
	if !s.append(greeting) {
		return nil, ErrClosed
	}
	return []Message{greeting}, nil
}

// Submit sends text as the next user turn and returns the messages it
// appended to the transcript.
//
// Empty input, a pending turn and a closed session are rejected without
// touching the transcript. A thread creation failure seeds a single
// connect-failure notice and returns *InitError. Otherwise the user message
// is appended before any upstream call and stays in place whatever happens
// next; on success the run's replies follow it, on failure exactly one
// failure notice follows it and a *ChatError is returned.
func (s *Session) Submit(ctx context.Context, text string) ([]Message, error) {
	return s.SubmitNotify(ctx, text, nil)
}

// SubmitNotify is Submit with a callback that runs once the turn has been
// accepted, before any upstream call. Rejected input never calls accepted.
func (s *Session) SubmitNotify(ctx context.Context, text string, accepted func()) ([]Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrClosed
	case s.busy:
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.busy = true
	s.lastActive = time.Now()
	s.mu.Unlock()
	defer s.release()

	if accepted != nil {
		accepted()
	}

	ctx, stop := s.bind(ctx)
	defer stop()

	ctx, span := observability.StartSpan(ctx, "chat.submit", map[string]any{
		"session_id": s.id,
		"config_id":  s.opts.ConfigID,
	})
	defer span.End()

	if err := s.ensureThread(ctx); err != nil {
		span.SetError(err)
		return s.seedConnectFailure(), err
	}

	user := newUserMessage(text)
	if !s.append(user) {
		return nil, ErrClosed
	}
	appended := []Message{user}

	res, err := s.runner.Turn(ctx, s.creds, s.ThreadID(), text, s.setPending)
	if err != nil {
		span.SetError(err)
		s.logger.Warn().Err(err).
			Str("thread_id", s.ThreadID()).
			Str("run_id", res.Run.ID).
			Str("status", string(res.Run.Status)).
			Msg("chat turn failed")

		notice := newNotice(FailureMessage, res.Run.ID)
		if s.append(notice) {
			appended = append(appended, notice)
		}
		return appended, &ChatError{RunID: res.Run.ID, Err: err}
	}

	if !s.append(res.Replies...) {
		return appended, ErrClosed
	}
	s.logger.Debug().
		Str("thread_id", s.ThreadID()).
		Str("run_id", res.Run.ID).
		Int("replies", len(res.Replies)).
		Msg("chat turn completed")
	return append(appended, res.Replies...), nil
}

// Close tears the session down. A pending turn stops polling before Close
// returns and the transcript is frozen as it stands; with CancelOnClose the
// run is also cancelled upstream, best effort. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.pending
	threadID := s.threadID
	s.cancel()
	s.mu.Unlock()

	if s.opts.CancelOnClose && pending != nil {
		if err := s.runner.Client().CancelRun(ctx, s.creds.APIKey, threadID, pending.ID); err != nil {
			s.logger.Warn().Err(err).Str("run_id", pending.ID).Msg("cancel pending run")
		}
	}
	s.logger.Debug().Msg("chat session closed")
	return nil
}

// bind derives a context that ends with either ctx or the session. The
// session is the parent so Close cancels the turn before it returns; the
// caller's span is carried over for tracing.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancel(trace.ContextWithSpan(s.ctx, trace.SpanFromContext(ctx)))
	stop := context.AfterFunc(ctx, cancel)
	if ctx.Err() != nil {
		cancel()
	}
	return bound, func() {
		stop()
		cancel()
	}
}

func (s *Session) ensureThread(ctx context.Context) error {
	if s.ThreadID() != "" {
		return nil
	}
	id, err := s.runner.Client().CreateThread(ctx, s.creds.APIKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("create thread")
		return &InitError{Err: err}
	}

	s.mu.Lock()
	s.threadID = id
	s.degraded = false
	s.mu.Unlock()
	s.logger.Debug().Str("thread_id", id).Msg("thread created")
	return nil
}

// seedConnectFailure appends the connect-failure notice unless the session
// already shows it for the current outage or was closed.
func (s *Session) seedConnectFailure() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded || s.closed {
		return nil
	}
	s.degraded = true
	notice := newNotice(ConnectFailureMessage, "")
	s.transcript = append(s.transcript, notice)
	return []Message{notice}
}

func (s *Session) setPending(run assistant.RunHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &run
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.pending = nil
}

// append adds msgs to the transcript. A closed session's transcript is
// frozen; append then reports false.
func (s *Session) append(msgs ...Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.transcript = append(s.transcript, msgs...)
	return true
}
