// Package runpoller drives an Assistants API run from submission to a
// terminal status by polling its status at a fixed interval.
package runpoller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aixgo-dev/embedchat/internal/observability"
	"github.com/aixgo-dev/embedchat/pkg/assistant"
	metrics "github.com/aixgo-dev/embedchat/pkg/observability"
)

const (
	// DefaultInterval is the wait between two status reads.
	DefaultInterval = 1500 * time.Millisecond
	// DefaultMaxWait bounds the total time spent waiting on one run.
	DefaultMaxWait = 2 * time.Minute
)

// StatusReader is the single upstream read the poller performs.
type StatusReader interface {
	GetRunStatus(ctx context.Context, apiKey, threadID, runID string) (assistant.RunStatus, error)
}

// Poller waits for runs to finish. A Poller holds no per-run state and may
// be shared; callers must not poll the same thread concurrently.
type Poller struct {
	client      StatusReader
	interval    time.Duration
	maxWait     time.Duration
	maxAttempts int
	clock       Clock
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the wait between status reads.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxWait bounds the total wait per run. Zero or negative keeps the default.
func WithMaxWait(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.maxWait = d
		}
	}
}

// WithMaxAttempts bounds the number of status reads per run. Zero means no
// attempt bound; the wait bound still applies.
func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		if n >= 0 {
			p.maxAttempts = n
		}
	}
}

// WithClock replaces the time source.
func WithClock(c Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// New creates a Poller reading statuses through client.
func New(client StatusReader, opts ...Option) *Poller {
	p := &Poller{
		client:   client,
		interval: DefaultInterval,
		maxWait:  DefaultMaxWait,
		clock:    RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the configured wait between status reads.
func (p *Poller) Interval() time.Duration { return p.interval }

// Wait polls run until it reaches a terminal status and returns the handle
// carrying that status.
//
// The entry status is run.Status as returned by CreateRun; a run that is
// already terminal is never read. A non-terminal run is read once right
// away and then once per interval, so n reads cost n-1 waits. Each
// iteration performs exactly one GetRunStatus. Failure-terminal statuses
// return *RunFailedError, an exhausted bound returns *TimeoutError, a read
// error is returned as is, and a done ctx stops polling immediately.
func (p *Poller) Wait(ctx context.Context, apiKey string, run assistant.RunHandle) (assistant.RunHandle, error) {
	ctx, span := observability.StartSpan(ctx, "runpoller.wait", map[string]any{
		"run_id":    run.ID,
		"thread_id": run.ThreadID,
	})
	defer span.End()

	start := p.clock.Now()
	attempts := 0
	logger := log.With().Str("thread_id", run.ThreadID).Str("run_id", run.ID).Logger()

	finish := func(outcome string, err error) (assistant.RunHandle, error) {
		waited := p.clock.Now().Sub(start)
		metrics.RecordRunOutcome(outcome, waited)
		span.SetAttribute("attempts", attempts)
		span.SetAttribute("status", string(run.Status))
		span.SetError(err)
		logger.Debug().
			Str("status", string(run.Status)).
			Int("attempts", attempts).
			Dur("waited", waited).
			Msg("run wait finished")
		return run, err
	}

	for !run.Status.IsTerminal() {
		elapsed := p.clock.Now().Sub(start)
		if p.maxAttempts > 0 && attempts >= p.maxAttempts {
			return finish("timeout", p.timeout(run, attempts, elapsed))
		}

		if attempts > 0 {
			if elapsed+p.interval > p.maxWait {
				return finish("timeout", p.timeout(run, attempts, elapsed))
			}
			select {
			case <-ctx.Done():
				return finish("aborted", fmt.Errorf("wait for run %s: %w", run.ID, ctx.Err()))
			case <-p.clock.After(p.interval):
			}
		}
		// A cancel racing the timer must still stop the read.
		if err := ctx.Err(); err != nil {
			return finish("aborted", fmt.Errorf("wait for run %s: %w", run.ID, err))
		}

		status, err := p.client.GetRunStatus(ctx, apiKey, run.ThreadID, run.ID)
		attempts++
		metrics.RecordRunPoll()
		if err != nil {
			return finish("error", err)
		}
		logger.Debug().Str("status", string(status)).Int("attempt", attempts).Msg("run status")
		run.Status = status
	}

	if run.Status.IsFailure() {
		return finish(string(run.Status), &RunFailedError{RunID: run.ID, Status: run.Status})
	}
	return finish(string(run.Status), nil)
}

func (p *Poller) timeout(run assistant.RunHandle, attempts int, waited time.Duration) error {
	return &TimeoutError{
		RunID:      run.ID,
		LastStatus: run.Status,
		Attempts:   attempts,
		Waited:     waited,
	}
}
