package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a submission arrives while a run is pending.
	ErrBusy = errors.New("a run is already pending for this conversation")
	// ErrEmptyMessage is returned for empty or whitespace-only input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrClosed is returned by a session after Close.
	ErrClosed = errors.New("chat session is closed")
	// ErrSessionNotFound is returned by Manager lookups.
	ErrSessionNotFound = errors.New("chat session not found")
	// ErrTooManySessions is returned when the manager is at capacity.
	ErrTooManySessions = errors.New("too many live chat sessions")
)

// InitError reports a failed thread creation. The session stays usable and
// retries thread creation on the next submission.
type InitError struct {
	Err error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("create thread: %v", e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ChatError reports a failed turn. Err is the cause: an
// *assistant.UpstreamError, *runpoller.RunFailedError or
// *runpoller.TimeoutError, or a context error after teardown.
type ChatError struct {
	// RunID is empty when the turn failed before a run was created.
	RunID string
	Err   error
}

func (e *ChatError) Error() string {
	if e.RunID == "" {
		return fmt.Sprintf("chat turn failed: %v", e.Err)
	}
	return fmt.Sprintf("chat turn failed (run %s): %v", e.RunID, e.Err)
}

func (e *ChatError) Unwrap() error {
	return e.Err
}
