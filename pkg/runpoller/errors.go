package runpoller

import (
	"errors"
	"fmt"
	"time"

	"github.com/aixgo-dev/embedchat/pkg/assistant"
)

var (
	// ErrTimeout matches any TimeoutError.
	ErrTimeout = errors.New("run did not finish in time")
	// ErrRunFailed matches any RunFailedError.
	ErrRunFailed = errors.New("run failed")
)

// RunFailedError reports a run that reached a failure-terminal status.
type RunFailedError struct {
	RunID  string
	Status assistant.RunStatus
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
}

func (e *RunFailedError) Is(target error) bool {
	return target == ErrRunFailed
}

// TimeoutError reports a run still non-terminal when the poller gave up.
// It is never produced by a provider-reported status.
type TimeoutError struct {
	RunID      string
	LastStatus assistant.RunStatus
	Attempts   int
	Waited     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run %s still %s after %d polls (%s)", e.RunID, e.LastStatus, e.Attempts, e.Waited)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
