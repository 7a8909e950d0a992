// Package assistant wraps the hosted Assistants API used by embedchat.
// It exposes the thread, message and run operations the chat layer needs,
// authenticated per call with the caller's secret key.
package assistant

import (
	"context"
	"time"
)

// RunStatus is the upstream status of a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// IsTerminal reports whether no further transitions can follow s.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s.IsFailure()
}

// IsFailure reports whether s is a failure-terminal status.
func (s RunStatus) IsFailure() bool {
	switch s {
	case RunStatusFailed, RunStatusCancelled, RunStatusExpired, RunStatusIncomplete:
		return true
	}
	return false
}

// Roles used in thread messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentTypeText is the only content type rendered as-is.
const ContentTypeText = "text"

// RunHandle tracks one run from submission until a terminal status is observed.
type RunHandle struct {
	ID          string
	ThreadID    string
	AssistantID string
	Status      RunStatus
	CreatedAt   time.Time
}

// ContentItem is one part of a thread message.
type ContentItem struct {
	Type string
	// Text is set only when Type is "text".
	Text string
}

// ThreadMessage is a message as returned by the message list endpoint.
type ThreadMessage struct {
	ID      string
	Role    string
	RunID   string
	Content []ContentItem
}

// AssistantSpec describes an assistant to create upstream.
type AssistantSpec struct {
	Name         string
	Instructions string
	Model        string
}

// DefaultModel is used by CreateAssistant when AssistantSpec.Model is empty.
const DefaultModel = "gpt-4o"

// Credentials identify which assistant to run and the key to run it with.
type Credentials struct {
	APIKey      string
	AssistantID string
}

// Client is the set of upstream operations used by embedchat.
// Implementations must be safe for concurrent use and must not retry.
type Client interface {
	CreateThread(ctx context.Context, apiKey string) (string, error)
	AddMessage(ctx context.Context, apiKey, threadID, text string) error
	CreateRun(ctx context.Context, apiKey, threadID, assistantID string) (RunHandle, error)
	GetRunStatus(ctx context.Context, apiKey, threadID, runID string) (RunStatus, error)
	// ListMessages returns the thread's messages oldest first.
	ListMessages(ctx context.Context, apiKey, threadID string) ([]ThreadMessage, error)
	CancelRun(ctx context.Context, apiKey, threadID, runID string) error

	CreateAssistant(ctx context.Context, apiKey string, spec AssistantSpec) (string, error)
	RetrieveAssistant(ctx context.Context, apiKey, assistantID string) error
}

// Pinger is implemented by clients that can tell whether the upstream API
// answers, without any tenant's key.
type Pinger interface {
	Ping(ctx context.Context) error
}
