// Package assistanttest provides a scripted assistant.Client for tests.
package assistanttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aixgo-dev/embedchat/pkg/assistant"
)

// Call records one invocation made against the fake.
type Call struct {
	Op       string
	APIKey   string
	ThreadID string
	RunID    string
	Text     string
}

// Fake is a scripted, concurrency-safe assistant.Client.
//
// Runs created by the fake take the next status from Statuses on every
// GetRunStatus call; once exhausted the last status repeats. Replies maps a
// run id to the assistant messages produced by that run.
type Fake struct {
	mu sync.Mutex

	ThreadIDs []string
	RunIDs    []string
	// InitialStatus is returned by CreateRun (default queued).
	InitialStatus assistant.RunStatus
	Statuses      []assistant.RunStatus
	Replies       map[string][]assistant.ThreadMessage
	AssistantID   string

	// Errs makes the named operation fail, e.g. Errs["create_thread"].
	Errs map[string]error
	// StatusHook runs before GetRunStatus returns; tests use it to block or
	// close a session mid-poll.
	StatusHook func(ctx context.Context, runID string)

	calls      []Call
	threadSeq  int
	runSeq     int
	statusPos  int
	userByTurn map[string][]assistant.ThreadMessage
}

var _ assistant.Client = (*Fake)(nil)

// New returns a fake whose runs complete immediately with no replies.
func New() *Fake {
	return &Fake{
		Replies:    make(map[string][]assistant.ThreadMessage),
		Errs:       make(map[string]error),
		userByTurn: make(map[string][]assistant.ThreadMessage),
	}
}

// TextReply builds an assistant message carrying plain text.
func TextReply(id, runID, text string) assistant.ThreadMessage {
	return assistant.ThreadMessage{
		ID:      id,
		Role:    assistant.RoleAssistant,
		RunID:   runID,
		Content: []assistant.ContentItem{{Type: assistant.ContentTypeText, Text: text}},
	}
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many times op was called.
func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// SetErr sets or clears the error for op.
func (f *Fake) SetErr(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errs, op)
		return
	}
	f.Errs[op] = err
}

func (f *Fake) record(c Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.Errs[c.Op]
}

func (f *Fake) CreateThread(ctx context.Context, apiKey string) (string, error) {
	if err := f.record(Call{Op: "create_thread", APIKey: apiKey}); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadSeq++
	if f.threadSeq <= len(f.ThreadIDs) {
		return f.ThreadIDs[f.threadSeq-1], nil
	}
	return fmt.Sprintf("thread_%d", f.threadSeq), nil
}

func (f *Fake) AddMessage(ctx context.Context, apiKey, threadID, text string) error {
	if err := f.record(Call{Op: "add_message", APIKey: apiKey, ThreadID: threadID, Text: text}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userByTurn[threadID] = append(f.userByTurn[threadID], assistant.ThreadMessage{
		ID:      fmt.Sprintf("msg_user_%d", len(f.userByTurn[threadID])+1),
		Role:    assistant.RoleUser,
		Content: []assistant.ContentItem{{Type: assistant.ContentTypeText, Text: text}},
	})
	return nil
}

func (f *Fake) CreateRun(ctx context.Context, apiKey, threadID, assistantID string) (assistant.RunHandle, error) {
	if err := f.record(Call{Op: "create_run", APIKey: apiKey, ThreadID: threadID}); err != nil {
		return assistant.RunHandle{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runSeq++
	id := fmt.Sprintf("run_%d", f.runSeq)
	if f.runSeq <= len(f.RunIDs) {
		id = f.RunIDs[f.runSeq-1]
	}
	status := f.InitialStatus
	if status == "" {
		status = assistant.RunStatusQueued
	}
	return assistant.RunHandle{
		ID:          id,
		ThreadID:    threadID,
		AssistantID: assistantID,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (f *Fake) GetRunStatus(ctx context.Context, apiKey, threadID, runID string) (assistant.RunStatus, error) {
	if err := f.record(Call{Op: "get_run", APIKey: apiKey, ThreadID: threadID, RunID: runID}); err != nil {
		return "", err
	}
	if f.StatusHook != nil {
		f.StatusHook(ctx, runID)
	}
	if err := ctx.Err(); err != nil {
		return "", &assistant.UpstreamError{Op: "get_run", Message: err.Error(), Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Statuses) == 0 {
		return assistant.RunStatusCompleted, nil
	}
	pos := f.statusPos
	if pos >= len(f.Statuses) {
		pos = len(f.Statuses) - 1
	} else {
		f.statusPos++
	}
	return f.Statuses[pos], nil
}

// ListMessages returns the thread's user messages followed by the replies
// registered for every run created so far. Tests rely only on the relative
// order of replies.
func (f *Fake) ListMessages(ctx context.Context, apiKey, threadID string) ([]assistant.ThreadMessage, error) {
	if err := f.record(Call{Op: "list_messages", APIKey: apiKey, ThreadID: threadID}); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]assistant.ThreadMessage(nil), f.userByTurn[threadID]...)
	for i := 1; i <= f.runSeq; i++ {
		id := fmt.Sprintf("run_%d", i)
		if i <= len(f.RunIDs) {
			id = f.RunIDs[i-1]
		}
		out = append(out, f.Replies[id]...)
	}
	return out, nil
}

func (f *Fake) CancelRun(ctx context.Context, apiKey, threadID, runID string) error {
	return f.record(Call{Op: "cancel_run", APIKey: apiKey, ThreadID: threadID, RunID: runID})
}

func (f *Fake) CreateAssistant(ctx context.Context, apiKey string, spec assistant.AssistantSpec) (string, error) {
	if err := f.record(Call{Op: "create_assistant", APIKey: apiKey, Text: spec.Name}); err != nil {
		return "", err
	}
	if f.AssistantID != "" {
		return f.AssistantID, nil
	}
	return "asst_fake", nil
}

func (f *Fake) RetrieveAssistant(ctx context.Context, apiKey, assistantID string) error {
	return f.record(Call{Op: "retrieve_assistant", APIKey: apiKey, Text: assistantID})
}
