package chat

import (
	"context"
	"errors"

	"github.com/aixgo-dev/embedchat/internal/observability"
	"github.com/aixgo-dev/embedchat/pkg/assistant"
	metrics "github.com/aixgo-dev/embedchat/pkg/observability"
	"github.com/aixgo-dev/embedchat/pkg/runpoller"
)

// Runner executes turns against one upstream client. It is stateless and
// safe for concurrent use; callers serialize turns per thread.
type Runner struct {
	client assistant.Client
	poller *runpoller.Poller
}

// NewRunner creates a Runner. A nil poller uses runpoller defaults.
func NewRunner(client assistant.Client, poller *runpoller.Poller) *Runner {
	if poller == nil {
		poller = runpoller.New(client)
	}
	return &Runner{client: client, poller: poller}
}

// Client returns the upstream client.
func (r *Runner) Client() assistant.Client { return r.client }

// TurnResult is the outcome of a turn. Run is set once CreateRun succeeded,
// even when the turn failed afterwards.
type TurnResult struct {
	Run     assistant.RunHandle
	Replies []Message
}

// Turn adds text to the thread, runs the assistant, waits for the run and
// returns the replies that run produced, oldest first. onRun, if set, is
// called once the run exists.
func (r *Runner) Turn(ctx context.Context, creds assistant.Credentials, threadID, text string, onRun func(assistant.RunHandle)) (TurnResult, error) {
	ctx, span := observability.StartSpan(ctx, "chat.turn", map[string]any{
		"thread_id":    threadID,
		"assistant_id": creds.AssistantID,
	})
	defer span.End()

	res, err := r.turn(ctx, creds, threadID, text, onRun)
	metrics.RecordChatTurn(turnOutcome(err))
	if err != nil {
		span.SetError(err)
	}
	span.SetAttribute("run_id", res.Run.ID)
	span.SetAttribute("replies", len(res.Replies))
	return res, err
}

func (r *Runner) turn(ctx context.Context, creds assistant.Credentials, threadID, text string, onRun func(assistant.RunHandle)) (TurnResult, error) {
	var res TurnResult

	if err := r.client.AddMessage(ctx, creds.APIKey, threadID, text); err != nil {
		return res, err
	}

	run, err := r.client.CreateRun(ctx, creds.APIKey, threadID, creds.AssistantID)
	if err != nil {
		return res, err
	}
	res.Run = run
	if onRun != nil {
		onRun(run)
	}

	run, err = r.poller.Wait(ctx, creds.APIKey, run)
	res.Run = run
	if err != nil {
		return res, err
	}

	msgs, err := r.client.ListMessages(ctx, creds.APIKey, threadID)
	if err != nil {
		return res, err
	}
	res.Replies = RepliesForRun(msgs, run.ID)
	return res, nil
}

func turnOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, runpoller.ErrRunFailed):
		return "run_failed"
	case errors.Is(err, runpoller.ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "aborted"
	default:
		return "error"
	}
}
