package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/embedchat/pkg/assistant"
	"github.com/aixgo-dev/embedchat/pkg/assistant/assistanttest"
	"github.com/aixgo-dev/embedchat/pkg/runpoller"
)

var testCreds = assistant.Credentials{APIKey: "sk-test", AssistantID: "asst_1"}

func newTestRunner(fake *assistanttest.Fake) *Runner {
	clock := runpoller.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewRunner(fake, runpoller.New(fake, runpoller.WithClock(clock)))
}

func newTestSession(fake *assistanttest.Fake, opts SessionOptions) *Session {
	return NewSession(newTestRunner(fake), testCreds, opts)
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

func TestSubmit_HelloHiThere(t *testing.T) {
	fake := assistanttest.New()
	fake.ThreadIDs = []string{"t1"}
	fake.RunIDs = []string{"r1"}
	fake.InitialStatus = assistant.RunStatusCompleted
	fake.Replies["r1"] = []assistant.ThreadMessage{assistanttest.TextReply("m1", "r1", "Hi there")}

	sess := newTestSession(fake, SessionOptions{})
	appended, err := sess.Submit(context.Background(), "Hello")
	require.NoError(t, err)

	assert.Equal(t, []string{"user:Hello", "assistant:Hi there"}, contents(sess.Transcript()))
	assert.Equal(t, contents(sess.Transcript()), contents(appended))
	assert.Equal(t, "t1", sess.ThreadID())
	assert.Equal(t, "r1", sess.Transcript()[1].RunID)
	assert.False(t, sess.Transcript()[1].Notice)
	// Completed at creation: no status read needed.
	assert.Zero(t, fake.Count("get_run"))
}

func TestSubmit_OrderingAcrossTurns(t *testing.T) {
	fake := assistanttest.New()
	fake.Statuses = []assistant.RunStatus{assistant.RunStatusInProgress, assistant.RunStatusCompleted}
	fake.Replies["run_1"] = []assistant.ThreadMessage{
		assistanttest.TextReply("a1", "run_1", "first-a"),
		assistanttest.TextReply("a2", "run_1", "first-b"),
	}
	fake.Replies["run_2"] = []assistant.ThreadMessage{assistanttest.TextReply("b1", "run_2", "second")}
	fake.Replies["run_3"] = []assistant.ThreadMessage{assistanttest.TextReply("c1", "run_3", "third")}

	sess := newTestSession(fake, SessionOptions{})
	for _, text := range []string{"one", "two", "three"} {
		_, err := sess.Submit(context.Background(), text)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		"user:one", "assistant:first-a", "assistant:first-b",
		"user:two", "assistant:second",
		"user:three", "assistant:third",
	}, contents(sess.Transcript()))
	assert.Equal(t, 1, fake.Count("create_thread"))

	for _, m := range sess.Transcript() {
		if m.Role == RoleAssistant {
			assert.NotEmpty(t, m.RunID, "assistant reply without run id: %q", m.Content)
		}
	}
}

func TestSubmit_BusyWhileRunPending(t *testing.T) {
	fake := assistanttest.New()
	fake.Statuses = []assistant.RunStatus{assistant.RunStatusInProgress, assistant.RunStatusCompleted}
	fake.Replies["run_1"] = []assistant.ThreadMessage{assistanttest.TextReply("a1", "run_1", "done")}

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	fake.StatusHook = func(context.Context, string) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}

	sess := newTestSession(fake, SessionOptions{})
	done := make(chan error, 1)
	go func() {
		_, err := sess.Submit(context.Background(), "first")
		done <- err
	}()
	<-started

	before := sess.Transcript()
	_, err := sess.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, before, sess.Transcript())
	assert.True(t, sess.Pending())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"user:first", "assistant:done"}, contents(sess.Transcript()))
	assert.Equal(t, 1, fake.Count("create_run"))
	assert.False(t, sess.Pending())
}

func TestSubmit_RunFailureAppendsOneNotice(t *testing.T) {
	for _, status := range []assistant.RunStatus{
		assistant.RunStatusFailed,
		assistant.RunStatusCancelled,
		assistant.RunStatusExpired,
	} {
		t.Run(string(status), func(t *testing.T) {
			fake := assistanttest.New()
			fake.Statuses = []assistant.RunStatus{status}

			sess := newTestSession(fake, SessionOptions{})
			appended, err := sess.Submit(context.Background(), "Hello")

			var ce *ChatError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "run_1", ce.RunID)
			var rf *runpoller.RunFailedError
			require.ErrorAs(t, err, &rf)
			assert.Equal(t, status, rf.Status)

			transcript := sess.Transcript()
			assert.Equal(t, []string{"user:Hello", "assistant:" + FailureMessage}, contents(transcript))
			assert.True(t, transcript[1].Notice)
			assert.Equal(t, "run_1", transcript[1].RunID)
			assert.Equal(t, transcript, appended)
			assert.Zero(t, fake.Count("list_messages"))
		})
	}
}

func TestSubmit_UpstreamErrorsBecomeChatErrors(t *testing.T) {
	tests := []struct {
		op        string
		wantRunID string
	}{
		{op: "add_message"},
		{op: "create_run"},
		{op: "get_run", wantRunID: "run_1"},
		{op: "list_messages", wantRunID: "run_1"},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			fake := assistanttest.New()
			fake.SetErr(tt.op, &assistant.UpstreamError{Op: tt.op, HTTPStatus: 500, Message: assistant.UnknownErrorMessage})

			sess := newTestSession(fake, SessionOptions{})
			_, err := sess.Submit(context.Background(), "Hello")

			var ce *ChatError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantRunID, ce.RunID)
			assert.True(t, assistant.IsUpstream(err))
			assert.Equal(t, []string{"user:Hello", "assistant:" + FailureMessage}, contents(sess.Transcript()))
		})
	}
}

func TestSubmit_PollTimeout(t *testing.T) {
	fake := assistanttest.New()
	fake.Statuses = []assistant.RunStatus{assistant.RunStatusInProgress}

	clock := runpoller.NewFakeClock(time.Now())
	runner := NewRunner(fake, runpoller.New(fake, runpoller.WithClock(clock), runpoller.WithMaxAttempts(4)))
	sess := NewSession(runner, testCreds, SessionOptions{})

	_, err := sess.Submit(context.Background(), "Hello")
	assert.ErrorIs(t, err, runpoller.ErrTimeout)
	assert.Equal(t, []string{"user:Hello", "assistant:" + FailureMessage}, contents(sess.Transcript()))
}

func TestSubmit_UnsupportedContent(t *testing.T) {
	fake := assistanttest.New()
	fake.Replies["run_1"] = []assistant.ThreadMessage{
		{
			ID:      "img",
			Role:    assistant.RoleAssistant,
			RunID:   "run_1",
			Content: []assistant.ContentItem{{Type: "image_file"}},
		},
		{ID: "empty", Role: assistant.RoleAssistant, RunID: "run_1"},
	}

	sess := newTestSession(fake, SessionOptions{})
	_, err := sess.Submit(context.Background(), "draw")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"user:draw",
		"assistant:" + UnsupportedContentMessage,
		"assistant:" + UnsupportedContentMessage,
	}, contents(sess.Transcript()))
}

func TestSubmit_EmptyMessage(t *testing.T) {
	fake := assistanttest.New()
	sess := newTestSession(fake, SessionOptions{})

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := sess.Submit(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Empty(t, sess.Transcript())
	assert.Empty(t, fake.Calls())
}

func TestSubmit_ThreadCreationFailure(t *testing.T) {
	fake := assistanttest.New()
	fake.SetErr("create_thread", &assistant.UpstreamError{Op: "create_thread", HTTPStatus: 401, Message: "bad key"})
	sess := newTestSession(fake, SessionOptions{})

	appended, err := sess.Submit(context.Background(), "Hello")
	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, []string{"assistant:" + ConnectFailureMessage}, contents(appended))

	// Still degraded: retried, but the notice is not repeated.
	appended, err = sess.Submit(context.Background(), "Hello again")
	require.ErrorAs(t, err, &ie)
	assert.Empty(t, appended)
	assert.Equal(t, []string{"assistant:" + ConnectFailureMessage}, contents(sess.Transcript()))
	assert.Equal(t, 2, fake.Count("create_thread"))

	fake.SetErr("create_thread", nil)
	fake.Replies["run_1"] = []assistant.ThreadMessage{assistanttest.TextReply("a1", "run_1", "back")}
	_, err = sess.Submit(context.Background(), "third try")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"assistant:" + ConnectFailureMessage,
		"user:third try",
		"assistant:back",
	}, contents(sess.Transcript()))
	assert.Equal(t, "thread_1", sess.ThreadID())
}

func TestOpen_SeedsGreeting(t *testing.T) {
	fake := assistanttest.New()
	sess := newTestSession(fake, SessionOptions{})

	seeded, err := sess.Open(context.Background())
	require.NoError(t, err)
	require.Len(t, seeded, 1)
	assert.Equal(t, GreetingMessage, seeded[0].Content)
	assert.True(t, seeded[0].Notice)
	assert.Equal(t, "thread_1", sess.ThreadID())

	seeded, err = sess.Open(context.Background())
	require.NoError(t, err)
	assert.Empty(t, seeded)
	assert.Len(t, sess.Transcript(), 1)
	assert.Equal(t, 1, fake.Count("create_thread"))
}

func TestOpen_CustomGreetingAndFailure(t *testing.T) {
	fake := assistanttest.New()
	sess := newTestSession(fake, SessionOptions{Greeting: "Welcome!"})
	_, err := sess.Open(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Welcome!", sess.Transcript()[0].Content)

	failing := assistanttest.New()
	failing.SetErr("create_thread", errors.New("dial tcp: refused"))
	sess = newTestSession(failing, SessionOptions{})
	seeded, err := sess.Open(context.Background())
	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, []string{"assistant:" + ConnectFailureMessage}, contents(seeded))
	assert.Empty(t, sess.ThreadID())
}

func TestClose_StopsPollingAndCancelsRun(t *testing.T) {
	fake := assistanttest.New()
	fake.Statuses = []assistant.RunStatus{assistant.RunStatusInProgress}

	started := make(chan struct{}, 1)
	fake.StatusHook = func(context.Context, string) {
		select {
		case started <- struct{}{}:
		default:
		}
	}

	// Real clock with a long interval: only Close can end the wait.
	runner := NewRunner(fake, runpoller.New(fake, runpoller.WithInterval(time.Hour), runpoller.WithMaxWait(2*time.Hour)))
	sess := NewSession(runner, testCreds, SessionOptions{CancelOnClose: true})

	done := make(chan error, 1)
	go func() {
		_, err := sess.Submit(context.Background(), "Hello")
		done <- err
	}()
	<-started

	require.NoError(t, sess.Close(context.Background()))

	select {
	case err := <-done:
		var ce *ChatError
		require.ErrorAs(t, err, &ce)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Submit did not return after Close")
	}

	assert.Equal(t, 1, fake.Count("get_run"))
	assert.Equal(t, 1, fake.Count("cancel_run"))
	assert.True(t, sess.Closed())
	assert.Equal(t, []string{"user:Hello"}, contents(sess.Transcript()))

	_, err := sess.Submit(context.Background(), "after close")
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, sess.Close(context.Background()))
	assert.Equal(t, 1, fake.Count("cancel_run"))
}

func TestClose_DuringStatusReadStopsPolling(t *testing.T) {
	fake := assistanttest.New()
	fake.Statuses = []assistant.RunStatus{assistant.RunStatusInProgress}

	var sess *Session
	reads := 0
	fake.StatusHook = func(context.Context, string) {
		reads++
		if reads == 2 {
			require.NoError(t, sess.Close(context.Background()))
		}
	}
	sess = newTestSession(fake, SessionOptions{CancelOnClose: true})

	_, err := sess.Submit(context.Background(), "Hello")
	var ce *ChatError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, runpoller.ErrTimeout)

	assert.Equal(t, 2, fake.Count("get_run"))
	assert.Equal(t, 1, fake.Count("cancel_run"))
	assert.Equal(t, []string{"user:Hello"}, contents(sess.Transcript()))
}

func TestOpen_AfterClose(t *testing.T) {
	fake := assistanttest.New()
	sess := newTestSession(fake, SessionOptions{})
	require.NoError(t, sess.Close(context.Background()))

	_, err := sess.Open(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, sess.Transcript())
	assert.Zero(t, fake.Count("create_thread"))
}

func TestSeedConnectFailure_SkippedOnceClosed(t *testing.T) {
	sess := newTestSession(assistanttest.New(), SessionOptions{})
	require.NoError(t, sess.Close(context.Background()))

	assert.Nil(t, sess.seedConnectFailure())
	assert.Empty(t, sess.Transcript())
}

func TestClose_WithoutCancelOnClose(t *testing.T) {
	fake := assistanttest.New()
	sess := newTestSession(fake, SessionOptions{})
	_, err := sess.Submit(context.Background(), "Hello")
	require.NoError(t, err)

	require.NoError(t, sess.Close(context.Background()))
	assert.Zero(t, fake.Count("cancel_run"))
}
