package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/embedchat/pkg/assistant"
	"github.com/aixgo-dev/embedchat/pkg/assistant/assistanttest"
	"github.com/aixgo-dev/embedchat/pkg/chat"
)

func dialChat(t *testing.T, env *testEnv, configID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ts := httptest.NewServer(env.srv.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat/" + configID + "/ws"
	return websocket.DefaultDialer.Dial(url, nil)
}

func readFrame(t *testing.T, conn *websocket.Conn) outboundFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f outboundFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readTranscript skips busy frames until the next transcript arrives.
func readTranscript(t *testing.T, conn *websocket.Conn) []chat.Message {
	t.Helper()
	for {
		f := readFrame(t, conn)
		switch f.Type {
		case frameTranscript:
			return f.Messages
		case frameError:
			t.Fatalf("unexpected error frame: %s", f.Error)
		}
	}
}

func TestChatSocket_RoundTrip(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.fake.Replies["run_1"] = []assistant.ThreadMessage{assistanttest.TextReply("m1", "run_1", "Hi there")}

	conn, _, err := dialChat(t, env, "cfg-1")
	require.NoError(t, err)
	defer conn.Close()

	greeting := readTranscript(t, conn)
	require.Len(t, greeting, 1)
	assert.Equal(t, chat.GreetingMessage, greeting[0].Content)
	assert.Equal(t, 1, env.fake.Count("create_thread"))

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: frameMessage, Text: "Hello"}))

	transcript := readTranscript(t, conn)
	require.Len(t, transcript, 3)
	assert.Equal(t, chat.RoleUser, transcript[1].Role)
	assert.Equal(t, "Hello", transcript[1].Content)
	assert.Equal(t, "Hi there", transcript[2].Content)
	assert.Equal(t, "run_1", transcript[2].RunID)

	for _, f := range transcript {
		assert.NotContains(t, f.Content, "sk-test-secret-key")
	}
}

func TestChatSocket_RejectsBadFrames(t *testing.T) {
	env := newTestEnv(t, Options{})

	conn, _, err := dialChat(t, env, "cfg-1")
	require.NoError(t, err)
	defer conn.Close()
	readTranscript(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := readFrame(t, conn)
	assert.Equal(t, frameError, f.Type)
	assert.Equal(t, "invalid JSON message", f.Error)

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: "typing"}))
	f = readFrame(t, conn)
	assert.Equal(t, frameError, f.Type)
	assert.Contains(t, f.Error, "typing")

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: frameMessage, Text: "   "}))
	for {
		f = readFrame(t, conn)
		if f.Type != frameBusy {
			break
		}
	}
	assert.Equal(t, frameError, f.Type)
	assert.False(t, f.Busy)
	assert.Zero(t, env.fake.Count("add_message"))
}

func TestChatSocket_BusyRejectionKeepsInputLocked(t *testing.T) {
	env := newTestEnv(t, Options{})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	env.fake.StatusHook = func(ctx context.Context, _ string) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
	}

	conn, _, err := dialChat(t, env, "cfg-1")
	require.NoError(t, err)
	defer conn.Close()
	readTranscript(t, conn)

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: frameMessage, Text: "first"}))
	f := readFrame(t, conn)
	assert.Equal(t, frameBusy, f.Type)
	assert.True(t, f.Busy)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first turn never reached the status read")
	}

	// The rejected send gets an error frame only, and it still reports busy.
	require.NoError(t, conn.WriteJSON(inboundFrame{Type: frameMessage, Text: "second"}))
	f = readFrame(t, conn)
	assert.Equal(t, frameError, f.Type)
	assert.Equal(t, chat.ErrBusy.Error(), f.Error)
	assert.True(t, f.Busy)

	close(release)
	transcript := readTranscript(t, conn)
	require.Len(t, transcript, 2)
	assert.Equal(t, "first", transcript[1].Content)
	assert.Equal(t, 1, env.fake.Count("add_message"))
}

func TestChatSocket_CloseEndsSession(t *testing.T) {
	env := newTestEnv(t, Options{})

	conn, _, err := dialChat(t, env, "cfg-1")
	require.NoError(t, err)
	readTranscript(t, conn)
	assert.Equal(t, 1, env.sessions.Len())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return env.sessions.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestChatSocket_UnknownConfig(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, resp, err := dialChat(t, env, "unknown-id")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, env.sessions.Len())
}
