package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/embedchat/pkg/assistant"
	"github.com/aixgo-dev/embedchat/pkg/assistant/assistanttest"
	"github.com/aixgo-dev/embedchat/pkg/chat"
	"github.com/aixgo-dev/embedchat/pkg/configstore"
	"github.com/aixgo-dev/embedchat/pkg/embed"
	"github.com/aixgo-dev/embedchat/pkg/provision"
	"github.com/aixgo-dev/embedchat/pkg/ratelimit"
	"github.com/aixgo-dev/embedchat/pkg/runpoller"
)

type testEnv struct {
	srv      *Server
	fake     *assistanttest.Fake
	store    *configstore.MemoryStore
	sessions chat.Manager
}

func newTestEnv(t *testing.T, opts Options, pollerOpts ...runpoller.Option) *testEnv {
	t.Helper()
	fake := assistanttest.New()
	store := configstore.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), configstore.AssistantConfig{
		ID:          "cfg-1",
		Name:        "Support",
		OwnerID:     "owner-1",
		APIKey:      "sk-test-secret-key",
		AssistantID: "asst_1",
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))

	clock := runpoller.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	pollerOpts = append([]runpoller.Option{runpoller.WithClock(clock)}, pollerOpts...)
	runner := chat.NewRunner(fake, runpoller.New(fake, pollerOpts...))
	sessions := chat.NewManager(runner, chat.ManagerConfig{})
	t.Cleanup(func() { _ = sessions.Shutdown(context.Background()) })

	srv := New(store, runner, sessions, provision.New(fake, store), opts)
	return &testEnv{srv: srv, fake: fake, store: store, sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body["error"]
}

func TestPostMessage_NewThread(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.fake.InitialStatus = assistant.RunStatusCompleted
	env.fake.Replies["run_1"] = []assistant.ThreadMessage{assistanttest.TextReply("m1", "run_1", "Hi there")}

	rec := env.do(t, http.MethodPost, "/chat/cfg-1/message", `{"message":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Hi there", resp.Response)
	assert.Equal(t, "thread_1", resp.ThreadID)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "run_1", resp.Messages[0].RunID)

	for _, call := range env.fake.Calls() {
		assert.Equal(t, "sk-test-secret-key", call.APIKey)
	}
	assert.NotContains(t, rec.Body.String(), "sk-test-secret-key")
}

func TestPostMessage_ExistingThread(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodPost, "/chat/cfg-1/message", `{"message":"Again","threadId":"thread_9"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Zero(t, env.fake.Count("create_thread"))
	calls := env.fake.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "add_message", calls[0].Op)
	assert.Equal(t, "thread_9", calls[0].ThreadID)
	assert.Equal(t, "Again", calls[0].Text)
	assert.Zero(t, env.srv.guard.Held())
}

func TestPostMessage_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		setup      func(*testEnv)
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing message",
			path:       "/chat/cfg-1/message",
			body:       `{"message":"  "}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "Message content is required.",
		},
		{
			name:       "empty body",
			path:       "/chat/cfg-1/message",
			wantStatus: http.StatusBadRequest,
			wantError:  "Message content is required.",
		},
		{
			name:       "unknown config",
			path:       "/chat/unknown-id/message",
			body:       `{"message":"Hello"}`,
			wantStatus: http.StatusNotFound,
			wantError:  "Configuration for this assistant could not be found. Please check the embed code.",
		},
		{
			name: "run expired",
			path: "/chat/cfg-1/message",
			body: `{"message":"Hello"}`,
			setup: func(e *testEnv) {
				e.fake.Statuses = []assistant.RunStatus{assistant.RunStatusExpired}
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Run finished with status: expired",
		},
		{
			name: "thread creation fails",
			path: "/chat/cfg-1/message",
			body: `{"message":"Hello"}`,
			setup: func(e *testEnv) {
				e.fake.SetErr("create_thread", &assistant.UpstreamError{Op: "create_thread", HTTPStatus: 401, Message: "bad key"})
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  "An error occurred while processing the chat message.",
		},
		{
			name: "upstream failure mid turn",
			path: "/chat/cfg-1/message",
			body: `{"message":"Hello"}`,
			setup: func(e *testEnv) {
				e.fake.SetErr("create_run", errors.New("connection reset"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  "An error occurred while processing the chat message.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{})
			if tt.setup != nil {
				tt.setup(env)
			}
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decodeError(t, rec))
		})
	}
}

func TestPostMessage_Timeout(t *testing.T) {
	env := newTestEnv(t, Options{}, runpoller.WithMaxAttempts(3))
	env.fake.Statuses = []assistant.RunStatus{assistant.RunStatusInProgress}

	rec := env.do(t, http.MethodPost, "/chat/cfg-1/message", `{"message":"Hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "The assistant did not respond in time.", decodeError(t, rec))
	assert.Equal(t, 3, env.fake.Count("get_run"))
}

func TestPostMessage_ThreadBusy(t *testing.T) {
	env := newTestEnv(t, Options{})
	release, ok := env.srv.guard.TryAcquire("thread_busy")
	require.True(t, ok)
	defer release()

	rec := env.do(t, http.MethodPost, "/chat/cfg-1/message", `{"message":"Hello","threadId":"thread_busy"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "A run is already pending for this conversation.", decodeError(t, rec))
	assert.Zero(t, env.fake.Count("add_message"))
}

func TestPostMessage_RateLimited(t *testing.T) {
	env := newTestEnv(t, Options{
		RateLimiter: ratelimit.New(ratelimit.Config{PerKeyPerSecond: 0.001, PerKeyBurst: 1}),
	})

	rec := env.do(t, http.MethodPost, "/chat/unknown-id/message", `{"message":"Hello"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/chat/cfg-1/message", `{"message":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/chat/cfg-1/message", `{"message":"Again","threadId":"thread_1"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many messages. Please wait a moment and try again.", decodeError(t, rec))
	assert.Equal(t, 1, env.fake.Count("add_message"))

	// Another visitor on the same config has its own bucket.
	rec = env.do(t, http.MethodPost, "/chat/cfg-1/message", `{"message":"Hi"}`, "X-Real-IP", "203.0.113.9")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, env.fake.Count("add_message"))
}

func TestChatPage(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/chat/cfg-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<title>Support</title>")
	assert.NotContains(t, rec.Body.String(), "sk-test-secret-key")
}

func TestChatPage_UnknownConfigShowsNotFound(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/chat/unknown-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), embed.NotFoundMessage)
}

func TestEmbedScript(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/embed/cfg-1.js", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/javascript")
	assert.Contains(t, rec.Body.String(), "http://example.com/chat/cfg-1")

	rec = env.do(t, http.MethodGet, "/embed/unknown-id.js", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), embed.NotFoundMessage)

	rec = env.do(t, http.MethodGet, "/embed/cfg-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmbedScript_PublicURL(t *testing.T) {
	env := newTestEnv(t, Options{PublicURL: "https://chat.example.org/"})

	rec := env.do(t, http.MethodGet, "/embed/cfg-1.js", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://chat.example.org/chat/cfg-1")
}

func TestPreviewPage(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/preview/cfg-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ai-chat-widget-container")

	rec = env.do(t, http.MethodGet, "/preview/unknown-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateConfig_Register(t *testing.T) {
	env := newTestEnv(t, Options{PublicURL: "https://chat.example.org"})

	rec := env.do(t, http.MethodPost, "/api/configs",
		`{"name":"Sales","apiKey":"sk-sales","assistantId":"asst_sales"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CreateConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Assistant configured successfully!", resp.Message)
	assert.Equal(t, "asst_sales", resp.AssistantID)
	assert.Equal(t, `<script src="https://chat.example.org/embed/`+resp.ConfigID+`.js" defer></script>`, resp.EmbedCode)
	assert.Equal(t, "https://chat.example.org/chat/"+resp.ConfigID, resp.ChatURL)
	assert.Equal(t, 1, env.fake.Count("retrieve_assistant"))

	stored, err := env.store.Get(context.Background(), resp.ConfigID)
	require.NoError(t, err)
	assert.Equal(t, "sk-sales", stored.APIKey)
}

func TestCreateConfig_Create(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.fake.AssistantID = "asst_created"

	rec := env.do(t, http.MethodPost, "/api/configs",
		`{"name":"Helper","apiKey":"sk-new","instructions":"Be brief."}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "asst_created")
	assert.Equal(t, 1, env.fake.Count("create_assistant"))
}

func TestCreateConfig_Failures(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodPost, "/api/configs", `{"name":"Helper","apiKey":"sk-new"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "All fields are required for creating.")

	env.fake.SetErr("retrieve_assistant", &assistant.UpstreamError{Op: "retrieve_assistant", HTTPStatus: 404, Message: "No assistant found"})
	rec = env.do(t, http.MethodPost, "/api/configs", `{"name":"x","apiKey":"sk","assistantId":"asst_missing"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to configure assistant. Please check your API key and Assistant ID.", decodeError(t, rec))
}

func TestConfigsAdmin(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/api/configs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Configs []configstore.AssistantConfig `json:"configs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Configs, 1)
	assert.Equal(t, "cfg-1", list.Configs[0].ID)
	assert.NotContains(t, rec.Body.String(), "sk-test-secret-key")

	rec = env.do(t, http.MethodGet, "/api/configs?owner=someone-else", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"configs":[]`)

	rec = env.do(t, http.MethodGet, "/api/configs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/configs/cfg-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-test-secret-key")

	rec = env.do(t, http.MethodDelete, "/api/configs/cfg-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/configs/cfg-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/configs/cfg-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigsAdmin_Token(t *testing.T) {
	env := newTestEnv(t, Options{AdminToken: "admin-secret"})

	rec := env.do(t, http.MethodGet, "/api/configs", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/configs", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/configs", "", "Authorization", "Bearer admin-secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	// The chat surface stays public.
	rec = env.do(t, http.MethodGet, "/chat/cfg-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestObservabilityRoutes(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")

	rec = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decodeError(t, rec))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestCheckOrigin(t *testing.T) {
	env := newTestEnv(t, Options{AllowedOrigins: []string{"https://shop.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/chat/cfg-1/ws", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	assert.True(t, env.srv.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, env.srv.checkOrigin(req))
}
