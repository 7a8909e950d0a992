package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/aixgo-dev/embedchat/pkg/observability"
)

const (
	// DefaultBaseURL is the versioned Assistants API base path.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultRequestTimeout bounds every upstream call.
	DefaultRequestTimeout = 30 * time.Second

	listMessagesLimit = 100
)

// Config configures an OpenAIClient.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	// RequestsPerSecond throttles all upstream calls made by this client.
	// Zero disables the throttle.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// OpenAIClient implements Client on top of go-openai.
// A go-openai client is built per call because the secret key is per config.
type OpenAIClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

var (
	_ Client = (*OpenAIClient)(nil)
	_ Pinger = (*OpenAIClient)(nil)
)

// NewOpenAIClient creates a client; zero-valued fields take defaults.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	c := &OpenAIClient{
		baseURL:    cfg.BaseURL,
		timeout:    cfg.RequestTimeout,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultRequestTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

func (c *OpenAIClient) api(apiKey string) *openai.Client {
	conf := openai.DefaultConfig(apiKey)
	conf.BaseURL = c.baseURL
	conf.HTTPClient = c.httpClient
	return openai.NewClientWithConfig(conf)
}

// call runs fn under the throttle and the per-request timeout, and records
// the outcome.
func (c *OpenAIClient) call(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		observability.RecordUpstreamRequest(op, "throttled", time.Since(start))
		return &UpstreamError{Op: op, Message: fmt.Sprintf("throttle: %v", err), Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := wrapError(ctx, op, fn(reqCtx))
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.RecordUpstreamRequest(op, outcome, time.Since(start))
	return err
}

// CreateThread creates an empty thread.
func (c *OpenAIClient) CreateThread(ctx context.Context, apiKey string) (string, error) {
	var thread openai.Thread
	err := c.call(ctx, "create_thread", func(ctx context.Context) error {
		var err error
		thread, err = c.api(apiKey).CreateThread(ctx, openai.ThreadRequest{})
		return err
	})
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

// AddMessage appends a user message to the thread.
func (c *OpenAIClient) AddMessage(ctx context.Context, apiKey, threadID, text string) error {
	return c.call(ctx, "add_message", func(ctx context.Context) error {
		_, err := c.api(apiKey).CreateMessage(ctx, threadID, openai.MessageRequest{
			Role:    RoleUser,
			Content: text,
		})
		return err
	})
}

// CreateRun starts an asynchronous run of the assistant on the thread.
func (c *OpenAIClient) CreateRun(ctx context.Context, apiKey, threadID, assistantID string) (RunHandle, error) {
	var run openai.Run
	err := c.call(ctx, "create_run", func(ctx context.Context) error {
		var err error
		run, err = c.api(apiKey).CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
		return err
	})
	if err != nil {
		return RunHandle{}, err
	}
	if run.ID == "" {
		return RunHandle{}, &UpstreamError{Op: "create_run", Message: "response carried no run id"}
	}

	h := RunHandle{
		ID:          run.ID,
		ThreadID:    threadID,
		AssistantID: assistantID,
		Status:      RunStatus(run.Status),
		CreatedAt:   time.Now().UTC(),
	}
	if run.CreatedAt > 0 {
		h.CreatedAt = time.Unix(run.CreatedAt, 0).UTC()
	}
	if h.Status == "" {
		h.Status = RunStatusQueued
	}
	return h, nil
}

// GetRunStatus reads the current status of a run.
func (c *OpenAIClient) GetRunStatus(ctx context.Context, apiKey, threadID, runID string) (RunStatus, error) {
	var run openai.Run
	err := c.call(ctx, "get_run", func(ctx context.Context) error {
		var err error
		run, err = c.api(apiKey).RetrieveRun(ctx, threadID, runID)
		return err
	})
	if err != nil {
		return "", err
	}
	if run.Status == "" {
		return "", &UpstreamError{Op: "get_run", Message: "response carried no run status"}
	}
	return RunStatus(run.Status), nil
}

// ListMessages returns the thread's most recent messages, oldest first.
func (c *OpenAIClient) ListMessages(ctx context.Context, apiKey, threadID string) ([]ThreadMessage, error) {
	var list openai.MessagesList
	err := c.call(ctx, "list_messages", func(ctx context.Context) error {
		limit := listMessagesLimit
		var err error
		list, err = c.api(apiKey).ListMessage(ctx, threadID, &limit, nil, nil, nil, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]ThreadMessage, 0, len(list.Messages))
	for _, m := range list.Messages {
		out = append(out, fromOpenAIMessage(m))
	}
	// Upstream order is newest first.
	slices.Reverse(out)
	return out, nil
}

// CancelRun asks upstream to cancel a run.
func (c *OpenAIClient) CancelRun(ctx context.Context, apiKey, threadID, runID string) error {
	return c.call(ctx, "cancel_run", func(ctx context.Context) error {
		_, err := c.api(apiKey).CancelRun(ctx, threadID, runID)
		return err
	})
}

// CreateAssistant creates a new assistant with the code interpreter and
// file search tools enabled.
func (c *OpenAIClient) CreateAssistant(ctx context.Context, apiKey string, spec AssistantSpec) (string, error) {
	model := spec.Model
	if model == "" {
		model = DefaultModel
	}
	name := spec.Name
	instructions := spec.Instructions

	var created openai.Assistant
	err := c.call(ctx, "create_assistant", func(ctx context.Context) error {
		var err error
		created, err = c.api(apiKey).CreateAssistant(ctx, openai.AssistantRequest{
			Model:        model,
			Name:         &name,
			Instructions: &instructions,
			Tools: []openai.AssistantTool{
				{Type: openai.AssistantToolTypeCodeInterpreter},
				{Type: openai.AssistantToolTypeFileSearch},
			},
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// RetrieveAssistant checks that the assistant exists and the key can use it.
func (c *OpenAIClient) RetrieveAssistant(ctx context.Context, apiKey, assistantID string) error {
	return c.call(ctx, "retrieve_assistant", func(ctx context.Context) error {
		_, err := c.api(apiKey).RetrieveAssistant(ctx, assistantID)
		return err
	})
}

// Ping lists models without a key. Any answer below 500, including the
// expected 401, means the API is reachable. Ping bypasses the throttle so
// health probes do not spend chat capacity.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.api("").ListModels(reqCtx)
	err = wrapError(ctx, "ping", err)

	var ue *UpstreamError
	if errors.As(err, &ue) && ue.HTTPStatus > 0 && ue.HTTPStatus < http.StatusInternalServerError {
		err = nil
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.RecordUpstreamRequest("ping", outcome, time.Since(start))
	return err
}

func fromOpenAIMessage(m openai.Message) ThreadMessage {
	tm := ThreadMessage{
		ID:      m.ID,
		Role:    m.Role,
		Content: make([]ContentItem, 0, len(m.Content)),
	}
	if m.RunID != nil {
		tm.RunID = *m.RunID
	}
	for _, item := range m.Content {
		ci := ContentItem{Type: item.Type}
		if item.Type == ContentTypeText && item.Text != nil {
			ci.Text = item.Text.Value
		}
		tm.Content = append(tm.Content, ci)
	}
	return tm
}
