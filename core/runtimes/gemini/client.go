package gemini

import (
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/koscakluka/ema-bridge/core/runtimes"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Client is a single-shot Gemini runtime: every turn (and every
// continuation) is a fresh streaming HTTP request carrying the conversation
// so far.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client

	mu sync.Mutex
	// conversation accumulates request/response contents so continuations can
	// replay the turn.
	conversation []content
}

type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithAPIKey sets the API key explicitly instead of reading the environment.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) { c.apiKey = apiKey }
}

func NewClient(model string, opts ...ClientOption) *Client {
	apiKey := os.Getenv("GEMINI_API_KEY")
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ runtimes.Runtime = (*Client)(nil)

// StartTurn begins a new generation turn from a user message.
func (c *Client) StartTurn(ctx context.Context, message string, opts ...runtimes.TurnOption) (runtimes.Stream, error) {
	options := runtimes.TurnOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	c.mu.Lock()
	c.conversation = append(c.conversation, content{
		Role:  "user",
		Parts: []part{{Text: message}},
	})
	contents := append([]content(nil), c.conversation...)
	c.mu.Unlock()

	return c.newStream(contents, options), nil
}

// ContinueTurn resumes the turn with tool results.
func (c *Client) ContinueTurn(ctx context.Context, results []runtimes.ToolResult, opts ...runtimes.TurnOption) (runtimes.Stream, error) {
	options := runtimes.TurnOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	c.mu.Lock()
	c.conversation = append(c.conversation, content{
		Role:  "user",
		Parts: toFunctionResponses(results),
	})
	contents := append([]content(nil), c.conversation...)
	c.mu.Unlock()

	return c.newStream(contents, options), nil
}

// record stores a model response content so later continuations replay it.
func (c *Client) record(modelContent content) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversation = append(c.conversation, modelContent)
}
