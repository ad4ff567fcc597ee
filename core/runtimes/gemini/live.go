package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-bridge/core/runtimes"
	"github.com/koscakluka/ema-bridge/internal/utils"
)

const defaultLiveHost = "generativelanguage.googleapis.com"

// LiveClient connects to the bidirectional generation API: one websocket
// carries an entire multi-turn conversation and tool results resume the open
// stream in place.
type LiveClient struct {
	apiKey string
	model  string
	host   string
	scheme string
}

type LiveOption func(*LiveClient)

// WithLiveHost overrides the websocket host, mainly for tests.
func WithLiveHost(scheme, host string) LiveOption {
	return func(c *LiveClient) {
		c.scheme = scheme
		c.host = host
	}
}

// WithLiveAPIKey sets the API key explicitly instead of reading the
// environment.
func WithLiveAPIKey(apiKey string) LiveOption {
	return func(c *LiveClient) { c.apiKey = apiKey }
}

func NewLiveClient(model string, opts ...LiveOption) *LiveClient {
	c := &LiveClient{
		apiKey: os.Getenv("GEMINI_API_KEY"),
		model:  model,
		host:   defaultLiveHost,
		scheme: "wss",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ runtimes.LiveRuntime = (*LiveClient)(nil)

// Connect opens a live session and sends the setup message declaring the
// conversation's tools and instructions.
func (c *LiveClient) Connect(ctx context.Context, opts ...runtimes.TurnOption) (runtimes.LiveSession, error) {
	options := runtimes.TurnOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	urlValues := url.Values{}
	urlValues.Set("key", c.apiKey)
	endpoint := (&url.URL{
		Scheme:   c.scheme,
		Host:     c.host,
		Path:     "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
		RawQuery: urlValues.Encode(),
	}).String()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to live api: %w", err)
	}

	session := &liveSession{
		ws:     conn,
		chunks: make(chan chunkOrError, 64),
		closed: make(chan struct{}),
	}

	setup := setupMessage{Setup: setupPayload{
		Model: fmt.Sprintf("models/%s", c.model),
		Tools: toDeclarations(options.Tools),
	}}
	if options.Instructions != "" {
		setup.Setup.SystemInstruction = &content{Parts: []part{{Text: options.Instructions}}}
	}
	if err := session.writeJSON(setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send setup message: %w", err)
	}

	go session.processIncomingMessages(ctx)

	return session, nil
}

type chunkOrError struct {
	chunk runtimes.Chunk
	err   error
}

type liveSession struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	chunks    chan chunkOrError
	closed    chan struct{}
	closeOnce sync.Once
}

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model             string            `json:"model"`
	Tools             []toolDeclaration `json:"tools,omitempty"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
}

type clientContentMessage struct {
	ClientContent struct {
		Turns        []content `json:"turns"`
		TurnComplete bool      `json:"turnComplete"`
	} `json:"clientContent"`
}

type toolResponseMessage struct {
	ToolResponse struct {
		FunctionResponses []functionResponse `json:"functionResponses"`
	} `json:"toolResponse"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete"`
	ServerContent *serverContent `json:"serverContent"`
	ToolCall      *struct {
		FunctionCalls []functionCall `json:"functionCalls"`
	} `json:"toolCall"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
	ModelVersion  string         `json:"modelVersion"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn"`
	TurnComplete        bool           `json:"turnComplete"`
	GenerationComplete  bool           `json:"generationComplete"`
	Interrupted         bool           `json:"interrupted"`
	InputTranscription  *transcription `json:"inputTranscription"`
	OutputTranscription *transcription `json:"outputTranscription"`
}

type transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished"`
}

func (s *liveSession) SendMessage(ctx context.Context, message string) error {
	msg := clientContentMessage{}
	msg.ClientContent.Turns = []content{{Role: "user", Parts: []part{{Text: message}}}}
	msg.ClientContent.TurnComplete = true
	return s.writeJSON(msg)
}

func (s *liveSession) SendToolResult(ctx context.Context, result runtimes.ToolResult) error {
	response := result.Payload
	if response == nil {
		response = json.RawMessage("{}")
	}
	msg := toolResponseMessage{}
	msg.ToolResponse.FunctionResponses = []functionResponse{{
		ID:       result.ID,
		Name:     result.Name,
		Response: response,
	}}
	return s.writeJSON(msg)
}

func (s *liveSession) Chunks(ctx context.Context) func(func(runtimes.Chunk, error) bool) {
	return func(yield func(runtimes.Chunk, error) bool) {
		for {
			select {
			case item, ok := <-s.chunks:
				if !ok {
					return
				}
				if !yield(item.chunk, item.err) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *liveSession) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return s.ws.Close()
}

func (s *liveSession) writeJSON(message any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteJSON(message)
}

func (s *liveSession) processIncomingMessages(ctx context.Context) {
	defer close(s.chunks)

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			select {
			case <-s.closed:
			default:
				s.push(ctx, chunkOrError{err: fmt.Errorf("live stream read failed: %w", err)})
			}
			return
		}

		var message serverMessage
		if err := json.Unmarshal(data, &message); err != nil {
			logger.Warn("dropping unparseable live message", "error", err)
			continue
		}

		for _, item := range s.toChunks(message) {
			if !s.push(ctx, item) {
				return
			}
		}
	}
}

func (s *liveSession) push(ctx context.Context, item chunkOrError) bool {
	select {
	case s.chunks <- item:
		return true
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	}
}

func (s *liveSession) toChunks(message serverMessage) []chunkOrError {
	var items []chunkOrError
	push := func(chunk runtimes.Chunk) {
		items = append(items, chunkOrError{chunk: chunk})
	}

	if message.ToolCall != nil {
		for _, call := range message.ToolCall.FunctionCalls {
			id := call.ID
			if id == "" {
				id = "call-" + uuid.NewString()
			}
			push(runtimes.NewToolCallRequested(runtimes.ToolCall{
				ID:        id,
				Name:      call.Name,
				Arguments: string(call.Args),
			}))
		}
	}

	if message.UsageMetadata != nil || message.ModelVersion != "" {
		push(runtimes.NewMetadataUpdate(runtimes.TurnMetadata{
			Usage:        message.UsageMetadata.toUsage(),
			ModelVersion: message.ModelVersion,
		}))
	}

	serverContent := message.ServerContent
	if serverContent == nil {
		return items
	}

	if t := serverContent.InputTranscription; t != nil {
		push(runtimes.NewInputTranscript(t.Text, t.Finished))
	}
	if t := serverContent.OutputTranscription; t != nil {
		push(runtimes.NewOutputTranscript(t.Text, t.Finished))
	}

	if serverContent.ModelTurn != nil {
		for _, part := range serverContent.ModelTurn.Parts {
			switch {
			case part.InlineData != nil:
				data, err := decodeInlineData(part.InlineData)
				if err != nil {
					logger.Warn("dropping undecodable inline data", "error", err)
					continue
				}
				push(runtimes.NewAudioFrame(data, part.InlineData.MIMEType))
			case part.Thought:
				push(runtimes.NewReasoningDelta(part.Text))
			case part.Text != "":
				push(runtimes.NewContentDelta(part.Text))
			}
		}
	}

	if serverContent.TurnComplete {
		var reason *string
		if serverContent.Interrupted {
			reason = utils.Ptr("interrupted")
		}
		push(runtimes.NewTurnCompleted(reason))
	}

	return items
}
