package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-bridge/core/runtimes"
	"github.com/koscakluka/ema-bridge/internal/utils"
	"go.opentelemetry.io/otel/attribute"
)

// Stream is one streaming generateContent request.
type Stream struct {
	client   *Client
	contents []content
	options  runtimes.TurnOptions
}

func (c *Client) newStream(contents []content, options runtimes.TurnOptions) *Stream {
	return &Stream{client: c, contents: contents, options: options}
}

func (s *Stream) Chunks(ctx context.Context) func(func(runtimes.Chunk, error) bool) {
	requestTime := time.Now()
	firstChunk := true

	return func(yield func(runtimes.Chunk, error) bool) {
		ctx, span := tracer.Start(ctx, "generate content stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.client.model))

		reqBody := generateRequest{
			Contents: s.contents,
			Tools:    toDeclarations(s.options.Tools),
		}
		if s.options.Instructions != "" {
			reqBody.SystemInstruction = &content{Parts: []part{{Text: s.options.Instructions}}}
		}

		requestBodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			err = fmt.Errorf("error marshalling JSON: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", s.client.baseURL, s.client.model)
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			err = fmt.Errorf("error creating request: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", s.client.apiKey)

		resp, err := s.client.http.Do(req)
		if err != nil {
			err = fmt.Errorf("error sending request: %w", err)
			span.RecordError(err)
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			err = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
			span.RecordError(err)
			yield(nil, err)
			return
		}

		modelContent := content{Role: "model"}
		finishReason := ""

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}

			if firstChunk {
				span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestTime).Seconds()))
				span.AddEvent("received first chunk")
				firstChunk = false
			}

			var response generateResponse
			if err := json.Unmarshal([]byte(payload), &response); err != nil {
				if !yield(nil, fmt.Errorf("error parsing chunk: %w", err)) {
					return
				}
				continue
			}

			for _, chunk := range s.toChunks(response, &modelContent, &finishReason) {
				if !yield(chunk, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			span.RecordError(err)
			yield(nil, fmt.Errorf("error reading stream: %w", err))
			return
		}

		if len(modelContent.Parts) > 0 {
			s.client.record(modelContent)
		}
		if !yield(runtimes.NewTurnCompleted(finishReasonPtr(finishReason)), nil) {
			return
		}
	}
}

// toChunks translates one response message into generation events, appending
// model parts to the turn record along the way.
func (s *Stream) toChunks(response generateResponse, modelContent *content, finishReason *string) []runtimes.Chunk {
	var chunks []runtimes.Chunk

	metadata := runtimes.TurnMetadata{
		Usage:        response.UsageMetadata.toUsage(),
		ModelVersion: response.ModelVersion,
	}

	for _, candidate := range response.Candidates {
		if candidate.FinishReason != "" {
			*finishReason = candidate.FinishReason
		}
		if candidate.GroundingMetadata != nil {
			metadata.Grounding = candidate.GroundingMetadata
		}
		if candidate.CitationMetadata != nil {
			metadata.Citations = candidate.CitationMetadata.Citations
		}
		if candidate.Content == nil {
			continue
		}

		for _, part := range candidate.Content.Parts {
			modelContent.Parts = append(modelContent.Parts, part)

			switch {
			case part.FunctionCall != nil:
				id := part.FunctionCall.ID
				if id == "" {
					id = "call-" + uuid.NewString()
				}
				chunks = append(chunks, runtimes.NewToolCallRequested(runtimes.ToolCall{
					ID:        id,
					Name:      part.FunctionCall.Name,
					Arguments: string(part.FunctionCall.Args),
				}))

			case part.InlineData != nil:
				data, err := decodeInlineData(part.InlineData)
				if err != nil {
					logger.Warn("dropping undecodable inline data", "error", err)
					continue
				}
				chunks = append(chunks, runtimes.NewAudioFrame(data, part.InlineData.MIMEType))

			case part.Thought:
				chunks = append(chunks, runtimes.NewReasoningDelta(part.Text))

			case part.Text != "":
				chunks = append(chunks, runtimes.NewContentDelta(part.Text))
			}
		}
	}

	if metadata.Usage != nil || metadata.ModelVersion != "" ||
		metadata.Grounding != nil || metadata.Citations != nil {
		chunks = append(chunks, runtimes.NewMetadataUpdate(metadata))
	}
	return chunks
}

func finishReasonPtr(reason string) *string {
	if reason == "" {
		return nil
	}
	return utils.Ptr(normalizeFinishReason(reason))
}

// normalizeFinishReason maps the API's enum onto the downstream protocol's
// lowercase reasons.
func normalizeFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "content-filter"
	default:
		return strings.ToLower(reason)
	}
}

func decodeInlineData(data *blob) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode inline data: %w", err)
	}
	return decoded, nil
}
