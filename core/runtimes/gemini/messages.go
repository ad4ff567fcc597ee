package gemini

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-bridge/core/runtimes"
)

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
	InlineData       *blob             `json:"inlineData,omitempty"`
}

type functionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type functionResponse struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type functionDeclaration struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

type toolDeclaration struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Tools             []toolDeclaration `json:"tools,omitempty"`
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
	ModelVersion  string         `json:"modelVersion"`
}

type candidate struct {
	Content           *content        `json:"content"`
	FinishReason      string          `json:"finishReason"`
	GroundingMetadata json.RawMessage `json:"groundingMetadata"`
	CitationMetadata  *struct {
		Citations []runtimes.Citation `json:"citations"`
	} `json:"citationMetadata"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	CachedTokenCount     int `json:"cachedContentTokenCount"`
}

func (u *usageMetadata) toUsage() *runtimes.Usage {
	if u == nil {
		return nil
	}
	usage := &runtimes.Usage{
		InputTokens:  u.PromptTokenCount,
		OutputTokens: u.CandidatesTokenCount,
		TotalTokens:  u.TotalTokenCount,
	}
	if u.CachedTokenCount > 0 {
		usage.InputTokensDetails = &runtimes.InputTokensDetails{CachedTokens: u.CachedTokenCount}
	}
	if u.ThoughtsTokenCount > 0 {
		usage.OutputTokensDetails = &runtimes.OutputTokensDetails{ReasoningTokens: u.ThoughtsTokenCount}
	}
	return usage
}

func toDeclarations(tools []runtimes.Tool) []toolDeclaration {
	if len(tools) == 0 {
		return nil
	}
	var declarations []functionDeclaration
	copier.Copy(&declarations, tools)
	return []toolDeclaration{{FunctionDeclarations: declarations}}
}

func toFunctionResponses(results []runtimes.ToolResult) []part {
	parts := make([]part, 0, len(results))
	for _, result := range results {
		response := result.Payload
		if response == nil {
			response = json.RawMessage("{}")
		}
		parts = append(parts, part{FunctionResponse: &functionResponse{
			ID:       result.ID,
			Name:     result.Name,
			Response: response,
		}})
	}
	return parts
}
