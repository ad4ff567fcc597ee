package runtimes

import (
	"context"
	"errors"
	"testing"

	"github.com/koscakluka/ema-bridge/internal/utils"
)

func TestNewToolReflectsParameterSchema(t *testing.T) {
	tool := NewTool("get_weather", "Current weather for a city",
		func(_ context.Context, args struct {
			City string `json:"city"`
		}) (any, error) {
			return nil, nil
		})

	if tool.Name != "get_weather" || tool.Description != "Current weather for a city" {
		t.Fatalf("unexpected tool metadata %+v", tool)
	}
	if tool.Parameters == nil {
		t.Fatal("expected a reflected parameter schema")
	}
	if _, ok := tool.Parameters.Properties.Get("city"); !ok {
		t.Fatal("expected the schema to describe the city property")
	}
	if tool.RequiresApproval || tool.ClientExecuted {
		t.Fatalf("expected a plain tool, got %+v", tool)
	}
}

func TestToolExecuteParsesArgumentsAndEncodesResult(t *testing.T) {
	tool := NewTool("echo", "Echo the input",
		func(_ context.Context, args struct {
			Value string `json:"value"`
		}) (any, error) {
			return map[string]string{"echoed": args.Value}, nil
		})

	payload, err := tool.Execute(context.Background(), `{"value":"hi"}`)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if string(payload) != `{"echoed":"hi"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestToolExecuteFailsOnBadArguments(t *testing.T) {
	tool := NewTool("echo", "Echo the input",
		func(_ context.Context, args struct {
			Value string `json:"value"`
		}) (any, error) {
			return nil, nil
		})

	if _, err := tool.Execute(context.Background(), `not json`); err == nil {
		t.Fatal("expected malformed arguments to fail")
	}
}

func TestToolExecutePropagatesHandlerError(t *testing.T) {
	handlerErr := errors.New("backend down")
	tool := NewTool("flaky", "Always fails",
		func(context.Context, struct{}) (any, error) {
			return nil, handlerErr
		})

	if _, err := tool.Execute(context.Background(), `{}`); !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestToolOptions(t *testing.T) {
	tool := NewTool("process_payment", "Charge the customer",
		func(context.Context, struct{}) (any, error) { return nil, nil },
		WithApproval(), WithDisplayName("payment"))

	if !tool.RequiresApproval {
		t.Fatal("expected approval flag")
	}
	if tool.DisplayName != "payment" {
		t.Fatalf("expected display name payment, got %q", tool.DisplayName)
	}
}

func TestNewClientToolIsMarkedClientExecuted(t *testing.T) {
	tool := NewClientTool[struct{}]("get_local_time", "Local time on the client")

	if !tool.ClientExecuted {
		t.Fatal("expected client-executed flag")
	}
	if _, err := tool.Execute(context.Background(), `{}`); err == nil {
		t.Fatal("expected local execution of a client tool to fail")
	}
}

func TestTurnMetadataMergeIsLastWriteWinsPerField(t *testing.T) {
	var metadata TurnMetadata
	metadata.Merge(TurnMetadata{
		Usage:        &Usage{InputTokens: 5},
		FinishReason: utils.Ptr("stop"),
	})
	metadata.Merge(TurnMetadata{
		Usage:        &Usage{InputTokens: 5, OutputTokens: 11},
		ModelVersion: "gemini-2.0-flash",
	})

	if metadata.Usage.OutputTokens != 11 {
		t.Fatalf("expected merged usage, got %+v", metadata.Usage)
	}
	if metadata.FinishReason == nil || *metadata.FinishReason != "stop" {
		t.Fatal("expected earlier finish reason to survive an empty update")
	}
	if metadata.ModelVersion != "gemini-2.0-flash" {
		t.Fatalf("expected model version, got %q", metadata.ModelVersion)
	}
}
