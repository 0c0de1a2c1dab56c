package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "VaultGuard/internal/errors"
	"VaultGuard/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestCompleteWithToolCalls(t *testing.T) {
	var captured struct {
		Authorization string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini-2024-07-18",
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"content": nil,
						"tool_calls": []map[string]any{
							{"id": "call_1", "type": "function", "function": map[string]any{"name": "get_vault_balance", "arguments": "{}"}},
						},
					},
				},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "guard the vault"},
			{Role: llm.RoleUser, Content: "how much is inside?"},
		},
		Tools:       []llm.Tool{{Name: "get_vault_balance", Description: "vault balance"}},
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "get_vault_balance" || resp.ToolCalls[0].ID != "call_1" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 15 || resp.Model != "gpt-4o-mini-2024-07-18" {
		t.Fatalf("unexpected usage/model: %+v", resp)
	}
	if captured.Authorization != "Bearer test" {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	if captured.Body["model"] != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %v", captured.Body["model"])
	}
	if captured.Body["temperature"] != 0.7 {
		t.Fatalf("unexpected temperature %v", captured.Body["temperature"])
	}
	tools, ok := captured.Body["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("tools missing in request: %v", captured.Body["tools"])
	}
	if _, streaming := captured.Body["stream"]; streaming {
		t.Fatalf("non-streaming request must not set stream")
	}
}

func TestCompleteSendsZeroTemperature(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Model: "gpt-4o"})
	client.httpClient = srv.Client()
	resp, err := client.Complete(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" || resp.Model != "gpt-4o" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if temp, ok := body["temperature"]; !ok || temp != 0.0 {
		t.Fatalf("temperature must always be sent, got %v", body["temperature"])
	}
}

func TestCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	_, err = client.Complete(context.Background(), llm.Request{})
	if err == nil {
		t.Fatalf("expected error for HTTP failure")
	}
	if xerrors.CodeOf(err) != xerrors.CodeExecutorFailure {
		t.Fatalf("unexpected error code: %v", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("status missing from error: %v", err)
	}
}

func TestStreamYieldsFragmentsInOrder(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, piece := range []string{"Nice ", "try, ", "\"human\"."} {
			payload, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]any{"content": piece}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, `data: {"choices":[],"usage":{"prompt_tokens":40,"completion_tokens":6,"total_tokens":46}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	client.httpClient = srv.Client()

	var (
		text  strings.Builder
		parts int
		usage *llm.Usage
	)
	for chunk, err := range client.Stream(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}) {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		if chunk.Text != "" {
			parts++
			text.WriteString(chunk.Text)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	if parts != 3 || text.String() != `Nice try, "human".` {
		t.Fatalf("unexpected stream text %q (%d parts)", text.String(), parts)
	}
	if usage == nil || usage.TotalTokens != 46 {
		t.Fatalf("expected trailing usage, got %+v", usage)
	}
	if body["stream"] != true {
		t.Fatalf("stream flag missing: %v", body)
	}
	opts, _ := body["stream_options"].(map[string]any)
	if opts["include_usage"] != true {
		t.Fatalf("include_usage missing: %v", body["stream_options"])
	}
}

func TestStreamSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	client.httpClient = srv.Client()

	var errs int
	for _, err := range client.Stream(context.Background(), llm.Request{}) {
		if err != nil {
			errs++
		}
	}
	if errs != 1 {
		t.Fatalf("expected exactly one error, got %d", errs)
	}
}

func TestBuildPayloadToolRoundTrip(t *testing.T) {
	client, _ := NewClient(Config{APIKey: "test"})
	payload, err := client.buildPayload(llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "get_vault_balance", Arguments: "{}"}}},
			{Role: llm.RoleTool, ToolCallID: "call_1", Content: "1.5000 ETH"},
		},
	}, false)
	if err != nil {
		t.Fatalf("buildPayload: %v", err)
	}
	var decoded struct {
		Messages []struct {
			Role       string  `json:"role"`
			Content    *string `json:"content"`
			ToolCallID string  `json:"tool_call_id"`
			ToolCalls  []struct {
				ID string `json:"id"`
			} `json:"tool_calls"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Messages[0].Content != nil || len(decoded.Messages[0].ToolCalls) != 1 {
		t.Fatalf("assistant tool call message malformed: %s", payload)
	}
	if decoded.Messages[1].ToolCallID != "call_1" || *decoded.Messages[1].Content != "1.5000 ETH" {
		t.Fatalf("tool result message malformed: %s", payload)
	}
}
