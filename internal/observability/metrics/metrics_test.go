package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestObserveHTTPRequestCountsServerErrors(t *testing.T) {
	ObserveHTTPRequest("/api/test", "POST", 200, 10*time.Millisecond)
	ObserveHTTPRequest("/api/test", "POST", 503, 20*time.Millisecond)

	out := scrape(t)
	for _, want := range []string{
		`vaultguard_http_requests_total{code="503",handler="/api/test",method="POST"} 1`,
		`vaultguard_http_request_errors_total{handler="/api/test",method="POST"} 1`,
		`vaultguard_http_request_duration_seconds_count{handler="/api/test",method="POST"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestObserveLLMUsage(t *testing.T) {
	ObserveLLMUsage("primary", "test-model", 100, 20, 0.5)
	out := scrape(t)
	for _, want := range []string{
		`vaultguard_llm_tokens_total{kind="prompt",model="test-model",role="primary"} 100`,
		`vaultguard_llm_tokens_total{kind="completion",model="test-model",role="primary"} 20`,
		`vaultguard_llm_estimated_cost_usd_total{model="test-model",role="primary"} 0.5`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveChatTurn("EASY", OutcomeGenerated)
	ObserveNotification("webhook", errors.New("down"))

	out := scrape(t)
	for _, want := range []string{
		`vaultguard_chat_turns_total{level="EASY",outcome="generated"}`,
		`vaultguard_notify_deliveries_total{channel="webhook",result="error"}`,
		"go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
