package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	Register("TEST_REJECTED", Attributes{Message: "rejected", Status: http.StatusBadRequest})

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid argument", New(CodeInvalidArgument, "missing field"), http.StatusBadRequest},
		{"registered code", New("TEST_REJECTED", ""), http.StatusBadRequest},
		{"wrapped storage", fmt.Errorf("outer: %w", Wrap(CodeStorageFailure, stdErrors.New("disk"), "write")), http.StatusInternalServerError},
		{"plain error", stdErrors.New("boom"), http.StatusInternalServerError},
		{"unregistered code", New("NOT_REGISTERED", "x"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Fatalf("HTTPStatus() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestIsComparesCodes(t *testing.T) {
	sentinel := New(CodeNotFound, "challenge not found")
	err := Wrap(CodeNotFound, stdErrors.New("no rows"), "load challenge")
	if !stdErrors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to match on code")
	}
	if stdErrors.Is(err, New(CodeConflict, "")) {
		t.Fatalf("different codes must not match")
	}
}

func TestPublicMessageHidesUnknownErrors(t *testing.T) {
	if got := PublicMessage(stdErrors.New("sql: connection refused")); got != "internal server error" {
		t.Fatalf("unexpected public message: %q", got)
	}
	if got := PublicMessage(New(CodeInvalidArgument, "Missing challengeId")); got != "Missing challengeId" {
		t.Fatalf("unexpected public message: %q", got)
	}
}

func TestOptionsOverrideRegisteredAttributes(t *testing.T) {
	base := New(CodeUnknown, "webhook responded 502")
	if RetryableError(base) || SeverityOf(base) != SeverityCritical {
		t.Fatalf("expected UNKNOWN defaults, got retryable=%v severity=%s", RetryableError(base), SeverityOf(base))
	}

	err := fmt.Errorf("deliver: %w", New(CodeUnknown, "webhook responded 502",
		WithRetryable(true),
		WithSeverity(SeverityWarning),
		WithMetadata("url", "https://hooks.example/vault"),
	))
	if !RetryableError(err) || SeverityOf(err) != SeverityWarning {
		t.Fatalf("options not applied through wrapping")
	}
	e, ok := From(err)
	if !ok || e.Metadata()["url"] != "https://hooks.example/vault" {
		t.Fatalf("metadata lost: %+v", e)
	}
	if RetryableError(stdErrors.New("plain")) {
		t.Fatalf("plain errors are never retryable")
	}
}
