package prompt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemplate(t *testing.T, dir, challengeID, name, content string) {
	t.Helper()
	target := filepath.Join(dir, challengeID)
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(target, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write template: %v", err)
	}
}

func TestFileSourcePrefersChallengeTemplates(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "c1", "primary.txt", "c1 primary {password}")
	writeTemplate(t, dir, "default", "primary.txt", "default primary")
	writeTemplate(t, dir, "default", "secondary.txt", "default secondary")

	src := NewFileSource(dir)
	tpl, err := src.Load(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tpl.Primary != "c1 primary {password}" || tpl.Secondary != "default secondary" {
		t.Fatalf("unexpected templates %+v", tpl)
	}

	other, err := src.Load(context.Background(), "c2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if other.Primary != "default primary" {
		t.Fatalf("expected default fallback, got %q", other.Primary)
	}
}

func TestFileSourceBuiltinFallback(t *testing.T) {
	src := NewFileSource(t.TempDir())
	tpl, err := src.Load(context.Background(), "../escape")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(tpl.Primary, PlaceholderPassword) || !strings.Contains(tpl.Secondary, PlaceholderPassword) {
		t.Fatalf("builtin templates must carry the password placeholder")
	}
}

func TestRender(t *testing.T) {
	got := Render("secret={password}; reward={reward_message}; again={password}", "opensesame", "win 1 ETH")
	want := "secret=opensesame; reward=win 1 ETH; again=opensesame"
	if got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}
