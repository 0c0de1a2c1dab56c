package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterCreatesAuditFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "vault.log")
	writer, err := newRotatingWriter(AuditConfig{Path: path, MaxSizeMB: 1, MaxBackups: 2, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	t.Cleanup(func() { _ = writer.Close() })

	if _, err := writer.Write([]byte("{\"msg\":\"vault cracked\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if !strings.Contains(string(content), "vault cracked") {
		t.Fatalf("unexpected audit content: %s", content)
	}
}

func TestRotatingWriterRequiresPath(t *testing.T) {
	if _, err := newRotatingWriter(AuditConfig{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"WARNING": "WARN",
		"error":   "ERROR",
		"":        "INFO",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestRedactorMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: redactor(append(defaultRedactKeys, "seed"))}))
	l.Info("loaded",
		slog.String("vault_secret", "opensesame"),
		slog.String("Authorization", "Bearer abc"),
		slog.String("seed", "mnemonic words"),
		slog.Int("prompt_tokens", 12),
		slog.String("challenge_id", "c1"),
	)
	out := buf.String()
	for _, leaked := range []string{"opensesame", "Bearer abc", "mnemonic words"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("sensitive value %q leaked: %s", leaked, out)
		}
	}
	if !strings.Contains(out, `"prompt_tokens":12`) || !strings.Contains(out, `"challenge_id":"c1"`) {
		t.Fatalf("ordinary attributes must be kept: %s", out)
	}
}

func TestInitRoutesAuditToRotatingFile(t *testing.T) {
	dir := t.TempDir()
	appPath := filepath.Join(dir, "app.log")
	auditPath := filepath.Join(dir, "audit.log")
	err := Init(Config{
		Level:       "debug",
		OutputPaths: []string{appPath},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	Named("vault").Debug("balance read", slog.String("private_key", "0xdead"))
	Audit().Info("vault unlocked", slog.String("challenge_id", "c1"))
	if err := Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	app, err := os.ReadFile(appPath)
	if err != nil {
		t.Fatalf("read app log: %v", err)
	}
	if !strings.Contains(string(app), `"component":"vault"`) || strings.Contains(string(app), "0xdead") {
		t.Fatalf("unexpected app log: %s", app)
	}
	audit, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(audit), "vault unlocked") || strings.Contains(string(app), "vault unlocked") {
		t.Fatalf("audit record not isolated: app=%s audit=%s", app, audit)
	}
}
