package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Codes.Width != 4 || cfg.Cache.Templates != 128 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Notifications.RetryBackoff != 500*time.Millisecond {
		t.Fatalf("expected 500ms backoff, got %s", cfg.Notifications.RetryBackoff)
	}
	if cfg.BasePath() != "/v0" {
		t.Fatalf("expected /v0 base path, got %s", cfg.BasePath())
	}
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("codes:\n  prefix: BOIL\n  width: 6\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Codes.Prefix != "BOIL" || cfg.Codes.Width != 6 {
		t.Fatalf("codes not applied: %+v", cfg.Codes)
	}
	if cfg.Trash.RetentionDays != 30 {
		t.Fatalf("expected default retention, got %d", cfg.Trash.RetentionDays)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"width":          "codes:\n  width: 0\n",
		"prefix":         "codes:\n  prefix: \"a b\"\n",
		"webhook id":     "notifications:\n  webhooks:\n    - url: https://example.com\n",
		"webhook url":    "notifications:\n  webhooks:\n    - id: ops\n      url: ftp://example.com\n",
		"duplicate":      "notifications:\n  webhooks:\n    - id: ops\n      url: https://a.example\n    - id: ops\n      url: https://b.example\n",
		"secret header":  "notifications:\n  webhooks:\n    - id: ops\n      url: https://a.example\n      secret: s3cret\n",
		"log level":      "log:\n  level: loud\n",
		"base path":      "server:\n  base_path: v1\n",
		"retry attempts": "notifications:\n  retry_attempts: 50\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}

func TestWebhookMatches(t *testing.T) {
	wh := Webhook{Events: []string{"notification.requested"}}
	if !wh.Matches("notification.requested") || wh.Matches("input.updated") {
		t.Fatalf("event filter mismatch")
	}
	if !(Webhook{}).Matches("anything") || !(Webhook{Events: []string{"*"}}).Matches("x") {
		t.Fatalf("empty and wildcard filters match everything")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("missing file should yield defaults: %v", err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	data := "notifications:\n  webhooks:\n    - id: ops\n      url: https://hooks.example/fw\n      enabled: true\n      events: [notification.requested]\n"
	if err := os.WriteFile(filepath.Join(dir, "fieldwork.yml"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Notifications.Webhooks) != 1 || !cfg.Notifications.Webhooks[0].Enabled {
		t.Fatalf("webhooks not loaded: %+v", cfg.Notifications.Webhooks)
	}
	out, err := cfg.ToYAML()
	if err != nil {
		t.Fatal(err)
	}
	back, err := FromYAML(out)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if back.Notifications.Webhooks[0].URL != "https://hooks.example/fw" {
		t.Fatalf("round trip lost webhook url")
	}
}
