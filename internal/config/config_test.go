package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "WEBHOOK_PATH", "BLACKLIST_TTL_SECONDS", "WORKER_LIMIT", "MINIO_USE_SSL", "MEILI_URL", "WEBHOOK_SECRET"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.WebhookPath != "/telegram/webhook" {
		t.Errorf("WebhookPath = %q", cfg.WebhookPath)
	}
	if cfg.BlacklistTTL != 300*time.Second {
		t.Errorf("BlacklistTTL = %v", cfg.BlacklistTTL)
	}
	if cfg.WorkerLimit != 32 {
		t.Errorf("WorkerLimit = %d", cfg.WorkerLimit)
	}
	if cfg.MinioUseSSL {
		t.Error("MinioUseSSL should default to false")
	}
	if cfg.WebhookSecret != "" {
		t.Errorf("WebhookSecret = %q", cfg.WebhookSecret)
	}
	if cfg.MeiliURL != "" {
		t.Errorf("MeiliURL = %q", cfg.MeiliURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("BLACKLIST_TTL_SECONDS", "30")
	t.Setenv("EVENT_TIMEOUT_SECONDS", "5")
	t.Setenv("WORKER_LIMIT", "4")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("SUPPORT_PHONE", "9000000000")
	t.Setenv("WEBHOOK_SECRET", "s3cret")

	cfg := Load()
	if cfg.Addr != ":9090" || cfg.BlacklistTTL != 30*time.Second || cfg.EventTimeout != 5*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.WorkerLimit != 4 || !cfg.MinioUseSSL || cfg.SupportPhone != "9000000000" || cfg.WebhookSecret != "s3cret" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestGetenvFallbackOnGarbage(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "empty", value: "", want: 7},
		{name: "not a number", value: "seven", want: 7},
		{name: "number", value: "12", want: 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DOUBTDESK_TEST_INT", tt.value)
			if got := getenvInt("DOUBTDESK_TEST_INT", 7); got != tt.want {
				t.Errorf("getenvInt = %d, want %d", got, tt.want)
			}
		})
	}

	t.Setenv("DOUBTDESK_TEST_BOOL", "maybe")
	if !getenvBool("DOUBTDESK_TEST_BOOL", true) {
		t.Error("expected fallback for unparsable bool")
	}
}
