package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.DefaultDocument != "index.html" {
		t.Fatalf("expected index.html, got %s", cfg.DefaultDocument)
	}
	if cfg.Addr() != "127.0.0.1:8080" {
		t.Fatalf("unexpected addr %s", cfg.Addr())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("WRITE_TIMEOUT", "30")
	t.Setenv("HEADLESS", "true")
	t.Setenv("MAX_CONCURRENT_STREAMS", "not-a-number")

	cfg := Load()
	if cfg.Port != "9191" {
		t.Fatalf("expected 9191, got %s", cfg.Port)
	}
	if cfg.WriteTimeout != 30*time.Second {
		t.Fatalf("expected 30s, got %v", cfg.WriteTimeout)
	}
	if !cfg.Headless {
		t.Fatal("expected headless")
	}
	if cfg.MaxConcurrentStreams != 64 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.MaxConcurrentStreams)
	}
}
