package testutil

import (
	"testing"
	"time"
)

func TestDefaultTestDBConfig(t *testing.T) {
	t.Run("defaults to local test database port 55432", func(t *testing.T) {
		for _, k := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME"} {
			t.Setenv(k, "")
		}

		cfg := DefaultTestDBConfig()

		if cfg.Host != "localhost" {
			t.Errorf("expected Host=localhost, got %s", cfg.Host)
		}
		if cfg.Port != "55432" {
			t.Errorf("expected Port=55432 (test DB), got %s", cfg.Port)
		}
		if cfg.User != "catalogsync" || cfg.Password != "catalogsync" || cfg.DBName != "catalogsync" {
			t.Errorf("unexpected credentials %+v", cfg)
		}
	})

	t.Run("respects TEST_DB_PORT environment variable", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")

		cfg := DefaultTestDBConfig()

		if cfg.Host != "postgres" {
			t.Errorf("expected Host=postgres, got %s", cfg.Host)
		}
		if cfg.Port != "5432" {
			t.Errorf("expected Port=5432 (CI), got %s", cfg.Port)
		}
	})
}

func TestEnqueueRequestBuilder(t *testing.T) {
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	req := NewEnqueueRequest().
		WithStore("other.myshopify.com").
		WithPriority(5).
		WithMarkup(20).
		WithFilter("vendor == 'Acme'").
		WithScheduledFor(at).
		Build()

	if req.TargetStore != "other.myshopify.com" || req.Priority != 5 {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Payload.MarkupPercentage == nil || *req.Payload.MarkupPercentage != 20 {
		t.Fatalf("markup not set: %+v", req.Payload)
	}
	if req.ScheduledFor == nil || !req.ScheduledFor.Equal(at) {
		t.Fatalf("scheduled_for not set: %v", req.ScheduledFor)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("built request should validate: %v", err)
	}
}

func TestProductBuilder(t *testing.T) {
	p := NewProduct(7, "Widget").WithVariant("W-1", 10).WithVariant("W-2", 12).Build()
	if len(p.Variants) != 2 || p.Variants[1].ID != 702 {
		t.Fatalf("unexpected variants %+v", p.Variants)
	}
	if p.PrimarySKU() != "W-1" {
		t.Fatalf("primary sku = %q", p.PrimarySKU())
	}
}

func TestTestDBConfigDSN(t *testing.T) {
	t.Setenv("DB_SSL_MODE", "")
	cfg := TestDBConfig{Host: "db", Port: "5432", User: "u", Password: "p@ss", DBName: "catalog"}

	if got := cfg.DSN(""); got != "postgres://u:p%40ss@db:5432/catalog?sslmode=disable" {
		t.Errorf("unexpected dsn %s", got)
	}
	if got := cfg.DSN("t_abc,public"); got != "postgres://u:p%40ss@db:5432/catalog?search_path=t_abc%2Cpublic&sslmode=disable" {
		t.Errorf("unexpected dsn with search_path %s", got)
	}
}
