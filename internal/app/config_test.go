package app

import (
	"testing"
	"time"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != ":50051" {
		t.Errorf("expected GRPCAddr :50051, got %s", cfg.GRPCAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected MetricsAddr :9090, got %s", cfg.MetricsAddr)
	}
	if cfg.StorageDriver != StorageDriverMemory {
		t.Errorf("expected StorageDriver %s, got %s", StorageDriverMemory, cfg.StorageDriver)
	}
	if !cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be true")
	}
	if cfg.MaxCallAttempts != 3 {
		t.Errorf("expected 3 call attempts, got %d", cfg.MaxCallAttempts)
	}
	wantDelays := []time.Duration{0, 30 * time.Minute, 240 * time.Minute}
	if len(cfg.RetryDelays) != len(wantDelays) {
		t.Fatalf("expected %d retry delays, got %v", len(wantDelays), cfg.RetryDelays)
	}
	for i, delay := range wantDelays {
		if cfg.RetryDelays[i] != delay {
			t.Errorf("retry delay %d: expected %s, got %s", i, delay, cfg.RetryDelays[i])
		}
	}
	if cfg.ChatDelay != time.Hour {
		t.Errorf("expected ChatDelay 1h, got %s", cfg.ChatDelay)
	}
	if cfg.OutboxPollInterval <= 0 || cfg.OutboxBatchSize <= 0 || cfg.OutboxMaxAttempts <= 0 {
		t.Errorf("outbox settings must be positive: %+v", cfg)
	}
	if cfg.OutboxRetryDelay < 0 {
		t.Error("expected OutboxRetryDelay to be >= 0")
	}
	if cfg.SchedulerPollInterval <= 0 {
		t.Error("expected SchedulerPollInterval to be > 0")
	}
	if cfg.CleanupSchedule == "" || cfg.CleanupRetention <= 0 {
		t.Errorf("cleanup settings must be set: %q %s", cfg.CleanupSchedule, cfg.CleanupRetention)
	}
	if cfg.JWTSecret != "" {
		t.Error("operator auth should be disabled by default")
	}
}

func TestConfig_ConfirmationOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PublicBaseURL = "https://cod.example.com"
	cfg.StoreName = "Tienda"
	cfg.MaxCallAttempts = 5
	cfg.RetryDelays = []time.Duration{0, time.Minute}

	got := cfg.confirmationConfig()
	if got.PublicBaseURL != "https://cod.example.com" {
		t.Errorf("unexpected base url %s", got.PublicBaseURL)
	}
	if got.StoreName != "Tienda" {
		t.Errorf("unexpected store name %s", got.StoreName)
	}
	if got.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", got.MaxAttempts)
	}
	if len(got.RetryDelays) != 2 || got.RetryDelays[1] != time.Minute {
		t.Errorf("unexpected retry delays %v", got.RetryDelays)
	}
}

func TestConfig_ZeroValueFallsBackToDefaults(t *testing.T) {
	var cfg Config

	confirm := cfg.confirmationConfig()
	if confirm.MaxAttempts != 3 {
		t.Errorf("expected default 3 attempts, got %d", confirm.MaxAttempts)
	}
	if len(confirm.RetryDelays) != 3 {
		t.Errorf("expected default retry delays, got %v", confirm.RetryDelays)
	}

	ship := cfg.shipmentConfig()
	if ship.ChatDelay != time.Hour {
		t.Errorf("expected default chat delay 1h, got %s", ship.ChatDelay)
	}
	if ship.StoreName == "" {
		t.Error("expected default store name")
	}
}

func TestConfig_ShipmentOverrides(t *testing.T) {
	cfg := Config{StoreName: "Tienda", ChatDelay: 15 * time.Minute}

	ship := cfg.shipmentConfig()
	if ship.StoreName != "Tienda" {
		t.Errorf("unexpected store name %s", ship.StoreName)
	}
	if ship.ChatDelay != 15*time.Minute {
		t.Errorf("expected chat delay 15m, got %s", ship.ChatDelay)
	}
}

func TestConfig_Copy(t *testing.T) {
	original := DefaultConfig()
	copied := original

	copied.GRPCAddr = ":8081"

	if original.GRPCAddr != ":50051" {
		t.Error("original config was modified")
	}
	if copied.GRPCAddr != ":8081" {
		t.Error("copy was not modified")
	}
}
