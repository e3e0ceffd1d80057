package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"APP_ENV":          "",
		"PORT":             "",
		"PAYMENT_PROVIDER": "",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppEnv != "development" {
		t.Fatalf("unexpected env: %q", cfg.AppEnv)
	}
	if cfg.Provider != "mock" {
		t.Fatalf("mock must be the default provider, got %q", cfg.Provider)
	}
	if cfg.HTTPAddr() != ":8080" {
		t.Fatalf("unexpected addr: %q", cfg.HTTPAddr())
	}
	if cfg.MockMinLatency != 1500*time.Millisecond || cfg.MockMaxLatency != 3500*time.Millisecond {
		t.Fatalf("unexpected latency window: %v-%v", cfg.MockMinLatency, cfg.MockMaxLatency)
	}
	if cfg.MockDeclineRate != 0.05 || cfg.MockInsufficientRate != 0.03 || cfg.MockAuthRequiredRate != 0.02 {
		t.Fatalf("unexpected outcome rates: %v %v %v", cfg.MockDeclineRate, cfg.MockInsufficientRate, cfg.MockAuthRequiredRate)
	}
}

func TestLoadRequiresProviderCredentials(t *testing.T) {
	_, err := LoadForTests(map[string]string{
		"PAYMENT_PROVIDER": "stripe",
		"STRIPE_API_KEY":   "",
	})
	if err == nil {
		t.Fatal("expected error for stripe without credentials")
	}

	cfg, err := LoadForTests(map[string]string{
		"PAYMENT_PROVIDER":      "stripe",
		"STRIPE_API_KEY":        "sk_test_123",
		"STRIPE_WEBHOOK_SECRET": "whsec_123",
	})
	if err != nil {
		t.Fatalf("load with credentials: %v", err)
	}
	if cfg.Provider != "stripe" {
		t.Fatalf("unexpected provider: %q", cfg.Provider)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	if _, err := LoadForTests(map[string]string{"PAYMENT_PROVIDER": "braintree"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestLoadRejectsBadMockTuning(t *testing.T) {
	if _, err := LoadForTests(map[string]string{
		"PAYMENT_PROVIDER": "",
		"MOCK_MIN_LATENCY": "2s",
		"MOCK_MAX_LATENCY": "1s",
	}); err == nil {
		t.Fatal("expected error for inverted latency window")
	}

	if _, err := LoadForTests(map[string]string{
		"PAYMENT_PROVIDER":       "",
		"MOCK_DECLINE_RATE":      "0.9",
		"MOCK_INSUFFICIENT_RATE": "0.2",
	}); err == nil {
		t.Fatal("expected error for rates above 1")
	}
}

func TestMockRateOverrides(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"PAYMENT_PROVIDER":        "",
		"MOCK_DECLINE_RATE":       "0.5",
		"MOCK_INSUFFICIENT_RATE":  "0.25",
		"MOCK_AUTH_REQUIRED_RATE": "0.1",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MockDeclineRate != 0.5 || cfg.MockInsufficientRate != 0.25 || cfg.MockAuthRequiredRate != 0.1 {
		t.Fatalf("overrides not applied: %v %v %v", cfg.MockDeclineRate, cfg.MockInsufficientRate, cfg.MockAuthRequiredRate)
	}
}
