package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"PORT", "SERVER_PORT", "STORE_DRIVER", "PAYSTACK_SECRET_KEY", "PAYSTACK_WEBHOOK_SECRET", "GATEWAY_TIMEOUT_SECONDS", "STORE_TIMEOUT_SECONDS", "TRUST_PROXY_HEADERS"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8084" {
		t.Fatalf("expected default port 8084, got %q", cfg.ServerPort)
	}
	if cfg.StoreDriver != "postgres" {
		t.Fatalf("expected postgres store driver, got %q", cfg.StoreDriver)
	}
	if cfg.GatewayTimeout() != 15*time.Second {
		t.Fatalf("expected 15s gateway timeout, got %s", cfg.GatewayTimeout())
	}
	if cfg.StoreTimeout() != 5*time.Second {
		t.Fatalf("expected 5s store timeout, got %s", cfg.StoreTimeout())
	}
	if cfg.PaystackSecretKey != "" || cfg.PaystackWebhookSecret != "" {
		t.Fatal("expected Paystack secrets to be empty without env")
	}
	if cfg.LoginPath != "/login" {
		t.Fatalf("expected default login path, got %q", cfg.LoginPath)
	}
	if cfg.TrustProxyHeaders {
		t.Fatal("expected forwarded headers to be untrusted by default")
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "9100")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9100" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_TrimsSecretsAndNormalisesDriver(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PAYSTACK_SECRET_KEY", "  sk_test_123  ")
	setEnvWithCleanup(t, "PAYSTACK_WEBHOOK_SECRET", " whsec ")
	setEnvWithCleanup(t, "STORE_DRIVER", " MEMORY ")
	setEnvWithCleanup(t, "PAYSTACK_API_BASE_URL", "https://api.paystack.co/")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PaystackSecretKey != "sk_test_123" {
		t.Fatalf("expected trimmed secret key, got %q", cfg.PaystackSecretKey)
	}
	if cfg.PaystackWebhookSecret != "whsec" {
		t.Fatalf("expected trimmed webhook secret, got %q", cfg.PaystackWebhookSecret)
	}
	if cfg.StoreDriver != "memory" {
		t.Fatalf("expected memory driver, got %q", cfg.StoreDriver)
	}
	if cfg.PaystackAPIBaseURL != "https://api.paystack.co" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.PaystackAPIBaseURL)
	}
}

func TestLoadConfig_InvalidTimeoutsFallBackToDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "GATEWAY_TIMEOUT_SECONDS", "0")
	setEnvWithCleanup(t, "STORE_TIMEOUT_SECONDS", "-3")
	setEnvWithCleanup(t, "INITIALIZE_RATE_LIMIT_PER_MINUTE", "-1")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.GatewayTimeoutSeconds != 15 || cfg.StoreTimeoutSeconds != 5 {
		t.Fatalf("expected default timeouts, got gateway=%d store=%d", cfg.GatewayTimeoutSeconds, cfg.StoreTimeoutSeconds)
	}
	if cfg.InitializeRateLimitPerMinute != 0 {
		t.Fatalf("expected negative rate limit to be disabled, got %d", cfg.InitializeRateLimitPerMinute)
	}
}

func TestConfig_AllowedOrigins(t *testing.T) {
	cfg := Config{CORSAllowedOrigins: " https://app.example.com, ,https://admin.example.com "}
	got := cfg.AllowedOrigins()
	if len(got) != 2 || got[0] != "https://app.example.com" || got[1] != "https://admin.example.com" {
		t.Fatalf("unexpected origins: %v", got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
