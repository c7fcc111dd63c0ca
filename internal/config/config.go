/**
 * @description
 * This package handles the configuration management for the payment-service. It uses
 * the Viper library to read configuration from environment variables or an optional
 * .env file. Values are read once at process start and treated as constant afterwards.
 *
 * Missing Paystack secrets do not stop the service from booting; the operation that
 * needs the secret reports a configuration error instead.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payment-service.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`

	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	InitializeRateLimitPerMinute int    `mapstructure:"INITIALIZE_RATE_LIMIT_PER_MINUTE"`
	TrustProxyHeaders            bool   `mapstructure:"TRUST_PROXY_HEADERS"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	BillingEventsExchange        string `mapstructure:"BILLING_EVENTS_EXCHANGE"`

	PaystackAPIBaseURL    string `mapstructure:"PAYSTACK_API_BASE_URL"`
	PaystackSecretKey     string `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackWebhookSecret string `mapstructure:"PAYSTACK_WEBHOOK_SECRET"`
	PaystackCallbackURL   string `mapstructure:"PAYSTACK_CALLBACK_URL"`
	GatewayTimeoutSeconds int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	StoreTimeoutSeconds   int    `mapstructure:"STORE_TIMEOUT_SECONDS"`

	ClerkJWKSURL            string `mapstructure:"CLERK_JWKS_URL"`
	ClerkAudience           string `mapstructure:"CLERK_AUDIENCE"`
	ClerkIssuer             string `mapstructure:"CLERK_ISSUER"`
	AuthAllowHeaderFallback bool   `mapstructure:"AUTH_ALLOW_HEADER_FALLBACK"`
	LoginPath               string `mapstructure:"LOGIN_PATH"`
	DashboardPath           string `mapstructure:"DASHBOARD_PATH"`
	AdminHomePath           string `mapstructure:"ADMIN_HOME_PATH"`
	CORSAllowedOrigins      string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	OverdueInvoiceJobSchedule string `mapstructure:"OVERDUE_INVOICE_JOB_SCHEDULE"`
	OverdueInvoiceAfterHours  int    `mapstructure:"OVERDUE_INVOICE_AFTER_HOURS"`
}

// GatewayTimeout bounds a single call to Paystack.
func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// StoreTimeout bounds a single invoice store operation.
func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	origins := make([]string, 0)
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("STORE_DRIVER", "postgres")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "transfa:payments:rate_limit")
	viper.SetDefault("INITIALIZE_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("TRUST_PROXY_HEADERS", false)
	viper.SetDefault("BILLING_EVENTS_EXCHANGE", "billing_events")
	viper.SetDefault("PAYSTACK_API_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", 15)
	viper.SetDefault("STORE_TIMEOUT_SECONDS", 5)
	viper.SetDefault("AUTH_ALLOW_HEADER_FALLBACK", false)
	viper.SetDefault("LOGIN_PATH", "/login")
	viper.SetDefault("DASHBOARD_PATH", "/dashboard")
	viper.SetDefault("ADMIN_HOME_PATH", "/admin")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "https://*,http://*")
	viper.SetDefault("OVERDUE_INVOICE_JOB_SCHEDULE", "0 * * * *")
	viper.SetDefault("OVERDUE_INVOICE_AFTER_HOURS", 72)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("INITIALIZE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("TRUST_PROXY_HEADERS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("BILLING_EVENTS_EXCHANGE")
	_ = viper.BindEnv("PAYSTACK_API_BASE_URL")
	_ = viper.BindEnv("PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("PAYSTACK_WEBHOOK_SECRET")
	_ = viper.BindEnv("PAYSTACK_CALLBACK_URL")
	_ = viper.BindEnv("GATEWAY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("STORE_TIMEOUT_SECONDS")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("CLERK_AUDIENCE")
	_ = viper.BindEnv("CLERK_ISSUER")
	_ = viper.BindEnv("AUTH_ALLOW_HEADER_FALLBACK")
	_ = viper.BindEnv("LOGIN_PATH")
	_ = viper.BindEnv("DASHBOARD_PATH")
	_ = viper.BindEnv("ADMIN_HOME_PATH")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("OVERDUE_INVOICE_JOB_SCHEDULE")
	_ = viper.BindEnv("OVERDUE_INVOICE_AFTER_HOURS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	if config.StoreDriver != "memory" {
		config.StoreDriver = "postgres"
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.PaystackSecretKey = strings.TrimSpace(config.PaystackSecretKey)
	config.PaystackWebhookSecret = strings.TrimSpace(config.PaystackWebhookSecret)
	config.PaystackAPIBaseURL = strings.TrimRight(strings.TrimSpace(config.PaystackAPIBaseURL), "/")

	if config.PaystackSecretKey == "" {
		log.Println("level=warn component=config msg=\"PAYSTACK_SECRET_KEY not set; payment initialization disabled\"")
	}
	if config.PaystackWebhookSecret == "" {
		log.Println("level=warn component=config msg=\"PAYSTACK_WEBHOOK_SECRET not set; webhooks will be refused\"")
	}

	if config.GatewayTimeoutSeconds <= 0 {
		config.GatewayTimeoutSeconds = 15
	}
	if config.StoreTimeoutSeconds <= 0 {
		config.StoreTimeoutSeconds = 5
	}
	if config.InitializeRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative rate limit configured; disabling\" value=%d", config.InitializeRateLimitPerMinute)
		config.InitializeRateLimitPerMinute = 0
	}
	if config.OverdueInvoiceAfterHours <= 0 {
		config.OverdueInvoiceAfterHours = 72
	}

	return
}
