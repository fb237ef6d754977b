package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"order-payment-service/database"
)

const serviceName = "order-payment-service"

// Order store backends.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
)

// Payment providers.
const (
	ProviderXendit = "xendit"
	ProviderStripe = "stripe"
)

// Config holds all configuration for the order payment service.
type Config struct {
	Port string
	Env  string

	OrderStore    string
	OrdersFile    string
	Postgres      database.Config
	DynamoDBTable string
	StoreTimeout  time.Duration

	PaymentProvider     string
	XenditSecretKey     string
	XenditCallbackToken string
	XenditBaseURL       string
	StripeAPIKey        string
	StripeWebhookSecret string
	GatewayTimeout      time.Duration

	InvoiceDuration time.Duration
	Currency        string
	PublicBaseURL   string
	MerchantName    string

	JWTSecret           string
	TrustGatewayHeaders bool
	RBACPolicyFile      string

	OrderSNSTopicARN string
	KafkaBrokers     []string
	OrderEventsTopic string
	CallbackQueueURL string

	OtelEnabled        bool
	OtelEndpoint       string
	CloudWatchEnabled  bool
	CloudWatchLogGroup string
	AllowedOrigins     string
	RequestTimeout     time.Duration
}

// secretSource is satisfied by aws.SecretsClient.
type secretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads configuration from the environment, loading a local .env
// file first when one exists.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port: getEnv("PORT", "8088"),
		Env:  getEnv("ENV", "development"),

		OrderStore: strings.ToLower(getEnv("ORDER_STORE", StoreMemory)),
		OrdersFile: getEnv("ORDERS_FILE", "data/orders.json"),
		Postgres: database.Config{
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Name:     os.Getenv("POSTGRES_DB"),
			Host:     os.Getenv("POSTGRES_HOST"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),
		},
		DynamoDBTable: getEnv("DYNAMODB_TABLE", "orders"),

		PaymentProvider:     strings.ToLower(getEnv("PAYMENT_PROVIDER", ProviderXendit)),
		XenditSecretKey:     os.Getenv("XENDIT_SECRET_KEY"),
		XenditCallbackToken: os.Getenv("XENDIT_CALLBACK_TOKEN"),
		XenditBaseURL:       os.Getenv("XENDIT_BASE_URL"),
		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		Currency:      strings.ToUpper(getEnv("CURRENCY", "IDR")),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),
		MerchantName:  getEnv("MERCHANT_NAME", "Online Store"),

		JWTSecret:           os.Getenv("JWT_SECRET"),
		TrustGatewayHeaders: getEnvBool("TRUST_GATEWAY_HEADERS", true),
		RBACPolicyFile:      os.Getenv("RBAC_POLICY_FILE"),

		OrderSNSTopicARN: os.Getenv("ORDER_SNS_TOPIC_ARN"),
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		OrderEventsTopic: getEnv("ORDER_EVENTS_TOPIC", "order-events"),
		CallbackQueueURL: os.Getenv("CALLBACK_QUEUE_URL"),

		OtelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		CloudWatchEnabled:  getEnvBool("CLOUDWATCH_ENABLED", false),
		CloudWatchLogGroup: getEnv("CLOUDWATCH_LOG_GROUP", "/ecommerce/"+serviceName),
		AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"STORE_TIMEOUT", 5 * time.Second, &cfg.StoreTimeout},
		{"GATEWAY_TIMEOUT", 15 * time.Second, &cfg.GatewayTimeout},
		{"INVOICE_DURATION", 24 * time.Hour, &cfg.InvoiceDuration},
		{"HTTP_REQUEST_TIMEOUT", 30 * time.Second, &cfg.RequestTimeout},
	}
	for _, d := range durations {
		v, err := getEnvDuration(d.key, d.fallback)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	return cfg, nil
}

// ApplySecrets overrides database credentials and gateway keys with values
// from Secrets Manager. Missing secrets leave the environment values in place.
func (c *Config) ApplySecrets(ctx context.Context, sm secretSource) {
	if m, err := sm.GetSecretMap(ctx, "orders/DB_CREDENTIALS"); err == nil {
		override(&c.Postgres.User, m, "POSTGRES_USER")
		override(&c.Postgres.Password, m, "POSTGRES_PASSWORD")
		override(&c.Postgres.Name, m, "POSTGRES_DB")
		override(&c.Postgres.Host, m, "POSTGRES_HOST")
		override(&c.Postgres.Port, m, "POSTGRES_PORT")
	}
	if m, err := sm.GetSecretMap(ctx, "orders/PAYMENT_SECRETS"); err == nil {
		override(&c.XenditSecretKey, m, "XENDIT_SECRET_KEY")
		override(&c.XenditCallbackToken, m, "XENDIT_CALLBACK_TOKEN")
		override(&c.StripeAPIKey, m, "STRIPE_API_KEY")
		override(&c.StripeWebhookSecret, m, "STRIPE_WEBHOOK_SECRET")
		override(&c.JWTSecret, m, "JWT_SECRET")
	}
}

// Validate checks that the selected store and provider are fully configured.
func (c *Config) Validate() error {
	switch c.OrderStore {
	case StoreMemory:
	case StoreFile:
		if c.OrdersFile == "" {
			return fmt.Errorf("ORDERS_FILE is required for the file store")
		}
	case StorePostgres:
		if c.Postgres.User == "" || c.Postgres.Password == "" || c.Postgres.Name == "" || c.Postgres.Host == "" {
			return fmt.Errorf("database config incomplete")
		}
	case StoreDynamoDB:
		if c.DynamoDBTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE is required for the dynamodb store")
		}
	default:
		return fmt.Errorf("unknown ORDER_STORE %q", c.OrderStore)
	}

	switch c.PaymentProvider {
	case ProviderXendit:
		if c.XenditSecretKey == "" || c.XenditCallbackToken == "" {
			return fmt.Errorf("XENDIT_SECRET_KEY and XENDIT_CALLBACK_TOKEN are required")
		}
	case ProviderStripe:
		if c.StripeAPIKey == "" || c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_API_KEY and STRIPE_WEBHOOK_SECRET are required")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.PaymentProvider)
	}

	if c.JWTSecret == "" && !c.TrustGatewayHeaders {
		return fmt.Errorf("JWT_SECRET is required when TRUST_GATEWAY_HEADERS is false")
	}
	if c.Currency == "" {
		return fmt.Errorf("CURRENCY must not be empty")
	}
	return nil
}

func override(dst *string, m map[string]string, key string) {
	if v, ok := m[key]; ok && v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
