package config

import (
	"os"
	"strings"
)

// Config is read once at startup. Empty PostgresDSN and KafkaBrokers mean
// the in-process fallbacks: map-backed repos and a nop event publisher.
type Config struct {
	HTTPAddr           string
	PostgresDSN        string
	RedisAddr          string
	KafkaBrokers       []string
	ServiceName        string
	IdempotencyBackend string            // memory | redis | postgres
	MerchantURLs       map[string]string // merchant id -> base URL
	MerchantSecrets    map[string]string // merchant id -> webhook secret
	WebhookSecret      string            // fallback for merchants without an entry above
}

func Load() Config {
	return Config{
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		RedisAddr:          getenv("REDIS_ADDR", "redis:6379"),
		KafkaBrokers:       splitCSV(os.Getenv("KAFKA_BROKERS")),
		ServiceName:        getenv("SERVICE_NAME", "checkout-api"),
		IdempotencyBackend: getenv("IDEMPOTENCY_BACKEND", "memory"),
		MerchantURLs: parseKVList(getenv("MERCHANTS",
			"merchant-a=http://merchant-a:8001,merchant-b=http://merchant-b:8002")),
		MerchantSecrets: parseKVList(os.Getenv("MERCHANT_SECRETS")),
		WebhookSecret:   getenv("WEBHOOK_SECRET", "dev-webhook-secret-change-in-production"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseKVList parses "id=value,id=value" lists (MERCHANTS, MERCHANT_SECRETS).
func parseKVList(s string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
