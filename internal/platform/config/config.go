package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr string

	// PostgresDSN selects the durable ledger store; empty means in-memory.
	PostgresDSN string

	// RedisURL enables the trust-config read cache; empty disables it.
	RedisURL string

	// KafkaBrokers enables mutation notifications; empty disables them.
	KafkaBrokers []string
	KafkaTopic   string

	// JWTSigningKey verifies identity tokens from the external identity
	// layer. When empty the server falls back to X-Actor-* headers
	// (development only).
	JWTSigningKey string

	// Ledgers lists which ledger variants this process mounts ("hot",
	// "cold", or both).
	Ledgers []string

	// AttestationTTL is the validity window granted on registration.
	AttestationTTL time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CUSTODIA_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	ledgers := splitList(os.Getenv("CUSTODIA_LEDGERS"))
	if len(ledgers) == 0 {
		ledgers = []string{"hot", "cold"}
	}

	topic := os.Getenv("CUSTODIA_KAFKA_TOPIC")
	if topic == "" {
		topic = "custody-events"
	}

	return Server{
		Addr:           addr,
		PostgresDSN:    os.Getenv("CUSTODIA_POSTGRES_DSN"),
		RedisURL:       os.Getenv("CUSTODIA_REDIS_URL"),
		KafkaBrokers:   splitList(os.Getenv("CUSTODIA_KAFKA_BROKERS")),
		KafkaTopic:     topic,
		JWTSigningKey:  os.Getenv("CUSTODIA_JWT_SIGNING_KEY"),
		Ledgers:        ledgers,
		AttestationTTL: 24 * time.Hour,
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
