package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures everything the engine needs from the environment so main
// stays lean.
type Config struct {
	Addr string

	Gateway  GatewayConfig
	Postgres PostgresConfig
	Redis    RedisConfig

	HIUID     string
	Requester string

	APISigningKey string

	ConsentCallbackDeadline time.Duration
	TransferDeadline        time.Duration
	SweepInterval           time.Duration

	DataPushURL string
	KeyMaterial KeyMaterialConfig
}

// GatewayConfig holds the ABDM gateway session credentials.
type GatewayConfig struct {
	BaseURL      string
	CMID         string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// PostgresConfig holds the connection string; empty means in-memory stores.
type PostgresConfig struct {
	URL string
}

// RedisConfig holds connection settings; empty URL means in-memory
// correlation storage.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KeyMaterialConfig is the requester's advertised key-exchange public value.
// Key generation happens out of band; the engine only forwards it.
type KeyMaterialConfig struct {
	CryptoAlg  string
	Curve      string
	PublicKey  string
	Parameters string
	Nonce      string
	Expiry     time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr: envOr("ABDM_ADDR", ":8080"),
		Gateway: GatewayConfig{
			BaseURL:      envOr("ABDM_GATEWAY_URL", "https://dev.abdm.gov.in/gateway"),
			CMID:         envOr("ABDM_CM_ID", "sbx"),
			ClientID:     os.Getenv("ABDM_CLIENT_ID"),
			ClientSecret: os.Getenv("ABDM_CLIENT_SECRET"),
			Timeout:      envDuration("ABDM_GATEWAY_TIMEOUT", 10*time.Second),
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("ABDM_POSTGRES_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("ABDM_REDIS_URL"),
			PoolSize:     envInt("ABDM_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("ABDM_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("ABDM_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("ABDM_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("ABDM_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		HIUID:                   envOr("ABDM_HIU_ID", "care-hiu"),
		APISigningKey:           envOr("ABDM_API_SIGNING_KEY", "dev-secret-change-in-production"),
		Requester:               envOr("ABDM_REQUESTER_NAME", "Care HIU"),
		ConsentCallbackDeadline: envDuration("ABDM_CONSENT_CALLBACK_DEADLINE", 10*time.Minute),
		TransferDeadline:        envDuration("ABDM_TRANSFER_DEADLINE", 20*time.Minute),
		SweepInterval:           envDuration("ABDM_SWEEP_INTERVAL", 30*time.Second),
		DataPushURL:             os.Getenv("ABDM_DATA_PUSH_URL"),
		KeyMaterial: KeyMaterialConfig{
			CryptoAlg:  envOr("ABDM_KEY_CRYPTO_ALG", "ECDH"),
			Curve:      envOr("ABDM_KEY_CURVE", "Curve25519"),
			PublicKey:  os.Getenv("ABDM_KEY_PUBLIC"),
			Parameters: envOr("ABDM_KEY_PARAMETERS", "Curve25519/32byte random key"),
			Nonce:      os.Getenv("ABDM_KEY_NONCE"),
			Expiry:     envDuration("ABDM_KEY_EXPIRY", 24*time.Hour),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
