// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultJWTSecret is the development fallback signing secret. Load rejects it in production.
const DefaultJWTSecret = "kaldor-dev-secret-change-me"

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment ("development", "production").
	Env string `mapstructure:"APP_ENV"`
	// HTTPAddr is the address the HTTP/WebSocket server listens on.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty disables persistence of telemetry and users.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is a redis:// URL. Empty falls back to in-memory session and latest-value stores.
	RedisURL string `mapstructure:"REDIS_URL"`

	MQTTBrokerURL            string        `mapstructure:"MQTT_BROKER_URL"`
	MQTTClientID             string        `mapstructure:"MQTT_CLIENT_ID"`
	MQTTUsername             string        `mapstructure:"MQTT_USERNAME"`
	MQTTPassword             string        `mapstructure:"MQTT_PASSWORD"`
	MQTTTopicRoot            string        `mapstructure:"MQTT_TOPIC_ROOT"`
	MQTTReconnectPeriod      time.Duration `mapstructure:"MQTT_RECONNECT_PERIOD"`
	MQTTMaxReconnectAttempts int           `mapstructure:"MQTT_MAX_RECONNECT_ATTEMPTS"`
	MQTTConnectTimeout       time.Duration `mapstructure:"MQTT_CONNECT_TIMEOUT"`

	// JWTSecret signs HS256 tokens when no key pair is configured.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string        `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string        `mapstructure:"JWT_ISSUER"`
	JWTTTL       time.Duration `mapstructure:"JWT_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	RateLimitWindow   time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	RateLimitMax      int           `mapstructure:"RATE_LIMIT_MAX"`
	LoginRateLimitMax int           `mapstructure:"LOGIN_RATE_LIMIT_MAX"`
	// WSRateLimitMax caps WebSocket upgrades per client address per window.
	WSRateLimitMax int `mapstructure:"WS_RATE_LIMIT_MAX"`
	// ControlRateLimitMax caps command/config/ota requests per principal per window.
	ControlRateLimitMax int `mapstructure:"CONTROL_RATE_LIMIT_MAX"`
	// TrustedProxies is a comma-separated list of CIDRs or addresses whose
	// X-Forwarded-For / X-Real-IP headers are believed. Empty trusts none.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`

	// WSSendBuffer is the per-client outbound queue length; a full queue drops messages for that client.
	WSSendBuffer        int     `mapstructure:"WS_SEND_BUFFER"`
	WSMessagesPerSecond float64 `mapstructure:"WS_MESSAGES_PER_SECOND"`

	CORSAllowedOrigins string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	SessionTTL         time.Duration `mapstructure:"SESSION_TTL"`
	// PolicyPath is an optional Rego file replacing the built-in device-control policy.
	PolicyPath string `mapstructure:"POLICY_PATH"`

	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("MQTT_BROKER_URL", "tcp://localhost:1883")
	v.SetDefault("MQTT_CLIENT_ID", "kaldor-backend")
	v.SetDefault("MQTT_USERNAME", "")
	v.SetDefault("MQTT_PASSWORD", "")
	v.SetDefault("MQTT_TOPIC_ROOT", "entity")
	v.SetDefault("MQTT_RECONNECT_PERIOD", "5s")
	v.SetDefault("MQTT_MAX_RECONNECT_ATTEMPTS", 10)
	v.SetDefault("MQTT_CONNECT_TIMEOUT", "30s")
	v.SetDefault("JWT_SECRET", DefaultJWTSecret)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "kaldor-iiot")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("RATE_LIMIT_MAX", 100)
	v.SetDefault("LOGIN_RATE_LIMIT_MAX", 5)
	v.SetDefault("WS_RATE_LIMIT_MAX", 30)
	v.SetDefault("CONTROL_RATE_LIMIT_MAX", 60)
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("WS_SEND_BUFFER", 64)
	v.SetDefault("WS_MESSAGES_PER_SECOND", 20)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("SESSION_TTL", "1h")
	v.SetDefault("POLICY_PATH", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "kaldor-iiot-backend")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that defaults alone cannot guarantee.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.MQTTTopicRoot == "" || strings.ContainsAny(c.MQTTTopicRoot, "+#/") {
		return errors.New("config: MQTT_TOPIC_ROOT must be a single literal topic segment")
	}
	if c.MQTTReconnectPeriod <= 0 {
		return errors.New("config: MQTT_RECONNECT_PERIOD must be positive")
	}
	if c.MQTTMaxReconnectAttempts < 1 {
		return errors.New("config: MQTT_MAX_RECONNECT_ATTEMPTS must be at least 1")
	}
	if c.JWTTTL <= 0 {
		return errors.New("config: JWT_TTL must be positive")
	}
	if (c.JWTPrivateKey == "") != (c.JWTPublicKey == "") {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if c.JWTPrivateKey == "" {
		if c.JWTSecret == "" {
			return errors.New("config: JWT_SECRET must be set")
		}
		if c.IsProduction() && c.JWTSecret == DefaultJWTSecret {
			return errors.New("config: JWT_SECRET must be changed when APP_ENV=production")
		}
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.RateLimitWindow <= 0 || c.RateLimitMax < 1 || c.LoginRateLimitMax < 1 || c.WSRateLimitMax < 1 || c.ControlRateLimitMax < 1 {
		return errors.New("config: rate limit window and maxima must be positive")
	}
	for _, p := range c.TrustedProxyList() {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("config: TRUSTED_PROXIES entry %q is not an address or CIDR", p)
		}
	}
	if c.WSSendBuffer < 1 {
		return errors.New("config: WS_SEND_BUFFER must be at least 1")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AllowedOrigins returns CORS origins from the comma-separated config.
func (c *Config) AllowedOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

// TrustedProxyList returns the TRUSTED_PROXIES entries.
func (c *Config) TrustedProxyList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TrustedProxies)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
