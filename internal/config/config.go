// Package config loads the relay's configuration from environment
// variables, with an optional low-priority YAML overlay file for local
// development (CONFIG_FILE). Environment variables always win: the
// overlay only fills in values that are unset in the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved, validated configuration for one relay
// process.
type Config struct {
	BindAddr       string
	PublicBaseURL  string
	DBPath         string
	StaticDir      string
	CORSOrigins    []string
	AllowedPushHosts []string

	WebhookReadTimeoutMS int64

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	MaxPayloadBytes     int64
	ChunkDataBytes      int64
	ChunkDelayMS        int64
	SubscriptionTTLDays int64
	RateLimitPerMinute  int
	QueueMaxBytes       int64
	QueueWorkers        int

	LogLevel    string
	ServiceName string
}

const (
	defaultBindAddr            = ":3000"
	defaultPublicBaseURL       = "http://localhost:3000"
	defaultDBPath              = "./data/relay.db"
	defaultWebhookReadTimeoutMS = 10_000
	defaultMaxPayloadBytes     = 256 * 1024
	defaultChunkDataBytes      = 3000
	defaultChunkDelayMS        = 0
	defaultSubscriptionTTLDays = 90
	defaultRateLimitPerMinute  = 60
	defaultQueueMaxBytes       = 64 * 1024 * 1024
	defaultQueueWorkers        = 4
	defaultServiceName         = "webpushrelay"
)

// Load resolves configuration from the process environment (via os.Getenv),
// optionally overlaid with a lower-priority CONFIG_FILE.
func Load() (*Config, error) {
	overlay, err := loadOverlay(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	get := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return overlay[key]
	}

	cfg := &Config{
		BindAddr:      orDefault(get("BIND_ADDR"), defaultBindAddr),
		PublicBaseURL: orDefault(get("PUBLIC_BASE_URL"), defaultPublicBaseURL),
		DBPath:        orDefault(get("DB_PATH"), defaultDBPath),
		StaticDir:     get("STATIC_DIR"),
		CORSOrigins:   splitCSV(get("CORS_ORIGINS")),
		AllowedPushHosts: splitCSV(get("ALLOWED_PUSH_HOSTS")),

		VAPIDPublicKey:  get("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: get("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    orDefault(get("VAPID_SUBJECT"), "mailto:admin@example.com"),

		LogLevel:    orDefault(get("LOG_LEVEL"), "info"),
		ServiceName: orDefault(get("SERVICE_NAME"), defaultServiceName),
	}

	var perr error
	cfg.WebhookReadTimeoutMS = parseInt64(get("WEBHOOK_READ_TIMEOUT_MS"), defaultWebhookReadTimeoutMS, &perr)
	cfg.MaxPayloadBytes = parseInt64(get("MAX_PAYLOAD_BYTES"), defaultMaxPayloadBytes, &perr)
	cfg.ChunkDataBytes = parseInt64(get("CHUNK_DATA_BYTES"), defaultChunkDataBytes, &perr)
	cfg.ChunkDelayMS = parseInt64(get("CHUNK_DELAY_MS"), defaultChunkDelayMS, &perr)
	cfg.SubscriptionTTLDays = parseInt64(get("SUBSCRIPTION_TTL_DAYS"), defaultSubscriptionTTLDays, &perr)
	cfg.QueueMaxBytes = parseInt64(get("QUEUE_MAX_BYTES"), defaultQueueMaxBytes, &perr)
	cfg.QueueWorkers = int(parseInt64(get("QUEUE_WORKERS"), defaultQueueWorkers, &perr))
	cfg.RateLimitPerMinute = int(parseInt64(get("RATE_LIMIT_PER_MINUTE"), defaultRateLimitPerMinute, &perr))
	if perr != nil {
		return nil, perr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.VAPIDPublicKey) == "" {
		return fmt.Errorf("config: VAPID_PUBLIC_KEY is required")
	}
	if strings.TrimSpace(c.VAPIDPrivateKey) == "" {
		return fmt.Errorf("config: VAPID_PRIVATE_KEY is required")
	}
	u, err := url.Parse(c.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("config: invalid PUBLIC_BASE_URL: %w", err)
	}
	host := u.Hostname()
	isLocal := host == "localhost" || host == "127.0.0.1" || host == "::1"
	if u.Scheme != "https" && !isLocal {
		return fmt.Errorf("config: PUBLIC_BASE_URL must use https unless host is localhost")
	}
	if c.WebhookReadTimeoutMS <= 0 {
		return fmt.Errorf("config: WEBHOOK_READ_TIMEOUT_MS must be positive")
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("config: MAX_PAYLOAD_BYTES must be positive")
	}
	if c.ChunkDataBytes <= 0 {
		return fmt.Errorf("config: CHUNK_DATA_BYTES must be positive")
	}
	if c.QueueWorkers <= 0 {
		return fmt.Errorf("config: QUEUE_WORKERS must be positive")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("config: RATE_LIMIT_PER_MINUTE must be >= 0")
	}
	return nil
}

func loadOverlay(path string) (map[string]string, error) {
	out := map[string]string{}
	path = strings.TrimSpace(path)
	if path == "" {
		return out, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading CONFIG_FILE: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing CONFIG_FILE: %w", err)
	}
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch x := v.(type) {
		case string:
			out[key] = x
		case nil:
			// skip
		default:
			out[key] = fmt.Sprintf("%v", x)
		}
	}
	return out, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64(s string, def int64, perr *error) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if *perr == nil {
			*perr = fmt.Errorf("config: invalid integer value %q", s)
		}
		return def
	}
	return n
}

// CORSAllowAll reports whether the configured origin list permits any
// origin.
func (c *Config) CORSAllowAll() bool {
	for _, o := range c.CORSOrigins {
		if o == "*" {
			return true
		}
	}
	return len(c.CORSOrigins) == 0
}
