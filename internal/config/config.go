package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all gateway configuration.
// Values come from defaults, an optional YAML file and environment variables,
// in increasing order of precedence.
type Config struct {
	// Server
	Port        int
	LogLevel    string
	ServiceName string

	// Upstream model server
	UpstreamScheme      string
	UpstreamHost        string
	UpstreamPort        int
	UpstreamPredictPath string
	UpstreamProbePaths  []string // first entry is the canonical liveness path

	// Timeouts
	UpstreamTimeout time.Duration
	ProbeTimeout    time.Duration
	ProbeCacheTTL   time.Duration

	// Resilience
	MaxConcurrency int
	BreakerEnabled bool

	// Limits
	MaxRequestBytes  int64
	MaxUpstreamBytes int64

	// Diagnostics
	DiagnosticsDir        string
	DiagnosticsPerRequest bool
	ExposeDebugPaths      bool

	// HTTP surface
	CORSAllowedOrigins []string

	// Observability
	OTLPEndpoint string // empty disables trace export
}

// Default returns the configuration of the reference deployment:
// model server on 127.0.0.1:8000, gateway on :3001.
func Default() *Config {
	return &Config{
		Port:        3001,
		LogLevel:    "info",
		ServiceName: "exoml-gateway",

		UpstreamScheme:      "http",
		UpstreamHost:        "127.0.0.1",
		UpstreamPort:        8000,
		UpstreamPredictPath: "/predict",
		UpstreamProbePaths:  []string{"/health"},

		UpstreamTimeout: 60 * time.Second,
		ProbeTimeout:    5 * time.Second,
		ProbeCacheTTL:   2 * time.Second,

		MaxConcurrency: 50,
		BreakerEnabled: true,

		MaxRequestBytes:  1 << 20,
		MaxUpstreamBytes: 10 << 20,

		DiagnosticsDir: "diagnostics",

		CORSAllowedOrigins: []string{"*"},
	}
}

// Load reads configuration from environment variables on top of the defaults.
func Load() *Config {
	cfg := Default()
	applyEnv(cfg)
	return cfg
}

// UpstreamAddr returns host:port of the model server.
func (c *Config) UpstreamAddr() string {
	return net.JoinHostPort(c.UpstreamHost, strconv.Itoa(c.UpstreamPort))
}

// UpstreamBaseURL returns scheme://host:port of the model server.
func (c *Config) UpstreamBaseURL() string {
	return fmt.Sprintf("%s://%s", c.UpstreamScheme, c.UpstreamAddr())
}

// UpstreamPredictURL returns the full prediction endpoint.
func (c *Config) UpstreamPredictURL() string {
	return c.UpstreamBaseURL() + c.UpstreamPredictPath
}

// ProbeURLs returns the liveness candidates in probe order.
func (c *Config) ProbeURLs() []string {
	base := c.UpstreamBaseURL()
	urls := make([]string, 0, len(c.UpstreamProbePaths))
	for _, p := range c.UpstreamProbePaths {
		urls = append(urls, base+p)
	}
	return urls
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.UpstreamPort <= 0 || c.UpstreamPort > 65535 {
		errs = append(errs, fmt.Errorf("upstream port %d out of range", c.UpstreamPort))
	}
	if strings.TrimSpace(c.UpstreamHost) == "" {
		errs = append(errs, errors.New("upstream host is required"))
	}
	if c.UpstreamScheme != "http" && c.UpstreamScheme != "https" {
		errs = append(errs, fmt.Errorf("upstream scheme %q must be http or https", c.UpstreamScheme))
	}
	if !strings.HasPrefix(c.UpstreamPredictPath, "/") {
		errs = append(errs, fmt.Errorf("upstream predict path %q must start with /", c.UpstreamPredictPath))
	}
	if len(c.UpstreamProbePaths) == 0 {
		errs = append(errs, errors.New("at least one upstream probe path is required"))
	}
	for _, p := range c.UpstreamProbePaths {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("probe path %q must start with /", p))
		}
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, errors.New("upstream timeout must be positive"))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("probe timeout must be positive"))
	}
	if c.ProbeCacheTTL < 0 {
		errs = append(errs, errors.New("probe cache ttl must not be negative"))
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("max concurrency must be positive"))
	}
	if c.MaxRequestBytes <= 0 || c.MaxUpstreamBytes <= 0 {
		errs = append(errs, errors.New("body limits must be positive"))
	}
	if strings.TrimSpace(c.DiagnosticsDir) == "" {
		errs = append(errs, errors.New("diagnostics dir is required"))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)

	cfg.UpstreamScheme = getEnv("UPSTREAM_SCHEME", cfg.UpstreamScheme)
	cfg.UpstreamHost = getEnv("UPSTREAM_HOST", cfg.UpstreamHost)
	cfg.UpstreamPort = getEnvInt("UPSTREAM_PORT", cfg.UpstreamPort)
	cfg.UpstreamPredictPath = getEnv("UPSTREAM_PREDICT_PATH", cfg.UpstreamPredictPath)
	cfg.UpstreamProbePaths = getEnvList("UPSTREAM_PROBE_PATHS", cfg.UpstreamProbePaths)

	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", cfg.UpstreamTimeout)
	cfg.ProbeTimeout = getEnvDuration("PROBE_TIMEOUT", cfg.ProbeTimeout)
	cfg.ProbeCacheTTL = getEnvDuration("PROBE_CACHE_TTL", cfg.ProbeCacheTTL)

	cfg.MaxConcurrency = getEnvInt("MAX_CONCURRENCY", cfg.MaxConcurrency)
	cfg.BreakerEnabled = getEnvBool("BREAKER_ENABLED", cfg.BreakerEnabled)

	cfg.MaxRequestBytes = int64(getEnvInt("MAX_REQUEST_BYTES", int(cfg.MaxRequestBytes)))
	cfg.MaxUpstreamBytes = int64(getEnvInt("MAX_UPSTREAM_BYTES", int(cfg.MaxUpstreamBytes)))

	cfg.DiagnosticsDir = getEnv("DIAGNOSTICS_DIR", cfg.DiagnosticsDir)
	cfg.DiagnosticsPerRequest = getEnvBool("DIAGNOSTICS_PER_REQUEST", cfg.DiagnosticsPerRequest)
	cfg.ExposeDebugPaths = getEnvBool("EXPOSE_DEBUG_PATHS", cfg.ExposeDebugPaths)

	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)

	cfg.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList parses a comma-separated list, dropping blank entries.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
