package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for YAML files. Pointer fields distinguish
// "not set" from zero values so a partial file only overrides what it names.
type fileConfig struct {
	Server struct {
		Port        *int    `yaml:"port"`
		LogLevel    *string `yaml:"log_level"`
		ServiceName *string `yaml:"service_name"`
	} `yaml:"server"`

	Upstream struct {
		Scheme         *string  `yaml:"scheme"`
		Host           *string  `yaml:"host"`
		Port           *int     `yaml:"port"`
		PredictPath    *string  `yaml:"predict_path"`
		ProbePaths     []string `yaml:"probe_paths"`
		Timeout        *string  `yaml:"timeout"`
		ProbeTimeout   *string  `yaml:"probe_timeout"`
		ProbeCacheTTL  *string  `yaml:"probe_cache_ttl"`
		MaxConcurrency *int     `yaml:"max_concurrency"`
		BreakerEnabled *bool    `yaml:"breaker_enabled"`
		MaxBodyBytes   *int64   `yaml:"max_body_bytes"`
	} `yaml:"upstream"`

	Diagnostics struct {
		Dir              *string `yaml:"dir"`
		PerRequest       *bool   `yaml:"per_request"`
		ExposeDebugPaths *bool   `yaml:"expose_debug_paths"`
	} `yaml:"diagnostics"`

	HTTP struct {
		MaxRequestBytes    *int64   `yaml:"max_request_bytes"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"http"`

	Telemetry struct {
		OTLPEndpoint *string `yaml:"otlp_endpoint"`
	} `yaml:"telemetry"`
}

// LoadFile reads a YAML file over the defaults, then applies environment
// variables on top. An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := fc.apply(cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	setInt(&cfg.Port, fc.Server.Port)
	setString(&cfg.LogLevel, fc.Server.LogLevel)
	setString(&cfg.ServiceName, fc.Server.ServiceName)

	setString(&cfg.UpstreamScheme, fc.Upstream.Scheme)
	setString(&cfg.UpstreamHost, fc.Upstream.Host)
	setInt(&cfg.UpstreamPort, fc.Upstream.Port)
	setString(&cfg.UpstreamPredictPath, fc.Upstream.PredictPath)
	if len(fc.Upstream.ProbePaths) > 0 {
		cfg.UpstreamProbePaths = fc.Upstream.ProbePaths
	}
	if err := setDuration(&cfg.UpstreamTimeout, fc.Upstream.Timeout, "upstream.timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.ProbeTimeout, fc.Upstream.ProbeTimeout, "upstream.probe_timeout"); err != nil {
		return err
	}
	if err := setDuration(&cfg.ProbeCacheTTL, fc.Upstream.ProbeCacheTTL, "upstream.probe_cache_ttl"); err != nil {
		return err
	}
	setInt(&cfg.MaxConcurrency, fc.Upstream.MaxConcurrency)
	if fc.Upstream.BreakerEnabled != nil {
		cfg.BreakerEnabled = *fc.Upstream.BreakerEnabled
	}
	if fc.Upstream.MaxBodyBytes != nil {
		cfg.MaxUpstreamBytes = *fc.Upstream.MaxBodyBytes
	}

	setString(&cfg.DiagnosticsDir, fc.Diagnostics.Dir)
	if fc.Diagnostics.PerRequest != nil {
		cfg.DiagnosticsPerRequest = *fc.Diagnostics.PerRequest
	}
	if fc.Diagnostics.ExposeDebugPaths != nil {
		cfg.ExposeDebugPaths = *fc.Diagnostics.ExposeDebugPaths
	}

	if fc.HTTP.MaxRequestBytes != nil {
		cfg.MaxRequestBytes = *fc.HTTP.MaxRequestBytes
	}
	if len(fc.HTTP.CORSAllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = fc.HTTP.CORSAllowedOrigins
	}

	setString(&cfg.OTLPEndpoint, fc.Telemetry.OTLPEndpoint)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
