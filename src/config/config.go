// Package config loads the gateway configuration from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"

	goenv "github.com/caitlinelfring/go-env-default"

	"github.com/Easy-Infra-Ltd/easy-predictionguard/src/safety"
)

// Config is the top-level gateway configuration.
type Config struct {
	Upstream        UpstreamConfig        `json:"upstream"`
	PredictionGuard PredictionGuardConfig `json:"predictionGuard"`
	Checks          ChecksConfig          `json:"checks"`
}

// UpstreamConfig controls how MCP clients connect to the gateway.
type UpstreamConfig struct {
	Transport string     `json:"transport"` // "stdio" or "http"
	HTTP      HTTPConfig `json:"http"`
}

// HTTPConfig holds HTTP listener settings.
type HTTPConfig struct {
	Addr string `json:"addr"` // e.g. ":8080"
	Path string `json:"path"` // e.g. "/mcp"
}

// PredictionGuardConfig points at the API. The key is read from the
// environment variable named by APIKeyEnv, falling back to APIKey.
type PredictionGuardConfig struct {
	BaseURL   string `json:"baseURL"`
	APIKey    string `json:"apiKey,omitempty"`
	APIKeyEnv string `json:"apiKeyEnv"`
}

// ChecksConfig holds the defaults for each check. Tool calls may override
// thresholds and PII replacement per request.
type ChecksConfig struct {
	MaxInputChars *int                 `json:"maxInputChars,omitempty"`
	Injection     ThresholdCheckConfig `json:"injection"`
	PII           PIICheckConfig       `json:"pii"`
	Toxicity      ThresholdCheckConfig `json:"toxicity"`
}

type ThresholdCheckConfig struct {
	Enabled   *bool    `json:"enabled,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type PIICheckConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Replace       *bool  `json:"replace,omitempty"`
	ReplaceMethod string `json:"replaceMethod,omitempty"`
}

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"

	DefaultHTTPAddr      = ":8080"
	DefaultHTTPPath      = "/mcp"
	DefaultAPIKeyEnv     = "PREDICTIONGUARD_API_KEY"
	BaseURLEnv           = "PREDICTIONGUARD_BASE_URL"
	DefaultMaxInputChars = 16000
	DefaultThreshold     = 0.5
	DefaultReplaceMethod = safety.ReplaceCategory
)

// Load reads and parses a JSON config file, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Upstream.Transport == "" {
		cfg.Upstream.Transport = TransportStdio
	}
	if cfg.Upstream.HTTP.Addr == "" {
		cfg.Upstream.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.Upstream.HTTP.Path == "" {
		cfg.Upstream.HTTP.Path = DefaultHTTPPath
	}

	if cfg.PredictionGuard.BaseURL == "" {
		cfg.PredictionGuard.BaseURL = safety.DefaultBaseURL
	}
	if cfg.PredictionGuard.APIKeyEnv == "" {
		cfg.PredictionGuard.APIKeyEnv = DefaultAPIKeyEnv
	}

	c := &cfg.Checks
	if c.MaxInputChars == nil {
		c.MaxInputChars = intPtr(DefaultMaxInputChars)
	}
	for _, tc := range []*ThresholdCheckConfig{&c.Injection, &c.Toxicity} {
		if tc.Enabled == nil {
			tc.Enabled = boolPtr(true)
		}
		if tc.Threshold == nil {
			tc.Threshold = floatPtr(DefaultThreshold)
		}
	}
	if c.PII.Enabled == nil {
		c.PII.Enabled = boolPtr(true)
	}
	if c.PII.Replace == nil {
		c.PII.Replace = boolPtr(true)
	}
	if c.PII.ReplaceMethod == "" && *c.PII.Replace {
		c.PII.ReplaceMethod = DefaultReplaceMethod
	}
}

func applyEnv(cfg *Config) {
	pg := &cfg.PredictionGuard
	pg.APIKey = goenv.GetDefault(pg.APIKeyEnv, pg.APIKey)
	pg.BaseURL = goenv.GetDefault(BaseURLEnv, pg.BaseURL)
}

func validate(cfg Config) error {
	if cfg.Upstream.Transport != TransportStdio && cfg.Upstream.Transport != TransportHTTP {
		return fmt.Errorf("upstream transport must be %q or %q, got %q",
			TransportStdio, TransportHTTP, cfg.Upstream.Transport)
	}
	if !strings.HasPrefix(cfg.Upstream.HTTP.Path, "/") {
		return fmt.Errorf("upstream http path must start with \"/\", got %q", cfg.Upstream.HTTP.Path)
	}

	u, err := url.Parse(cfg.PredictionGuard.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("predictionGuard.baseURL %q must be an absolute http(s) URL", cfg.PredictionGuard.BaseURL)
	}

	c := cfg.Checks
	if !c.Injection.On() && !c.PII.On() && !c.Toxicity.On() {
		return fmt.Errorf("at least one check must be enabled")
	}
	if strings.TrimSpace(cfg.PredictionGuard.APIKey) == "" {
		return fmt.Errorf("predictionGuard API key is required (set %s or predictionGuard.apiKey)",
			cfg.PredictionGuard.APIKeyEnv)
	}
	if *c.MaxInputChars < 0 {
		return fmt.Errorf("checks.maxInputChars must not be negative, got %d", *c.MaxInputChars)
	}

	for name, tc := range map[string]ThresholdCheckConfig{"injection": c.Injection, "toxicity": c.Toxicity} {
		if err := ValidThreshold(*tc.Threshold); err != nil {
			return fmt.Errorf("checks.%s.threshold: %w", name, err)
		}
	}

	if !safety.ValidReplaceMethod(c.PII.ReplaceMethod) {
		return fmt.Errorf("checks.pii.replaceMethod must be one of %q, %q, %q or %q, got %q",
			safety.ReplaceCategory, safety.ReplaceFake, safety.ReplaceMask, safety.ReplaceRandom,
			c.PII.ReplaceMethod)
	}

	return nil
}

// ValidThreshold reports an error for thresholds outside [0, 1].
func ValidThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("must be between 0.0 and 1.0, got %v", t)
	}
	return nil
}

// On reports whether the check is enabled.
func (c ThresholdCheckConfig) On() bool { return deref(c.Enabled) }

// On reports whether the check is enabled.
func (c PIICheckConfig) On() bool { return deref(c.Enabled) }

func deref(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}

func boolPtr(b bool) *bool        { return &b }
func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }
