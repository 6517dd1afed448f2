package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fabian4/console-proxy-gateway/internal/probe"
	"github.com/fabian4/console-proxy-gateway/internal/rewrite"
)

// Environment variables read by LoadEnv.
const (
	EnvBackendURL       = "BACKEND_URL"
	EnvLegacyBackendURL = "NEXT_PUBLIC_BACKEND_URL"
	EnvStaticExport     = "STATIC_EXPORT"
)

var (
	// ErrStaticExport is fatal: a static export cannot carry a per-request rewrite.
	ErrStaticExport  = errors.New("static export requested; the /api/proxy rewrite needs a running server")
	ErrInvalidOrigin = errors.New("invalid backend origin")
)

type rawConfig struct {
	EntryPoint []struct {
		Name    string `yaml:"name"`
		Address string `yaml:"address"`
	} `yaml:"entrypoint"`
	Output  string `yaml:"output"`
	Backend struct {
		Origin   string `yaml:"origin"`
		Fallback string `yaml:"fallback"`
		Mode     string `yaml:"mode"`
		TLS      struct {
			InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
			CAFile             string `yaml:"ca_file"`
		} `yaml:"tls"`
	} `yaml:"backend"`
	Timeouts struct {
		Read     string `yaml:"read"`
		Write    string `yaml:"write"`
		Upstream string `yaml:"upstream"`
	} `yaml:"timeouts"`
	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	AccessLog struct {
		Sampling *float64 `yaml:"sampling"`
		Fields   []string `yaml:"fields"`
	} `yaml:"access_log"`
	Probe struct {
		BaseURL         string   `yaml:"base_url"`
		SampleLimit     int      `yaml:"sample_limit"`
		Timeout         string   `yaml:"timeout"`
		DocumentMarkers []string `yaml:"document_markers"`
		ErrorPhrases    []string `yaml:"error_phrases"`
	} `yaml:"probe"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads the YAML file at path and applies the process environment.
// An empty path means built-in defaults plus environment.
func Load(path string) (*Config, error) {
	return LoadEnv(path, os.Getenv)
}

// LoadEnv is Load with an injectable environment lookup.
func LoadEnv(path string, getenv func(string) string) (*Config, error) {
	var rc rawConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &rc); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	}

	// build-time guard, checked before anything else
	if strings.EqualFold(strings.TrimSpace(rc.Output), "export") || truthy(getenv(EnvStaticExport)) {
		return nil, ErrStaticExport
	}

	// listen
	listen := ":3000"
	if len(rc.EntryPoint) > 0 && strings.TrimSpace(rc.EntryPoint[0].Address) != "" {
		listen = strings.TrimSpace(rc.EntryPoint[0].Address)
	}

	// backend; env wins over file
	mode, err := rewrite.ParseMode(rc.Backend.Mode)
	if err != nil {
		return nil, fmt.Errorf("backend.mode: %w", err)
	}
	origin := rc.Backend.Origin
	if v := getenv(EnvBackendURL); strings.TrimSpace(v) != "" {
		origin = v
	} else if v := getenv(EnvLegacyBackendURL); strings.TrimSpace(v) != "" {
		origin = v
	}
	backend := Backend{
		Origin:   rewrite.TrimTrailingSlashes(strings.TrimSpace(origin)),
		Fallback: rewrite.TrimTrailingSlashes(strings.TrimSpace(rc.Backend.Fallback)),
		Mode:     mode,
		TLS: UpstreamTLS{
			InsecureSkipVerify: rc.Backend.TLS.InsecureSkipVerify,
			CAFile:             strings.TrimSpace(rc.Backend.TLS.CAFile),
		},
	}
	if err := ValidateOrigin(backend.Origin); err != nil {
		return nil, fmt.Errorf("backend.origin: %w", err)
	}
	if err := ValidateOrigin(backend.Fallback); err != nil {
		return nil, fmt.Errorf("backend.fallback: %w", err)
	}

	// timeouts
	var timeouts Timeouts
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"timeouts.read", rc.Timeouts.Read, &timeouts.Read},
		{"timeouts.write", rc.Timeouts.Write, &timeouts.Write},
		{"timeouts.upstream", rc.Timeouts.Upstream, &timeouts.Upstream},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", d.name, err)
		}
		*d.dst = v
	}

	// rate limit
	if rc.RateLimit.RequestsPerSecond < 0 || rc.RateLimit.Burst < 0 {
		return nil, fmt.Errorf("rate_limit: values must be non-negative")
	}

	// access log
	alc := AccessLogConfig{Sampling: 1.0, Fields: rc.AccessLog.Fields}
	if rc.AccessLog.Sampling != nil {
		alc.Sampling = *rc.AccessLog.Sampling
		if alc.Sampling < 0 || alc.Sampling > 1 {
			return nil, fmt.Errorf("access_log.sampling: must be within [0,1], got %v", alc.Sampling)
		}
		// an explicit 0 keeps nothing
		alc.Disabled = alc.Sampling == 0
	}

	// probe
	pc := ProbeConfig{
		BaseURL:     strings.TrimSpace(rc.Probe.BaseURL),
		SampleLimit: rc.Probe.SampleLimit,
		Classifier:  probe.DefaultClassifier(),
	}
	if pc.SampleLimit <= 0 {
		pc.SampleLimit = probe.DefaultSampleLimit
	}
	if rc.Probe.Timeout != "" {
		v, err := time.ParseDuration(rc.Probe.Timeout)
		if err != nil {
			return nil, fmt.Errorf("probe.timeout: %v", err)
		}
		pc.Timeout = v
	}
	if rc.Probe.DocumentMarkers != nil {
		pc.Classifier.DocumentMarkers = rc.Probe.DocumentMarkers
	}
	if rc.Probe.ErrorPhrases != nil {
		pc.Classifier.ErrorPhrases = rc.Probe.ErrorPhrases
	}
	if pc.BaseURL == "" {
		pc.BaseURL = BaseURLFromListen(listen)
		pc.derived = true
	}

	// log
	lc := LogConfig{Format: strings.ToLower(strings.TrimSpace(rc.Log.Format))}
	if lc.Format == "" {
		lc.Format = "json"
	}
	if lc.Format != "json" && lc.Format != "text" {
		return nil, fmt.Errorf("log.format: unknown format %q", rc.Log.Format)
	}
	if rc.Log.Level != "" {
		if err := lc.Level.UnmarshalText([]byte(rc.Log.Level)); err != nil {
			return nil, fmt.Errorf("log.level: %v", err)
		}
	}

	cfg := &Config{
		Listen:    listen,
		Backend:   backend,
		Timeouts:  timeouts,
		AccessLog: alc,
		Probe:     pc,
		Log:       lc,
	}
	cfg.RateLimit.RequestsPerSecond = rc.RateLimit.RequestsPerSecond
	cfg.RateLimit.Burst = rc.RateLimit.Burst
	return cfg, nil
}

// ValidateOrigin accepts "" or an absolute http(s) URL with a host and no
// query or fragment.
func ValidateOrigin(origin string) error {
	if origin == "" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q must be an http(s) URL with host", ErrInvalidOrigin, origin)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("%w: %q must not carry a query or fragment", ErrInvalidOrigin, origin)
	}
	return nil
}

// BaseURLFromListen turns a listen address into a loopback URL.
// ":3000" -> "http://127.0.0.1:3000".
func BaseURLFromListen(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://127.0.0.1:3000"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// NewLogger builds the process logger from LogConfig.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func truthy(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.EqualFold(s, "export") {
		return true
	}
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

// SetOrigin replaces the backend origin, e.g. from a command-line flag.
func (c *Config) SetOrigin(origin string) error {
	o := rewrite.TrimTrailingSlashes(strings.TrimSpace(origin))
	if err := ValidateOrigin(o); err != nil {
		return err
	}
	c.Backend.Origin = o
	return nil
}

// SetListen replaces the listen address. A probe base URL that was derived
// from the old address follows the new one; an explicit probe.base_url is
// left alone.
func (c *Config) SetListen(listen string) {
	c.Listen = listen
	if c.Probe.derived {
		c.Probe.BaseURL = BaseURLFromListen(listen)
	}
}
