package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fabian4/console-proxy-gateway/internal/rewrite"
)

func writeTmp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	fp := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(fp, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return fp
}

func env(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func TestLoad_Minimal(t *testing.T) {
	yml := `
            entrypoint:
              - name: web
                address: ":8080"

            backend:
              origin: "https://api.example.com/"
            `
	fp := writeTmp(t, yml)
	cfg, err := LoadEnv(fp, env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Listen, ":8080"; got != want {
		t.Fatalf("listen: got %q, want %q", got, want)
	}
	if got, want := cfg.Backend.Origin, "https://api.example.com"; got != want {
		t.Fatalf("origin: got %q, want %q", got, want)
	}
	if cfg.Backend.Mode != rewrite.ModeFallback {
		t.Fatalf("mode: got %q, want fallback", cfg.Backend.Mode)
	}
	if got, want := cfg.Backend.Rule().DestinationTemplate(), "https://api.example.com/:path*"; got != want {
		t.Fatalf("destination: got %q, want %q", got, want)
	}
	if got, want := cfg.Probe.BaseURL, "http://127.0.0.1:8080"; got != want {
		t.Fatalf("probe base url: got %q, want %q", got, want)
	}
	if cfg.Probe.SampleLimit != 800 {
		t.Fatalf("sample limit: got %d, want 800", cfg.Probe.SampleLimit)
	}
	if cfg.AccessLog.Sampling != 1.0 {
		t.Fatalf("sampling default: got %v", cfg.AccessLog.Sampling)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != slog.LevelInfo {
		t.Fatalf("log defaults: %+v", cfg.Log)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := LoadEnv("", env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":3000" {
		t.Fatalf("listen: got %q", cfg.Listen)
	}
	if !cfg.Backend.Rule().Sentinel {
		t.Fatalf("no origin and no fallback should resolve to the sentinel")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	fp := writeTmp(t, `
backend:
  origin: "http://from-file:3001"
`)
	cfg, err := LoadEnv(fp, env(map[string]string{EnvBackendURL: " http://from-env:3001// "}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Backend.Origin, "http://from-env:3001"; got != want {
		t.Fatalf("origin: got %q, want %q", got, want)
	}

	cfg, err = LoadEnv(fp, env(map[string]string{EnvLegacyBackendURL: "http://legacy:3001"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Backend.Origin, "http://legacy:3001"; got != want {
		t.Fatalf("legacy origin: got %q, want %q", got, want)
	}

	// blank env does not clobber the file value
	cfg, err = LoadEnv(fp, env(map[string]string{EnvBackendURL: "   "}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Backend.Origin, "http://from-file:3001"; got != want {
		t.Fatalf("origin: got %q, want %q", got, want)
	}
}

func TestLoad_FallbackAndStrict(t *testing.T) {
	fp := writeTmp(t, `
backend:
  fallback: "http://fallback:3001/"
`)
	cfg, err := LoadEnv(fp, env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r := cfg.Backend.Rule()
	if !r.FromFallback || r.DestinationTemplate() != "http://fallback:3001/:path*" {
		t.Fatalf("fallback rule unexpected: %+v", r)
	}

	fp = writeTmp(t, `
backend:
  fallback: "http://fallback:3001/"
  mode: strict
`)
	cfg, err = LoadEnv(fp, env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Backend.Rule().DestinationTemplate(); got != rewrite.SentinelPath {
		t.Fatalf("strict destination: got %q, want sentinel", got)
	}
}

func TestLoad_StaticExport(t *testing.T) {
	fp := writeTmp(t, `output: export`)
	if _, err := LoadEnv(fp, env(nil)); !errors.Is(err, ErrStaticExport) {
		t.Fatalf("yaml output=export: got %v, want ErrStaticExport", err)
	}
	for _, v := range []string{"1", "true", "export", "TRUE"} {
		if _, err := LoadEnv("", env(map[string]string{EnvStaticExport: v})); !errors.Is(err, ErrStaticExport) {
			t.Fatalf("env %q: got %v, want ErrStaticExport", v, err)
		}
	}
	if _, err := LoadEnv("", env(map[string]string{EnvStaticExport: "0"})); err != nil {
		t.Fatalf("env 0: %v", err)
	}
}

func TestLoad_Timeouts(t *testing.T) {
	fp := writeTmp(t, `
timeouts:
  read: 1s
  write: 2m
  upstream: 500ms
probe:
  timeout: 3s
`)
	cfg, err := LoadEnv(fp, env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timeouts.Read != time.Second {
		t.Errorf("read timeout: got %v, want 1s", cfg.Timeouts.Read)
	}
	if cfg.Timeouts.Write != 2*time.Minute {
		t.Errorf("write timeout: got %v, want 2m", cfg.Timeouts.Write)
	}
	if cfg.Timeouts.Upstream != 500*time.Millisecond {
		t.Errorf("upstream timeout: got %v, want 500ms", cfg.Timeouts.Upstream)
	}
	if cfg.Probe.Timeout != 3*time.Second {
		t.Errorf("probe timeout: got %v, want 3s", cfg.Probe.Timeout)
	}
}

func TestLoad_ProbeClassifier(t *testing.T) {
	fp := writeTmp(t, `
probe:
  base_url: "https://console.example.com"
  sample_limit: 200
  error_phrases: ["cannot get", "bad gateway"]
`)
	cfg, err := LoadEnv(fp, env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Probe.BaseURL != "https://console.example.com" || cfg.Probe.SampleLimit != 200 {
		t.Fatalf("probe config: %+v", cfg.Probe)
	}
	if got := cfg.Probe.Classifier.ErrorPhrases; len(got) != 2 || got[0] != "cannot get" {
		t.Fatalf("error phrases: %v", got)
	}
	if len(cfg.Probe.Classifier.DocumentMarkers) != 2 {
		t.Fatalf("document markers should keep defaults: %v", cfg.Probe.Classifier.DocumentMarkers)
	}
}

func TestLoad_RateLimitAndAccessLog(t *testing.T) {
	fp := writeTmp(t, `
rate_limit:
  requests_per_second: 5
  burst: 10
access_log:
  sampling: 0.25
  fields: ["method", "status"]
log:
  level: debug
  format: text
`)
	cfg, err := LoadEnv(fp, env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit.RequestsPerSecond != 5 || cfg.RateLimit.Burst != 10 {
		t.Errorf("rate limit: %+v", cfg.RateLimit)
	}
	if cfg.AccessLog.Sampling != 0.25 || len(cfg.AccessLog.Fields) != 2 {
		t.Errorf("access log: %+v", cfg.AccessLog)
	}
	if cfg.Log.Level != slog.LevelDebug || cfg.Log.Format != "text" {
		t.Errorf("log: %+v", cfg.Log)
	}
}

func TestLoad_AccessLogSamplingZeroDisables(t *testing.T) {
	cfg, err := LoadEnv(writeTmp(t, "access_log: { sampling: 0 }\n"), env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.AccessLog.Disabled {
		t.Fatalf("explicit sampling 0 should disable the access log: %+v", cfg.AccessLog)
	}
	cfg, err = LoadEnv("", env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessLog.Disabled || cfg.AccessLog.Sampling != 1.0 {
		t.Fatalf("default access log: %+v", cfg.AccessLog)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"bad origin scheme": `backend: { origin: "ftp://x" }`,
		"origin with query": `backend: { origin: "http://x/?a=1" }`,
		"bad fallback":      `backend: { fallback: "not a url" }`,
		"bad mode":          `backend: { mode: loose }`,
		"bad timeout":       `timeouts: { read: soon }`,
		"bad sampling":      `access_log: { sampling: 2 }`,
		"negative rate":     `rate_limit: { requests_per_second: -1 }`,
		"bad format":        `log: { format: xml }`,
		"bad level":         `log: { level: loud }`,
		"bad yaml":          `backend: [`,
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadEnv(writeTmp(t, yml), env(nil)); err == nil {
				t.Fatalf("want error")
			}
		})
	}
	if _, err := LoadEnv(filepath.Join(t.TempDir(), "missing.yaml"), env(nil)); err == nil {
		t.Fatalf("want error for missing file")
	}
	if _, err := LoadEnv("", env(map[string]string{EnvBackendURL: "localhost:3001"})); !errors.Is(err, ErrInvalidOrigin) {
		t.Fatalf("env origin without scheme: got %v, want ErrInvalidOrigin", err)
	}
}

func TestConfig_SetOrigin(t *testing.T) {
	cfg, err := LoadEnv("", env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.SetOrigin("http://flag:3001/"); err != nil {
		t.Fatalf("SetOrigin: %v", err)
	}
	if cfg.Backend.Origin != "http://flag:3001" {
		t.Fatalf("origin: got %q", cfg.Backend.Origin)
	}
	if err := cfg.SetOrigin("nope"); !errors.Is(err, ErrInvalidOrigin) {
		t.Fatalf("want ErrInvalidOrigin, got %v", err)
	}
}

func TestBaseURLFromListen(t *testing.T) {
	cases := map[string]string{
		":3000":         "http://127.0.0.1:3000",
		"0.0.0.0:8080":  "http://127.0.0.1:8080",
		"10.1.2.3:9000": "http://10.1.2.3:9000",
		"[::]:3000":     "http://127.0.0.1:3000",
		"garbage":       "http://127.0.0.1:3000",
	}
	for in, want := range cases {
		if got := BaseURLFromListen(in); got != want {
			t.Errorf("%q: got %q, want %q", in, got, want)
		}
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := LoadEnv(filepath.Join("..", "..", "examples", "gateway.yaml"), env(nil))
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if cfg.Backend.Origin != "http://localhost:3001" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected example config: %+v", cfg)
	}
	if !cfg.RateLimit.Enabled() || cfg.Timeouts.Upstream != 15*time.Second {
		t.Fatalf("rate limit / timeouts not applied: %+v", cfg)
	}
}

func TestConfig_SetListen(t *testing.T) {
	cfg, err := LoadEnv("", env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.SetListen(":8080")
	if cfg.Listen != ":8080" || cfg.Probe.BaseURL != "http://127.0.0.1:8080" {
		t.Fatalf("derived base url not moved: %q %q", cfg.Listen, cfg.Probe.BaseURL)
	}

	fp := writeTmp(t, "probe: { base_url: \"https://console.example.com\" }\n")
	cfg, err = LoadEnv(fp, env(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.SetListen(":8080")
	if cfg.Probe.BaseURL != "https://console.example.com" {
		t.Fatalf("explicit base url overwritten: %q", cfg.Probe.BaseURL)
	}
}
