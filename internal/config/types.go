package config

import (
	"log/slog"
	"time"

	"github.com/fabian4/console-proxy-gateway/internal/probe"
	"github.com/fabian4/console-proxy-gateway/internal/ratelimit"
	"github.com/fabian4/console-proxy-gateway/internal/rewrite"
)

type Config struct {
	Listen    string
	Backend   Backend
	Timeouts  Timeouts
	RateLimit ratelimit.Config
	AccessLog AccessLogConfig
	Probe     ProbeConfig
	Log       LogConfig
}

// Backend is the origin the /api/proxy rewrite forwards to.
type Backend struct {
	Origin   string // operator-supplied; may be empty
	Fallback string // used in fallback mode when Origin is empty
	Mode     rewrite.Mode
	TLS      UpstreamTLS
}

// Rule resolves the rewrite rule for this backend.
func (b Backend) Rule() rewrite.Rule {
	return rewrite.Resolve(b.Origin, b.Fallback, b.Mode)
}

type UpstreamTLS struct {
	InsecureSkipVerify bool
	CAFile             string
}

type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Upstream time.Duration
}

type AccessLogConfig struct {
	// Sampling is the kept fraction of requests; values <= 0 mean every
	// request. Use Disabled to turn the log off.
	Sampling float64
	Fields   []string
	Disabled bool
}

type ProbeConfig struct {
	// BaseURL is the same-origin address the probe calls; derived from
	// Listen when empty.
	BaseURL     string
	SampleLimit int
	Timeout     time.Duration // 0 = client default (none)
	Classifier  probe.Classifier

	// derived marks BaseURL as computed from Listen, so SetListen may
	// recompute it.
	derived bool
}

type LogConfig struct {
	Level  slog.Level
	Format string // "json" | "text"
}
