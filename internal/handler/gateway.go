package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fabian4/console-proxy-gateway/internal/config"
	"github.com/fabian4/console-proxy-gateway/internal/metrics"
	"github.com/fabian4/console-proxy-gateway/internal/ratelimit"
	"github.com/fabian4/console-proxy-gateway/internal/rewrite"
	"github.com/fabian4/console-proxy-gateway/internal/transport"
)

// Route labels used in access logs and metrics.
const (
	routeProxy    = "proxy"
	routeSentinel = "sentinel"
	routeNone     = "none"
)

const headerRequestID = "X-Request-Id"

// Options wires a Gateway. Zero values are usable: no metrics, no rate
// limit, access log discarded, slog.Default for diagnostics. With an
// AccessLog writer and a zero AccessLogConfig every request is logged.
type Options struct {
	Rule            rewrite.Rule
	Transports      transport.Factory
	UpstreamTimeout time.Duration
	AccessLog       io.Writer
	AccessLogConfig config.AccessLogConfig
	Metrics         *metrics.Registry
	Limiter         *ratelimit.Limiter
	Logger          *slog.Logger
	// NotFound handles paths outside the rewrite prefix.
	NotFound http.Handler
}

// Gateway forwards /api/proxy/* to the rule's backend origin.
type Gateway struct {
	opts Options
}

var _ http.Handler = (*Gateway)(nil)

func NewGateway(opts Options) *Gateway {
	if opts.Transports == nil {
		opts.Transports = transport.NewDefaultRegistry()
	}
	if opts.AccessLog == nil {
		opts.AccessLog = io.Discard
		opts.AccessLogConfig.Disabled = true
	}
	if opts.AccessLogConfig.Sampling <= 0 {
		opts.AccessLogConfig.Sampling = 1.0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NotFound == nil {
		opts.NotFound = http.NotFoundHandler()
	}
	if opts.Rule.SourcePrefix == "" {
		opts.Rule.SourcePrefix = rewrite.SourcePrefix
	}
	return &Gateway{opts: opts}
}

// Rule returns the rewrite rule the gateway was built with.
func (g *Gateway) Rule() rewrite.Rule { return g.opts.Rule }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lw := &loggingResponseWriter{ResponseWriter: w}
	routeName, upstreamAddr := routeNone, ""
	reqID := r.Header.Get(headerRequestID)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	defer func() {
		status := lw.statusCode
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		g.writeAccessLog(AccessLog{
			Time:         start,
			RequestID:    reqID,
			Method:       r.Method,
			Path:         r.URL.Path,
			Protocol:     r.Proto,
			Status:       status,
			Duration:     duration.Milliseconds(),
			RemoteIP:     r.RemoteAddr,
			UserAgent:    r.UserAgent(),
			Referer:      r.Referer(),
			Route:        routeName,
			Upstream:     upstreamAddr,
			BytesWritten: lw.bytes,
		})
		if g.opts.Metrics != nil {
			g.opts.Metrics.IncRequest(routeName, r.Method, strconv.Itoa(status))
			if upstreamAddr != "" {
				g.opts.Metrics.ObserveLatency(routeName, duration)
			}
		}
	}()

	rule := g.opts.Rule
	rest, ok := rule.Match(r.URL.EscapedPath())
	if !ok {
		g.opts.NotFound.ServeHTTP(lw, r)
		return
	}
	routeName = routeProxy
	if rule.Sentinel {
		routeName = routeSentinel
		http.Error(lw, "backend origin not configured: "+rewrite.SentinelPath, http.StatusNotFound)
		return
	}

	if g.opts.Limiter != nil && !g.opts.Limiter.Allow(ratelimit.ClientKey(r)) {
		if g.opts.Metrics != nil {
			g.opts.Metrics.IncRateLimited(routeName)
		}
		lw.Header().Set("Retry-After", "1")
		http.Error(lw, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	u, err := rule.Target(rest, r.URL.RawQuery)
	if err != nil {
		g.opts.Logger.Error("build upstream url", "error", err, "request_id", reqID)
		http.Error(lw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	upstreamAddr = u.String()

	hdr := forwardHeaders(r, rule.SourcePrefix, reqID)

	ctx := r.Context()
	if g.opts.UpstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.UpstreamTimeout)
		defer cancel()
	}

	reqUp, err := http.NewRequestWithContext(ctx, r.Method, upstreamAddr, r.Body)
	if err != nil {
		http.Error(lw, "bad request", http.StatusBadRequest)
		return
	}
	reqUp.Header = hdr
	reqUp.ContentLength = r.ContentLength
	reqUp.Host = u.Host

	resUp, err := g.opts.Transports.Get(transport.Backend).RoundTrip(reqUp)
	if err != nil {
		g.opts.Logger.Warn("upstream error", "error", err, "upstream", upstreamAddr, "request_id", reqID)
		http.Error(lw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			g.opts.Logger.Debug("close upstream body", "error", err)
		}
	}(resUp.Body)

	copyResponseHeaders(lw.Header(), resUp.Header)
	lw.Header().Set(headerRequestID, reqID)

	if len(resUp.Trailer) > 0 {
		trailerKeys := make([]string, 0, len(resUp.Trailer))
		for k := range resUp.Trailer {
			trailerKeys = append(trailerKeys, k)
		}
		lw.Header().Set("Trailer", strings.Join(trailerKeys, ","))
	}

	lw.WriteHeader(resUp.StatusCode)
	lw.Flush()
	_, _ = io.Copy(lw, resUp.Body)

	for k, vv := range resUp.Trailer {
		for _, v := range vv {
			lw.Header().Add(k, v)
		}
	}
}

// AccessLog is one JSON line per request.
type AccessLog struct {
	Time         time.Time `json:"time"`
	RequestID    string    `json:"request_id"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	Protocol     string    `json:"protocol"`
	Status       int       `json:"status"`
	Duration     int64     `json:"duration_ms"`
	RemoteIP     string    `json:"remote_ip"`
	UserAgent    string    `json:"user_agent"`
	Referer      string    `json:"referer"`
	Route        string    `json:"route"`
	Upstream     string    `json:"upstream,omitempty"`
	BytesWritten int64     `json:"bytes_written"`
}

// fields maps json names to accessors for filtered access logs.
func (e AccessLog) fields() map[string]any {
	return map[string]any{
		"time":          e.Time,
		"request_id":    e.RequestID,
		"method":        e.Method,
		"path":          e.Path,
		"protocol":      e.Protocol,
		"status":        e.Status,
		"duration_ms":   e.Duration,
		"remote_ip":     e.RemoteIP,
		"user_agent":    e.UserAgent,
		"referer":       e.Referer,
		"route":         e.Route,
		"upstream":      e.Upstream,
		"bytes_written": e.BytesWritten,
	}
}

func (g *Gateway) writeAccessLog(entry AccessLog) {
	alc := g.opts.AccessLogConfig
	if alc.Disabled || (alc.Sampling < 1.0 && rand.Float64() >= alc.Sampling) {
		return
	}
	var out any = entry
	if len(alc.Fields) > 0 {
		all := entry.fields()
		m := make(map[string]any, len(alc.Fields))
		for _, f := range alc.Fields {
			if v, ok := all[f]; ok {
				m[f] = v
			}
		}
		out = m
	}
	if err := json.NewEncoder(g.opts.AccessLog).Encode(out); err != nil {
		g.opts.Logger.Error("access log", "error", err)
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
