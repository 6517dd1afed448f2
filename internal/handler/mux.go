package handler

import (
	"net/http"
)

// Paths served next to the proxy prefix.
const (
	PathHealth     = "/healthz"
	PathMetrics    = "/metrics"
	PathProxyProbe = "/api/diagnostics/proxy-test"
)

// NewMux mounts the gateway at "/" plus health, metrics and the probe
// endpoint. Nil handlers are skipped.
func NewMux(gw *Gateway, metricsHandler, probeHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(PathHealth, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if gw.Rule().Sentinel {
			// still serving, but every proxied call will 404
			_, _ = w.Write([]byte("ok (backend origin not configured)\n"))
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	if metricsHandler != nil {
		mux.Handle(PathMetrics, metricsHandler)
	}
	if probeHandler != nil {
		mux.Handle(PathProxyProbe, probeHandler)
	}
	mux.Handle("/", gw)
	return mux
}
