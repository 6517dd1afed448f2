package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fabian4/console-proxy-gateway/internal/metrics"
	"github.com/fabian4/console-proxy-gateway/internal/rewrite"
)

func TestMux_Routes(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("backend:" + r.URL.Path))
	}))
	defer up.Close()

	gw := NewGateway(Options{Rule: rewrite.Resolve(up.URL, "", rewrite.ModeStrict), Logger: quietLogger()})
	probe := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("probe")) })
	mux := NewMux(gw, metrics.NewRegistry().Handler(), probe)

	cases := []struct {
		path string
		code int
		body string
	}{
		{PathHealth, 200, "ok\n"},
		{PathProxyProbe, 200, "probe"},
		{"/api/proxy/registry", 200, "backend:/registry"},
		{"/tokens", 404, ""},
	}
	for _, c := range cases {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest("GET", c.path, nil))
		if rr.Code != c.code {
			t.Errorf("%s: status %d, want %d", c.path, rr.Code, c.code)
		}
		if c.body != "" && rr.Body.String() != c.body {
			t.Errorf("%s: body %q, want %q", c.path, rr.Body.String(), c.body)
		}
	}

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", PathMetrics, nil))
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Errorf("metrics endpoint missing runtime collectors")
	}
}

func TestMux_HealthWithSentinel(t *testing.T) {
	gw := NewGateway(Options{Rule: rewrite.Resolve("", "", rewrite.ModeStrict), Logger: quietLogger()})
	mux := NewMux(gw, nil, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", PathHealth, nil))
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), "not configured") {
		t.Fatalf("health: %d %q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", PathMetrics, nil))
	if rr.Code != 404 {
		t.Fatalf("metrics should be absent, got %d", rr.Code)
	}
}
