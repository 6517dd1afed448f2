// Package transport builds the round trippers used to reach the backend.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"
)

// Well-known transport names.
const (
	Backend = "backend" // gateway -> backend origin, ALPN h2 when offered
	Probe   = "probe"   // diagnostic probe -> same-origin gateway, HTTP/1.1
)

// Options tunes the default transports.
type Options struct {
	DialTimeout   time.Duration
	DialKeepAlive time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	ResponseHeaderTimeout time.Duration // 0 disables

	InsecureSkipVerify bool
	RootCAs            *x509.CertPool
}

func DefaultOptions() Options {
	return Options{
		DialTimeout:           5 * time.Second,
		DialKeepAlive:         60 * time.Second,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// LoadRootCAs reads a PEM bundle for backends behind a private CA.
func LoadRootCAs(path string) (*x509.CertPool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(b) {
		return nil, fmt.Errorf("ca file %s: no certificates found", path)
	}
	return pool, nil
}

// Factory returns a RoundTripper by name.
type Factory interface {
	Get(name string) http.RoundTripper
	Register(name string, rt http.RoundTripper)
	CloseIdle()
}

// Registry is a threadsafe map of named RoundTrippers.
type Registry struct {
	mu    sync.RWMutex
	store map[string]http.RoundTripper
}

var _ Factory = (*Registry)(nil)

func NewDefaultRegistry() *Registry { return NewRegistry(DefaultOptions()) }

// NewRegistry pre-registers Backend and Probe built from opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{store: map[string]http.RoundTripper{
		Backend: build(opts, true),
		Probe:   build(opts, false),
	}}
}

// Get returns the named transport, falling back to Backend.
func (r *Registry) Get(name string) http.RoundTripper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.store[name]; ok && rt != nil {
		return rt
	}
	return r.store[Backend]
}

func (r *Registry) Register(name string, rt http.RoundTripper) {
	if name == "" || rt == nil {
		return
	}
	r.mu.Lock()
	r.store[name] = rt
	r.mu.Unlock()
}

// CloseIdle calls CloseIdleConnections on every *http.Transport.
func (r *Registry) CloseIdle() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.store {
		if t, ok := rt.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}

func build(opts Options, h2 bool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: opts.DialKeepAlive,
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify, RootCAs: opts.RootCAs}
	if !h2 {
		tlsCfg.NextProtos = []string{"http/1.1"}
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     h2,
		TLSClientConfig:       tlsCfg,
		MaxIdleConns:          opts.MaxIdleConns,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       opts.IdleConnTimeout,
		TLSHandshakeTimeout:   opts.TLSHandshakeTimeout,
		ExpectContinueTimeout: opts.ExpectContinueTimeout,
	}
	if opts.ResponseHeaderTimeout > 0 {
		tr.ResponseHeaderTimeout = opts.ResponseHeaderTimeout
	}
	return tr
}
