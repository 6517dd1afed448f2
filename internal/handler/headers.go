package handler

import (
	"net"
	"net/http"
	"net/textproto"
	"strings"
)

// hopByHop lists the connection-scoped headers never passed to the backend
// or back to the browser.
var hopByHop = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// forwardHeaders builds the header set sent to the backend: a copy of the
// browser's headers minus hop-by-hop fields, plus the X-Forwarded-* family,
// the stripped prefix and the request ID shared with the access log.
func forwardHeaders(r *http.Request, prefix, reqID string) http.Header {
	h := r.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	dropHopByHop(h)

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && ip != "" {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		h.Set("X-Forwarded-For", ip)
	}
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	h.Set("X-Forwarded-Proto", proto)
	h.Set("X-Forwarded-Host", r.Host)
	h.Set("X-Forwarded-Prefix", prefix)
	h.Set(headerRequestID, reqID)
	return h
}

// copyResponseHeaders replaces dst's values with the backend's, skipping
// hop-by-hop fields.
func copyResponseHeaders(dst, src http.Header) {
	dropHopByHop(src)
	for k, vv := range src {
		dst[k] = append([]string(nil), vv...)
	}
}

// dropHopByHop removes hop-by-hop headers and any named in Connection.
// "TE: trailers" survives so gRPC-style trailers still work.
func dropHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, k := range strings.Split(f, ",") {
			if k = textproto.TrimString(k); k != "" {
				h.Del(k)
			}
		}
	}
	for _, k := range hopByHop {
		if k == "TE" && h.Get("TE") == "trailers" {
			continue
		}
		h.Del(k)
	}
}
