// Package rewrite computes the single same-origin rewrite rule that maps
// /api/proxy/* onto the configured backend origin.
package rewrite

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

const (
	// SourcePrefix is the fixed same-origin prefix handled by the gateway.
	SourcePrefix = "/api/proxy"
	// SentinelPath is a deliberately unrouted internal path. Requests that
	// land here always 404, so a missing backend origin is loud.
	SentinelPath = "/__backend_origin_not_configured__"

	pathParam = "/:path*"
)

// Mode selects what happens when no origin is supplied.
type Mode string

const (
	ModeFallback Mode = "fallback" // use the configured fallback origin
	ModeStrict   Mode = "strict"   // route to SentinelPath
)

// ParseMode accepts "" (fallback), "fallback" or "strict".
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFallback:
		return ModeFallback, nil
	case ModeStrict:
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("unknown rewrite mode %q", s)
	}
}

// Rule maps SourcePrefix to DestinationOrigin. When Sentinel is true,
// DestinationOrigin is empty and every match resolves to SentinelPath.
type Rule struct {
	SourcePrefix      string
	DestinationOrigin string
	Sentinel          bool
	// FromFallback records that the origin came from the fallback, not from
	// the operator-supplied value.
	FromFallback bool
}

// TrimTrailingSlashes strips every trailing '/'.
func TrimTrailingSlashes(s string) string {
	return strings.TrimRight(s, "/")
}

// Resolve computes the rule for an operator-supplied origin. A blank origin
// uses fallback in ModeFallback (when fallback itself is non-blank) and the
// sentinel otherwise.
func Resolve(origin, fallback string, mode Mode) Rule {
	r := Rule{SourcePrefix: SourcePrefix}
	if o := TrimTrailingSlashes(strings.TrimSpace(origin)); o != "" {
		r.DestinationOrigin = o
		return r
	}
	if mode != ModeStrict {
		if fb := TrimTrailingSlashes(strings.TrimSpace(fallback)); fb != "" {
			r.DestinationOrigin = fb
			r.FromFallback = true
			return r
		}
	}
	r.Sentinel = true
	return r
}

// SourceTemplate returns the rule source in path-parameter form.
func (r Rule) SourceTemplate() string {
	return r.SourcePrefix + pathParam
}

// DestinationTemplate returns "<origin>/:path*", or SentinelPath.
func (r Rule) DestinationTemplate() string {
	if r.Sentinel {
		return SentinelPath
	}
	return r.DestinationOrigin + pathParam
}

// Match reports whether path falls under the rule's prefix and returns the
// remainder (always starting with '/', or empty for the bare prefix).
//
//	"/api/proxy"        -> "", true
//	"/api/proxy/a/b"    -> "/a/b", true
//	"/api/proxyx"       -> "", false
func (r Rule) Match(path string) (string, bool) {
	if !strings.HasPrefix(path, r.SourcePrefix) {
		return "", false
	}
	rest := path[len(r.SourcePrefix):]
	if rest == "" || rest[0] == '/' {
		return rest, true
	}
	return "", false
}

// Target builds the backend URL for a matched remainder. rest is in escaped
// form (as from url.URL.EscapedPath) and, like the raw query, is carried
// over byte for byte, so "%2F" stays inside its segment.
func (r Rule) Target(rest, rawQuery string) (*url.URL, error) {
	if r.Sentinel {
		return &url.URL{Path: SentinelPath}, nil
	}
	base, err := url.Parse(r.DestinationOrigin)
	if err != nil {
		return nil, fmt.Errorf("parse destination origin: %w", err)
	}
	raw := joinSlash(base.EscapedPath(), rest)
	path, err := url.PathUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("unescape path %q: %w", rest, err)
	}
	u := new(url.URL)
	*u = *base
	u.Path = path
	u.RawPath = raw
	u.RawQuery = rawQuery
	u.Fragment = ""
	return u, nil
}

// LogValue implements slog.LogValuer.
func (r Rule) LogValue() slog.Value {
	origin := r.DestinationOrigin
	if r.Sentinel {
		origin = "(not set, using sentinel)"
	} else if r.FromFallback {
		origin += " (fallback)"
	}
	return slog.GroupValue(
		slog.String("backend_origin", origin),
		slog.String("rewrite_from", r.SourceTemplate()),
		slog.String("rewrite_to", r.DestinationTemplate()),
	)
}

func joinSlash(a, b string) string {
	if b == "" {
		if a == "" {
			return "/"
		}
		return a
	}
	as := strings.HasSuffix(a, "/")
	bs := strings.HasPrefix(b, "/")
	switch {
	case as && bs:
		return a + b[1:]
	case !as && !bs:
		return a + "/" + b
	default:
		return a + b
	}
}
