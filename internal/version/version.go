// Package version carries the build version, set with
// -ldflags "-X github.com/fabian4/console-proxy-gateway/internal/version.Value=v1.2.3".
package version

// Value is "dev" for local builds.
var Value = "dev"
