// Command proxyprobe sends one diagnostic POST through a running gateway and
// reports whether the answer came from the backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/pflag"

	cfg "github.com/fabian4/console-proxy-gateway/internal/config"
	"github.com/fabian4/console-proxy-gateway/internal/probe"
	"github.com/fabian4/console-proxy-gateway/internal/rewrite"
	"github.com/fabian4/console-proxy-gateway/internal/transport"
)

func main() {
	os.Exit(run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

// run returns 0 for any completed probe, healthy or not; 2 for usage errors.
func run(args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("proxyprobe", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	baseURL := flags.String("base-url", "http://localhost:3000", "same-origin gateway URL")
	backendURL := flags.String("backend-url", "", "backend origin, for display only (default $"+cfg.EnvBackendURL+")")
	tenant := flags.String("tenant", "tenant_test", "tenant id")
	provider := flags.String("provider", "jira", "provider id")
	apiKey := flags.String("api-key", "dummy-key", "API key sent to the backend")
	label := flags.String("label", "diagnostic", "optional connector label")
	timeout := flags.Duration("timeout", 0, "request timeout (0 = none)")
	asJSON := flags.Bool("json", false, "print the result as JSON")
	verbose := flags.BoolP("verbose", "v", false, "log the outgoing request")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	origin := *backendURL
	if origin == "" {
		origin = getenv(cfg.EnvBackendURL)
		if origin == "" {
			origin = getenv(cfg.EnvLegacyBackendURL)
		}
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	p := probe.New(probe.Options{
		BaseURL: *baseURL,
		Rule:    rewrite.Resolve(origin, "", rewrite.ModeStrict),
		Client:  &http.Client{Transport: transport.NewDefaultRegistry().Get(transport.Probe), Timeout: *timeout},
		Logger:  logger,
	})
	res := p.Run(context.Background(), probe.Input{
		TenantID: *tenant,
		Provider: *provider,
		APIKey:   *apiKey,
		Label:    *label,
	})

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(stderr, "encode result: %v\n", err)
		}
		return 0
	}
	render(stdout, res)
	return 0
}

func render(w io.Writer, r *probe.Result) {
	line := func(k, v string) { fmt.Fprintf(w, "%-20s %s\n", k+":", v) }
	line("Request URL", r.RequestURL)
	line("Target URL", r.TargetURL)
	line("Status", orNA(r.HTTPStatus))
	line("OK", fmt.Sprint(r.OK))
	line("Content-Type", orNA(r.ContentType))
	line("JSON", fmt.Sprint(r.IsJSON))
	line("HTML error", fmt.Sprint(r.IsHTMLError))
	line("Classification", r.Classification)
	if r.Error != nil {
		line("Error", *r.Error)
	}
	if len(r.Notes) > 0 {
		fmt.Fprintln(w, "Notes:")
		for _, n := range r.Notes {
			fmt.Fprintf(w, "  - %s\n", n)
		}
	}
	switch {
	case r.ParsedBody != nil:
		b, _ := json.MarshalIndent(r.ParsedBody, "", "  ")
		fmt.Fprintf(w, "Parsed JSON:\n%s\n", b)
	case r.RawSample != nil && *r.RawSample != "":
		fmt.Fprintf(w, "Response text sample:\n%s\n", strings.TrimRight(*r.RawSample, "\n"))
	}
}

func orNA[T any](v *T) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprint(*v)
}
