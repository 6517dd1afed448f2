// Package probe issues one diagnostic request through the gateway and
// classifies the response as backend JSON, backend error, or an HTML error
// page produced somewhere other than the backend.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/fabian4/console-proxy-gateway/internal/api"
	"github.com/fabian4/console-proxy-gateway/internal/rewrite"
)

// Classification labels, also used as the metrics label.
const (
	ClassBackendJSON  = "backend_json"
	ClassBackendError = "backend_error"
	ClassHTMLError    = "html_error"
	ClassNetworkError = "network_error"
	ClassInvalidInput = "invalid_input"
	ClassUnknown      = "unclassified"
)

// maxBody caps how much of a response is read before sampling.
const maxBody = 1 << 20

const targetNotSet = "(backend URL not set)"

var ErrInvalidInput = errors.New("invalid probe input")

// Input is what the operator types into the probe form.
type Input struct {
	TenantID string `json:"tenant_id"`
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Label    string `json:"label,omitempty"`
}

func (in Input) Validate() error {
	var missing []string
	if strings.TrimSpace(in.TenantID) == "" {
		missing = append(missing, "tenant_id")
	}
	if strings.TrimSpace(in.Provider) == "" {
		missing = append(missing, "provider")
	}
	if strings.TrimSpace(in.APIKey) == "" {
		missing = append(missing, "api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

// Result is built fresh for each run and never persisted.
type Result struct {
	RequestID      string                  `json:"request_id"`
	RequestURL     string                  `json:"request_url"`
	TargetURL      string                  `json:"target_url"`
	HTTPStatus     *int                    `json:"http_status"`
	OK             bool                    `json:"ok"`
	ContentType    *string                 `json:"content_type"`
	IsJSON         bool                    `json:"is_json"`
	IsHTMLError    bool                    `json:"is_html_error"`
	ParsedBody     any                     `json:"parsed_body"`
	RawSample      *string                 `json:"raw_sample"`
	Auth           *api.APIKeyAuthResponse `json:"auth,omitempty"`
	Classification string                  `json:"classification"`
	Notes          []string                `json:"diagnostic_notes"`
	Error          *string                 `json:"error"`
}

// Healthy reports whether the run reached the backend and got valid JSON.
func (r *Result) Healthy() bool {
	return r.Classification == ClassBackendJSON
}

// Err summarizes an unhealthy result as an error, nil when healthy.
func (r *Result) Err() error {
	if r.Healthy() {
		return nil
	}
	if r.Error != nil {
		return fmt.Errorf("%s: %s", r.Classification, *r.Error)
	}
	return errors.New(r.Classification)
}

func (r *Result) note(s string) { r.Notes = append(r.Notes, s) }

// Recorder receives one classification per run.
type Recorder interface {
	IncProbe(classification string)
}

type Options struct {
	// BaseURL is the same-origin gateway address, e.g. http://localhost:3000.
	BaseURL string
	// Rule is the gateway's rewrite rule, used only to display the target.
	Rule        rewrite.Rule
	Client      *http.Client
	Classifier  Classifier
	SampleLimit int
	Logger      *slog.Logger
	Recorder    Recorder
}

type Probe struct {
	opts Options
}

func New(opts Options) *Probe {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = DefaultSampleLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Classifier.DocumentMarkers == nil && opts.Classifier.ErrorPhrases == nil {
		opts.Classifier = DefaultClassifier()
	}
	if opts.Rule.SourcePrefix == "" {
		opts.Rule.SourcePrefix = rewrite.SourcePrefix
	}
	return &Probe{opts: opts}
}

// originConfigured is false when the operator supplied no origin, even
// if the gateway is running on its fallback.
func (p *Probe) originConfigured() bool {
	return !p.opts.Rule.Sentinel && !p.opts.Rule.FromFallback
}

// Run performs a single probe. It never returns nil and never panics on
// transport or decoding failures; everything lands in the Result.
func (p *Probe) Run(ctx context.Context, in Input) *Result {
	res := &Result{
		RequestID:  uuid.NewString(),
		RequestURL: p.requestURL(),
		TargetURL:  p.targetURL(),
		Notes:      []string{},
	}
	defer func() {
		if p.opts.Recorder != nil {
			p.opts.Recorder.IncProbe(res.Classification)
		}
	}()

	if err := in.Validate(); err != nil {
		res.Classification = ClassInvalidInput
		res.Error = strPtr(err.Error())
		res.note("Fill in tenant, provider and API key before running the probe.")
		return res
	}

	p.opts.Logger.Info("proxy probe",
		"request_id", res.RequestID,
		"request_url", res.RequestURL,
		"target_url", res.TargetURL,
		"rule", p.opts.Rule,
	)

	body := api.APIKeyAuthRequest{TenantID: in.TenantID, Provider: in.Provider, APIKey: in.APIKey}
	if in.Label != "" {
		body.Label = &in.Label
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return p.networkFailure(res, fmt.Errorf("encode payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, res.RequestURL, bytes.NewReader(payload))
	if err != nil {
		return p.networkFailure(res, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", res.RequestID)

	resp, err := p.opts.Client.Do(req)
	if err != nil {
		return p.networkFailure(res, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			p.opts.Logger.Debug("close probe response", "error", err)
		}
	}()

	status := resp.StatusCode
	res.HTTPStatus = &status
	res.OK = status >= 200 && status < 300
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		res.ContentType = &ct
		res.IsJSON = strings.Contains(strings.ToLower(ct), "application/json")
	}

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if readErr != nil {
		res.note(fmt.Sprintf("Response body was cut short: %v", readErr))
	}

	parsed := false
	if res.IsJSON {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			res.note("Response advertised JSON but failed to parse.")
		} else {
			res.ParsedBody = v
			parsed = true
		}
	}
	sample := ""
	if !parsed {
		sample = Sample(string(raw), p.opts.SampleLimit)
		res.RawSample = &sample
	}

	res.IsHTMLError = p.opts.Classifier.IsHTMLError(sample, res.IsJSON)
	switch {
	case res.IsHTMLError:
		res.Classification = ClassHTMLError
		res.note("Response appears to be HTML (framework or gateway error/404) instead of backend JSON; the proxy is likely misconfigured or the backend is unreachable.")
		if p.originConfigured() {
			res.note("Verify that the /api/proxy rewrite is active and that the backend is reachable at the configured URL.")
		} else {
			res.note(p.unsetHint())
		}
	case !res.OK:
		res.Classification = ClassBackendError
		res.note(fmt.Sprintf("Non-OK HTTP status %d from proxy call. Check backend logs and the proxy rewrite configuration.", status))
	case parsed:
		res.Classification = ClassBackendJSON
		res.note("Valid JSON detected from backend.")
		if d := api.DecodeValue[api.APIKeyAuthResponse](res.ParsedBody); d.Ok {
			res.Auth = &d.Value
		} else {
			res.note(fmt.Sprintf("JSON does not match the api-key auth response shape: %v", d.Err))
		}
	default:
		res.Classification = ClassUnknown
		res.note("2xx response without a JSON content-type; the backend may not be answering this path.")
	}
	return res
}

func (p *Probe) networkFailure(res *Result, err error) *Result {
	res.Classification = ClassNetworkError
	res.Error = strPtr(err.Error())
	if p.originConfigured() {
		res.note("Request failed before a response arrived. Backend may be down or the URL unreachable.")
	} else {
		res.note(p.unsetHint())
	}
	p.opts.Logger.Warn("proxy probe failed", "request_id", res.RequestID, "error", err)
	return res
}

func (p *Probe) unsetHint() string {
	hint := "BACKEND_URL is not set. Set it to your backend base URL (e.g., http://localhost:3001) and restart the gateway."
	if p.opts.Rule.FromFallback {
		hint += fmt.Sprintf(" The gateway is currently using the fallback origin %s.", p.opts.Rule.DestinationOrigin)
	}
	return hint
}

func (p *Probe) requestURL() string {
	base := strings.TrimSpace(p.opts.BaseURL)
	if base == "" {
		base = "http://localhost:3000"
	}
	path := p.opts.Rule.SourcePrefix + api.PathAPIKeyAuth
	u, err := url.Parse(base)
	if err != nil {
		return rewrite.TrimTrailingSlashes(base) + path
	}
	return u.ResolveReference(&url.URL{Path: path}).String()
}

func (p *Probe) targetURL() string {
	if p.opts.Rule.Sentinel {
		return targetNotSet
	}
	u, err := p.opts.Rule.Target(api.PathAPIKeyAuth, "")
	if err != nil {
		return targetNotSet
	}
	return u.String()
}

func strPtr(s string) *string { return &s }
