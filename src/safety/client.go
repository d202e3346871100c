package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

const invalidBodyMessage = "invalid response body"

// Request is a single check against one endpoint.
type Request struct {
	Kind Kind

	// Endpoint overrides the URL built from the client base URL and Kind.Path.
	Endpoint string

	// APIKey is sent as a bearer token. It is never logged.
	APIKey string

	// Payload is the JSON body sent to the endpoint.
	Payload map[string]any

	// Mode defaults to Kind.Mode when empty.
	Mode Mode

	// Threshold is used by the threshold modes and must be within [0, 1].
	Threshold float64

	// Text is returned unchanged on a Passed outcome.
	Text string
}

func (r Request) mode() Mode {
	if r.Mode == "" {
		return r.Kind.Mode
	}
	return r.Mode
}

// Response is the raw result of the POST.
type Response struct {
	StatusCode int
	// Body is nil when the response was not a JSON object.
	Body map[string]json.RawMessage
}

// Client performs checks. It keeps no per-call state and is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL replaces DefaultBaseURL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// NewClient creates a Client logging through logger.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		logger:     logger.With("area", "predictionguard"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Injection checks text for prompt injection.
func (c *Client) Injection(ctx context.Context, apiKey, text string, threshold float64) (Outcome, error) {
	return c.Check(ctx, Request{
		Kind:      KindInjection,
		APIKey:    apiKey,
		Threshold: threshold,
		Text:      text,
		Payload: map[string]any{
			"prompt": text,
			"detect": true,
		},
	})
}

// PII checks text for personally identifiable information, replacing it
// with method when replace is set.
func (c *Client) PII(ctx context.Context, apiKey, text string, replace bool, method string) (Outcome, error) {
	return c.Check(ctx, Request{
		Kind:   KindPII,
		APIKey: apiKey,
		Text:   text,
		Payload: map[string]any{
			"prompt":         text,
			"replace":        replace,
			"replace_method": method,
		},
	})
}

// Toxicity checks text for toxic content.
func (c *Client) Toxicity(ctx context.Context, apiKey, text string, threshold float64) (Outcome, error) {
	return c.Check(ctx, Request{
		Kind:      KindToxicity,
		APIKey:    apiKey,
		Threshold: threshold,
		Text:      text,
		Payload: map[string]any{
			"text": text,
		},
	})
}

// Check sends req and interprets the response. The returned error is always
// a *ConfigError; every other failure is reported through the Outcome.
func (c *Client) Check(ctx context.Context, req Request) (Outcome, error) {
	mode := req.mode()
	if err := validateRequest(req, mode); err != nil {
		return Outcome{}, err
	}
	body, err := json.Marshal(req.Payload)
	if err != nil {
		return Outcome{}, &ConfigError{Field: "payload", Reason: "cannot be encoded as JSON: " + err.Error()}
	}

	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = c.baseURL + req.Kind.Path
	}

	log := c.logger.With("check_id", uuid.NewString(), "kind", req.Kind.Name)
	log.Debug("sending check", "endpoint", endpoint, "mode", mode)

	resp, err := c.send(ctx, endpoint, req.APIKey, body)
	if err != nil {
		log.Warn("check request failed", "err", err)
		return unreachable(req.Kind, err), nil
	}

	outcome := interpret(req, mode, resp)
	log.Info("check complete", "status_code", resp.StatusCode, "outcome", outcome.Status)
	return outcome, nil
}

func validateRequest(req Request, mode Mode) error {
	if strings.TrimSpace(req.APIKey) == "" {
		return &ConfigError{Field: "api key", Reason: "is required"}
	}
	if !mode.valid() {
		return &ConfigError{Field: "mode", Reason: "unknown mode " + string(mode)}
	}
	if req.Payload == nil {
		return &ConfigError{Field: "payload", Reason: "is required"}
	}
	if mode.usesThreshold() {
		if math.IsNaN(req.Threshold) || req.Threshold < 0 || req.Threshold > 1 {
			return &ConfigError{Field: "threshold", Reason: "must be between 0.0 and 1.0"}
		}
		if req.Kind.ScoreField == "" {
			return &ConfigError{Field: "kind", Reason: "threshold mode needs a score field"}
		}
	}
	if mode == ModePIIReplaceOrReport {
		if method, ok := req.Payload["replace_method"].(string); ok && !ValidReplaceMethod(method) {
			return &ConfigError{Field: "replace_method", Reason: "must be one of category, fake, mask, random"}
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, endpoint, apiKey string, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "error creating request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "error calling Prediction Guard API")
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read response body (status code: %d)", httpResp.StatusCode)
	}

	resp := &Response{StatusCode: httpResp.StatusCode}
	var parsed map[string]json.RawMessage
	if json.Unmarshal(raw, &parsed) == nil {
		resp.Body = parsed
	}
	return resp, nil
}

func interpret(req Request, mode Mode, resp *Response) Outcome {
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return rateLimited(req.Kind)
	default:
		return failed(req.Kind, "Could not check "+req.Kind.Name+". "+upstreamMessage(resp.Body), resp.StatusCode)
	}

	check, ok := firstCheck(resp.Body)
	if !ok {
		return failed(req.Kind, invalidBodyMessage, resp.StatusCode)
	}

	if mode == ModePIIReplaceOrReport {
		return interpretPII(req.Kind, check, resp.StatusCode)
	}

	score, ok := numberField(check, req.Kind.ScoreField)
	if !ok {
		return failed(req.Kind, invalidBodyMessage, resp.StatusCode)
	}

	pass := score < req.Threshold
	if mode == ModeThresholdBlockInverted {
		pass = score >= req.Threshold
	}
	if pass {
		return passed(req.Kind, req.Text, resp.StatusCode, score)
	}
	return blocked(req.Kind, req.Kind.BlockReason, resp.StatusCode, score)
}

// interpretPII prefers the replaced prompt, which must be a JSON string, and
// falls back to the report, which must be present and non-null.
func interpretPII(kind Kind, check map[string]json.RawMessage, code int) Outcome {
	if raw, ok := check["new_prompt"]; ok {
		var prompt *string
		if err := json.Unmarshal(raw, &prompt); err != nil || prompt == nil {
			return failed(kind, invalidBodyMessage, code)
		}
		return modified(kind, *prompt, nil, code)
	}
	if raw, ok := check["types_and_positions"]; ok {
		if isNull(raw) {
			return failed(kind, invalidBodyMessage, code)
		}
		return modified(kind, rawText(raw), raw, code)
	}
	return failed(kind, invalidBodyMessage, code)
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// firstCheck returns checks[0] of a successful response body.
func firstCheck(body map[string]json.RawMessage) (map[string]json.RawMessage, bool) {
	raw, ok := body["checks"]
	if !ok {
		return nil, false
	}
	var checks []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &checks); err != nil || len(checks) == 0 || checks[0] == nil {
		return nil, false
	}
	return checks[0], true
}

func numberField(check map[string]json.RawMessage, field string) (float64, bool) {
	raw, ok := check[field]
	if !ok {
		return 0, false
	}
	var v *float64
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return 0, false
	}
	return *v, true
}

// rawText returns a JSON string value unquoted and any other value in its
// compact serialized form.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// upstreamMessage extracts the error field of an error body, or "".
func upstreamMessage(body map[string]json.RawMessage) string {
	var msg string
	if raw, ok := body["error"]; ok {
		_ = json.Unmarshal(raw, &msg)
	}
	return msg
}
