package safety

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeAPI records every request and replies with a fixed status and body.
type fakeAPI struct {
	status int
	body   string

	mu       sync.Mutex
	calls    int
	path     string
	auth     string
	ctype    string
	received map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var payload map[string]any
	_ = json.Unmarshal(raw, &payload)

	f.mu.Lock()
	f.calls++
	f.path = r.URL.Path
	f.auth = r.Header.Get("Authorization")
	f.ctype = r.Header.Get("Content-Type")
	f.received = payload
	f.mu.Unlock()

	w.WriteHeader(f.status)
	_, _ = io.WriteString(w, f.body)
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// snapshot returns a copy of the last recorded request.
func (f *fakeAPI) snapshot() fakeAPI {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeAPI{calls: f.calls, path: f.path, auth: f.auth, ctype: f.ctype, received: f.received}
}

func newTestClient(t *testing.T, status int, body string) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{status: status, body: body}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewClient(testLogger(), WithBaseURL(srv.URL), WithHTTPClient(srv.Client())), api
}

func TestCheck_thresholdScenarios(t *testing.T) {
	tests := []struct {
		name       string
		kind       Kind
		field      string
		score      float64
		threshold  float64
		wantStatus Status
		wantReason string
	}{
		{"toxic above threshold", KindToxicity, "score", 0.8, 0.5, StatusBlocked, "toxic output detected"},
		{"toxicity below threshold", KindToxicity, "score", 0.2, 0.5, StatusPassed, ""},
		{"toxicity equal to threshold", KindToxicity, "score", 0.5, 0.5, StatusBlocked, "toxic output detected"},
		{"injection above threshold", KindInjection, "probability", 0.9, 0.5, StatusBlocked, "prompt injection detected"},
		{"injection below threshold", KindInjection, "probability", 0.1, 0.5, StatusPassed, ""},
		{"zero threshold always blocks", KindInjection, "probability", 0.0, 0.0, StatusBlocked, "prompt injection detected"},
		{"threshold one passes anything below", KindToxicity, "score", 0.99, 1.0, StatusPassed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(map[string]any{
				"checks": []map[string]any{{tt.field: tt.score, "index": 0, "status": "success"}},
			})
			c, _ := newTestClient(t, http.StatusOK, string(body))

			var (
				out Outcome
				err error
			)
			if tt.kind.Name == KindToxicity.Name {
				out, err = c.Toxicity(context.Background(), "key", "some text", tt.threshold)
			} else {
				out, err = c.Injection(context.Background(), "key", "some text", tt.threshold)
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.score, out.Score)
			if tt.wantStatus == StatusPassed {
				assert.Equal(t, "some text", out.Text)
				assert.NoError(t, out.Err())
			} else {
				assert.Equal(t, tt.wantReason, out.Reason)
				var be *BlockedError
				assert.True(t, errors.As(out.Err(), &be))
			}
		})
	}
}

func TestCheck_requestShape(t *testing.T) {
	c, api := newTestClient(t, http.StatusOK, `{"checks":[{"probability":0.1}]}`)

	_, err := c.Injection(context.Background(), "secret-key", "hello", 0.5)
	require.NoError(t, err)

	got := api.snapshot()
	assert.Equal(t, "/injection", got.path)
	assert.Equal(t, "Bearer secret-key", got.auth)
	assert.Equal(t, "application/json", got.ctype)
	assert.Equal(t, map[string]any{"prompt": "hello", "detect": true}, got.received)
}

func TestCheck_piiRequestShape(t *testing.T) {
	c, api := newTestClient(t, http.StatusOK, `{"checks":[{"new_prompt":"x"}]}`)

	_, err := c.PII(context.Background(), "k", "call me at 555", true, ReplaceMask)
	require.NoError(t, err)

	got := api.snapshot()
	assert.Equal(t, "/PII", got.path)
	assert.Equal(t, map[string]any{
		"prompt":         "call me at 555",
		"replace":        true,
		"replace_method": "mask",
	}, got.received)
}

func TestCheck_toxicityRequestShape(t *testing.T) {
	c, api := newTestClient(t, http.StatusOK, `{"checks":[{"score":0.1}]}`)

	_, err := c.Toxicity(context.Background(), "k", "be nice", 0.5)
	require.NoError(t, err)

	got := api.snapshot()
	assert.Equal(t, "/toxicity", got.path)
	assert.Equal(t, map[string]any{"text": "be nice"}, got.received)
}

func TestCheck_piiNewPrompt(t *testing.T) {
	c, _ := newTestClient(t, http.StatusOK, `{"checks":[{"new_prompt":"Hello [NAME]"}]}`)

	out, err := c.PII(context.Background(), "k", "Hello Bob", true, ReplaceCategory)
	require.NoError(t, err)
	assert.Equal(t, StatusModified, out.Status)
	assert.Equal(t, "Hello [NAME]", out.Text)
	assert.Nil(t, out.Report)
}

func TestCheck_piiReport(t *testing.T) {
	t.Run("structured report", func(t *testing.T) {
		c, _ := newTestClient(t, http.StatusOK,
			`{"checks":[{"types_and_positions": [ {"type": "PERSON", "start": 6, "end": 9} ] }]}`)

		out, err := c.PII(context.Background(), "k", "Hello Bob", false, "")
		require.NoError(t, err)
		assert.Equal(t, StatusModified, out.Status)
		assert.Equal(t, `[{"type":"PERSON","start":6,"end":9}]`, out.Text)
		assert.JSONEq(t, `[{"type":"PERSON","start":6,"end":9}]`, string(out.Report))
	})

	t.Run("string report", func(t *testing.T) {
		c, _ := newTestClient(t, http.StatusOK,
			`{"checks":[{"types_and_positions":"[{\"PERSON\": [6, 9]}]"}]}`)

		out, err := c.PII(context.Background(), "k", "Hello Bob", false, "")
		require.NoError(t, err)
		assert.Equal(t, StatusModified, out.Status)
		assert.Equal(t, `[{"PERSON": [6, 9]}]`, out.Text)
	})

	t.Run("new_prompt wins over report", func(t *testing.T) {
		c, _ := newTestClient(t, http.StatusOK,
			`{"checks":[{"types_and_positions":"[]","new_prompt":"Hello [NAME]"}]}`)

		out, err := c.PII(context.Background(), "k", "Hello Bob", true, ReplaceCategory)
		require.NoError(t, err)
		assert.Equal(t, "Hello [NAME]", out.Text)
	})

	t.Run("neither key fails", func(t *testing.T) {
		c, _ := newTestClient(t, http.StatusOK, `{"checks":[{"status":"success"}]}`)

		out, err := c.PII(context.Background(), "k", "Hello Bob", true, ReplaceCategory)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, out.Status)
		assert.Equal(t, "invalid response body", out.Reason)
	})
}

func TestCheck_piiMalformedFields(t *testing.T) {
	bodies := map[string]string{
		"null new_prompt":            `{"checks":[{"new_prompt":null}]}`,
		"numeric new_prompt":         `{"checks":[{"new_prompt":42}]}`,
		"object new_prompt":          `{"checks":[{"new_prompt":{"text":"x"}}]}`,
		"null report":                `{"checks":[{"types_and_positions":null}]}`,
		"null new_prompt and report": `{"checks":[{"new_prompt":null,"types_and_positions":"[]"}]}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestClient(t, http.StatusOK, body)

			out, err := c.PII(context.Background(), "k", "Hello Bob", true, ReplaceCategory)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, out.Status)
			assert.Equal(t, "invalid response body", out.Reason)
			assert.False(t, out.Allowed())

			var ue *UpstreamError
			assert.True(t, errors.As(out.Err(), &ue))
		})
	}
}

func TestCheck_malformedSuccessNeverPasses(t *testing.T) {
	bodies := map[string]string{
		"not json":          `<html>oops</html>`,
		"no checks":         `{"id":"x"}`,
		"empty checks":      `{"checks":[]}`,
		"checks not array":  `{"checks":{"score":0.1}}`,
		"missing score":     `{"checks":[{"index":0}]}`,
		"null score":        `{"checks":[{"score":null}]}`,
		"string score":      `{"checks":[{"score":"0.1"}]}`,
		"null first check":  `{"checks":[null]}`,
		"empty body":        ``,
		"json array body":   `[{"score":0.1}]`,
		"wrong score field": `{"checks":[{"probability":0.1}]}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestClient(t, http.StatusOK, body)

			out, err := c.Toxicity(context.Background(), "k", "text", 0.5)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, out.Status)
			assert.Equal(t, "invalid response body", out.Reason)
			assert.False(t, out.Allowed())

			var ue *UpstreamError
			require.True(t, errors.As(out.Err(), &ue))
			assert.Equal(t, http.StatusOK, ue.StatusCode)
		})
	}
}

func TestCheck_rateLimitedForEveryKind(t *testing.T) {
	c, _ := newTestClient(t, http.StatusTooManyRequests, `{"error":"slow down"}`)
	ctx := context.Background()

	inj, err := c.Injection(ctx, "k", "t", 0.5)
	require.NoError(t, err)
	pii, err := c.PII(ctx, "k", "t", true, ReplaceFake)
	require.NoError(t, err)
	tox, err := c.Toxicity(ctx, "k", "t", 0.5)
	require.NoError(t, err)

	for _, out := range []Outcome{inj, pii, tox} {
		assert.Equal(t, StatusRateLimited, out.Status, out.Kind)
		assert.False(t, out.Allowed())
		var rl *RateLimitedError
		assert.True(t, errors.As(out.Err(), &rl), out.Kind)
	}
}

func TestCheck_upstreamErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(c *Client) (Outcome, error)
		wantMsg string
	}{
		{
			name:   "injection error field",
			status: http.StatusInternalServerError,
			body:   `{"error":"internal"}`,
			check: func(c *Client) (Outcome, error) {
				return c.Injection(context.Background(), "k", "t", 0.5)
			},
			wantMsg: "Could not check injection. internal",
		},
		{
			name:   "pii without json body",
			status: http.StatusBadGateway,
			body:   `bad gateway`,
			check: func(c *Client) (Outcome, error) {
				return c.PII(context.Background(), "k", "t", false, "")
			},
			wantMsg: "Could not check PII. ",
		},
		{
			name:   "toxicity with non-string error",
			status: http.StatusBadRequest,
			body:   `{"error":{"code":42}}`,
			check: func(c *Client) (Outcome, error) {
				return c.Toxicity(context.Background(), "k", "t", 0.5)
			},
			wantMsg: "Could not check toxicity. ",
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error":"api understands the request but refuses to authorize it"}`,
			check: func(c *Client) (Outcome, error) {
				return c.Toxicity(context.Background(), "k", "t", 0.5)
			},
			wantMsg: "Could not check toxicity. api understands the request but refuses to authorize it",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.status, tt.body)

			out, err := tt.check(c)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, out.Status)
			assert.Equal(t, tt.wantMsg, out.Reason)
			assert.Equal(t, tt.status, out.StatusCode)

			var ue *UpstreamError
			require.True(t, errors.As(out.Err(), &ue))
			assert.Equal(t, tt.wantMsg, ue.Error())
		})
	}
}

func TestCheck_transportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(testLogger(), WithBaseURL(url))
	out, err := c.Injection(context.Background(), "k", "t", 0.5)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "error calling Prediction Guard API")

	var te *TransportError
	assert.True(t, errors.As(out.Err(), &te))
}

func TestCheck_cancelledContext(t *testing.T) {
	c, api := newTestClient(t, http.StatusOK, `{"checks":[{"score":0.1}]}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := c.Toxicity(ctx, "k", "t", 0.5)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err(), context.Canceled)
	assert.Equal(t, 0, api.callCount())
}

func TestCheck_configErrorsSendNothing(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{
			name:  "empty api key",
			req:   Request{Kind: KindToxicity, Payload: map[string]any{"text": "t"}, Threshold: 0.5},
			field: "api key",
		},
		{
			name:  "blank api key",
			req:   Request{Kind: KindToxicity, APIKey: "   ", Payload: map[string]any{"text": "t"}, Threshold: 0.5},
			field: "api key",
		},
		{
			name:  "threshold above one",
			req:   Request{Kind: KindToxicity, APIKey: "k", Payload: map[string]any{"text": "t"}, Threshold: 1.5},
			field: "threshold",
		},
		{
			name:  "negative threshold",
			req:   Request{Kind: KindInjection, APIKey: "k", Payload: map[string]any{"prompt": "t"}, Threshold: -0.1},
			field: "threshold",
		},
		{
			name:  "unknown mode",
			req:   Request{Kind: KindInjection, APIKey: "k", Payload: map[string]any{"prompt": "t"}, Mode: "sometimes"},
			field: "mode",
		},
		{
			name:  "missing payload",
			req:   Request{Kind: KindInjection, APIKey: "k", Threshold: 0.5},
			field: "payload",
		},
		{
			name:  "bad replace method",
			req:   Request{Kind: KindPII, APIKey: "k", Payload: map[string]any{"prompt": "t", "replace": true, "replace_method": "shred"}},
			field: "replace_method",
		},
		{
			name:  "payload not encodable",
			req:   Request{Kind: KindToxicity, APIKey: "k", Payload: map[string]any{"text": make(chan int)}, Threshold: 0.5},
			field: "payload",
		},
		{
			name:  "threshold mode without score field",
			req:   Request{Kind: KindPII, Mode: ModeThresholdBlock, APIKey: "k", Payload: map[string]any{"prompt": "t"}, Threshold: 0.5},
			field: "kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, api := newTestClient(t, http.StatusOK, `{"checks":[{"score":0.1}]}`)

			_, err := c.Check(context.Background(), tt.req)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.field, ce.Field)
			assert.Equal(t, 0, api.callCount())
		})
	}
}

func TestCheck_invertedMode(t *testing.T) {
	c, _ := newTestClient(t, http.StatusOK, `{"checks":[{"score":0.3}]}`)
	req := Request{
		Kind:    KindToxicity,
		Mode:    ModeThresholdBlockInverted,
		APIKey:  "k",
		Payload: map[string]any{"text": "t"},
		Text:    "t",
	}

	req.Threshold = 0.2
	out, err := c.Check(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, out.Status)

	req.Threshold = 0.5
	out, err = c.Check(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, out.Status)
}

func TestCheck_endpointOverride(t *testing.T) {
	api := &fakeAPI{status: http.StatusOK, body: `{"checks":[{"score":0.1}]}`}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c := NewClient(testLogger())
	_, err := c.Check(context.Background(), Request{
		Kind:      KindToxicity,
		Endpoint:  srv.URL + "/v2/toxicity",
		APIKey:    "k",
		Payload:   map[string]any{"text": "t"},
		Threshold: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "/v2/toxicity", api.snapshot().path)
}

func TestCheck_concurrentCalls(t *testing.T) {
	c, api := newTestClient(t, http.StatusOK, `{"checks":[{"score":0.1}]}`)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			out, err := c.Toxicity(context.Background(), "k", "t", 0.5)
			assert.NoError(t, err)
			assert.Equal(t, StatusPassed, out.Status)
		}()
	}
	wg.Wait()
	assert.Equal(t, n, api.callCount())
}
