// Package gateway exposes the Prediction Guard checks as MCP tools and
// translates check outcomes into tool results.
package gateway

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Easy-Infra-Ltd/easy-predictionguard/src/config"
	"github.com/Easy-Infra-Ltd/easy-predictionguard/src/safety"
	"github.com/Easy-Infra-Ltd/easy-predictionguard/src/sanitizer"
	"github.com/Easy-Infra-Ltd/easy-predictionguard/src/transport"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ToolCheckInjection = "check_injection"
	ToolCheckPII       = "check_pii"
	ToolCheckToxicity  = "check_toxicity"
	ToolGuardText      = "guard_text"
)

type guardInput struct {
	Text string `json:"text" jsonschema:"the text to check"`
}

type thresholdInput struct {
	Text      string   `json:"text" jsonschema:"the text to check"`
	Threshold *float64 `json:"threshold,omitempty" jsonschema:"score from 0 to 1 at or above which the text is blocked; defaults to the configured threshold"`
}

type piiInput struct {
	Text          string `json:"text" jsonschema:"the text to check"`
	Replace       *bool  `json:"replace,omitempty" jsonschema:"replace detected PII instead of reporting it"`
	ReplaceMethod string `json:"replace_method,omitempty" jsonschema:"how PII is replaced: category, fake, mask or random"`
}

// Registry registers one tool per enabled check, plus guard_text which runs
// them all, on the upstream server.
type Registry struct {
	upstream *transport.Upstream
	client   *safety.Client
	apiKey   string
	checks   config.ChecksConfig
	logger   *slog.Logger
}

func NewRegistry(
	upstream *transport.Upstream,
	client *safety.Client,
	apiKey string,
	checks config.ChecksConfig,
	logger *slog.Logger,
) *Registry {
	return &Registry{
		upstream: upstream,
		client:   client,
		apiKey:   apiKey,
		checks:   checks,
		logger:   logger.With("area", "registry"),
	}
}

// Register adds the tools and returns how many were registered.
func (r *Registry) Register() int {
	count := 0
	srv := r.upstream.Server

	if r.checks.PII.On() {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        ToolCheckPII,
			Description: "Detect personally identifiable information. Returns the text with PII replaced, or a report of PII types and positions when replacement is off.",
		}, r.checkPII)
		count++
	}

	if r.checks.Injection.On() {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        ToolCheckInjection,
			Description: "Detect prompt injection. Returns the text unchanged when the injection probability is below the threshold, an error otherwise.",
		}, r.checkInjection)
		count++
	}

	if r.checks.Toxicity.On() {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        ToolCheckToxicity,
			Description: "Detect toxic content. Returns the text unchanged when the toxicity score is below the threshold, an error otherwise.",
		}, r.checkToxicity)
		count++
	}

	if count > 0 {
		pipeline := r.pipeline()
		mcp.AddTool(srv, &mcp.Tool{
			Name:        ToolGuardText,
			Description: "Run every enabled check in order (PII, injection, toxicity) and return the text that is safe to use.",
		}, func(ctx context.Context, _ *mcp.CallToolRequest, in guardInput) (*mcp.CallToolResult, any, error) {
			return r.guard(ctx, pipeline, in.Text), nil, nil
		})
		count++
	}

	return count
}

func (r *Registry) checkInjection(ctx context.Context, _ *mcp.CallToolRequest, in thresholdInput) (*mcp.CallToolResult, any, error) {
	out, err := r.client.Injection(ctx, r.apiKey, in.Text, thresholdOr(in.Threshold, r.checks.Injection))
	return r.toolResult(ToolCheckInjection, out, err), nil, nil
}

func (r *Registry) checkToxicity(ctx context.Context, _ *mcp.CallToolRequest, in thresholdInput) (*mcp.CallToolResult, any, error) {
	out, err := r.client.Toxicity(ctx, r.apiKey, in.Text, thresholdOr(in.Threshold, r.checks.Toxicity))
	return r.toolResult(ToolCheckToxicity, out, err), nil, nil
}

func (r *Registry) checkPII(ctx context.Context, _ *mcp.CallToolRequest, in piiInput) (*mcp.CallToolResult, any, error) {
	replace := *r.checks.PII.Replace
	if in.Replace != nil {
		replace = *in.Replace
	}
	method := r.checks.PII.ReplaceMethod
	if in.ReplaceMethod != "" {
		method = in.ReplaceMethod
	}
	out, err := r.client.PII(ctx, r.apiKey, in.Text, replace, method)
	return r.toolResult(ToolCheckPII, out, err), nil, nil
}

// pipeline builds the guard_text scanners: length, PII, injection, toxicity.
func (r *Registry) pipeline() *sanitizer.Pipeline {
	var scanners []sanitizer.Scanner

	if n := *r.checks.MaxInputChars; n > 0 {
		scanners = append(scanners, sanitizer.NewLengthScanner(n))
	}

	if r.checks.PII.On() {
		replace, method := *r.checks.PII.Replace, r.checks.PII.ReplaceMethod
		scanners = append(scanners, sanitizer.NewCheckScanner("pii",
			func(ctx context.Context, text string) (safety.Outcome, error) {
				return r.client.PII(ctx, r.apiKey, text, replace, method)
			}))
	}

	if r.checks.Injection.On() {
		threshold := *r.checks.Injection.Threshold
		scanners = append(scanners, sanitizer.NewCheckScanner("injection",
			func(ctx context.Context, text string) (safety.Outcome, error) {
				return r.client.Injection(ctx, r.apiKey, text, threshold)
			}))
	}

	if r.checks.Toxicity.On() {
		threshold := *r.checks.Toxicity.Threshold
		scanners = append(scanners, sanitizer.NewCheckScanner("toxicity",
			func(ctx context.Context, text string) (safety.Outcome, error) {
				return r.client.Toxicity(ctx, r.apiKey, text, threshold)
			}))
	}

	return sanitizer.NewPipeline(scanners...)
}

func (r *Registry) guard(ctx context.Context, pipeline *sanitizer.Pipeline, text string) *mcp.CallToolResult {
	pr, err := pipeline.Process(ctx, text)
	if err != nil {
		r.logger.Warn("guard failed", "tool", ToolGuardText, "err", err)
		return errorResult(err.Error())
	}

	if pr.Blocked() {
		reason := "blocked by guardrails"
		if len(pr.AllThreats) > 0 {
			reason = strings.Join(pr.AllThreats, "; ")
		}
		r.logger.Warn("blocked text", "tool", ToolGuardText, "threats", pr.AllThreats)
		return errorResult(reason)
	}

	if len(pr.AllThreats) > 0 {
		r.logger.Info("text passed with findings", "tool", ToolGuardText, "threats", pr.AllThreats)
	}
	return textResult(pr.FinalContent)
}

// toolResult raises non-pass outcomes as tool errors so the calling model
// sees them as failures rather than text to continue with.
func (r *Registry) toolResult(tool string, out safety.Outcome, err error) *mcp.CallToolResult {
	if err != nil {
		r.logger.Warn("rejected tool call", "tool", tool, "err", err)
		return errorResult(err.Error())
	}
	if !out.Allowed() {
		r.logger.Warn("check did not pass", "tool", tool, "outcome", out.Status, "status_code", out.StatusCode)
		return errorResult(out.Message())
	}
	return textResult(out.Text)
}

func thresholdOr(override *float64, cfg config.ThresholdCheckConfig) float64 {
	if override != nil {
		return *override
	}
	return *cfg.Threshold
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
