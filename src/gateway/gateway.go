package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/Easy-Infra-Ltd/easy-predictionguard/src/config"
	"github.com/Easy-Infra-Ltd/easy-predictionguard/src/safety"
	"github.com/Easy-Infra-Ltd/easy-predictionguard/src/transport"
)

// Gateway wires the config, the Prediction Guard client and the upstream
// MCP server together.
type Gateway struct {
	cfg    config.Config
	logger *slog.Logger

	// httpClient is injected for testing; nil uses the default client.
	httpClient *http.Client
}

func New(cfg config.Config, logger *slog.Logger) *Gateway {
	return &Gateway{cfg: cfg, logger: logger}
}

// NewWithHTTPClient creates a Gateway that calls the API through hc.
func NewWithHTTPClient(cfg config.Config, logger *slog.Logger, hc *http.Client) *Gateway {
	return &Gateway{cfg: cfg, logger: logger, httpClient: hc}
}

// Setup builds the upstream server with every enabled check registered.
func (g *Gateway) Setup() (*transport.Upstream, error) {
	opts := []safety.Option{safety.WithBaseURL(g.cfg.PredictionGuard.BaseURL)}
	if g.httpClient != nil {
		opts = append(opts, safety.WithHTTPClient(g.httpClient))
	}
	client := safety.NewClient(g.logger, opts...)

	upstream := transport.NewUpstream(g.cfg.Upstream, g.logger)
	reg := NewRegistry(upstream, client, g.cfg.PredictionGuard.APIKey, g.cfg.Checks, g.logger)
	count := reg.Register()
	if count == 0 {
		return nil, fmt.Errorf("no checks enabled")
	}
	g.logger.Info("tools registered", "total", count)
	return upstream, nil
}

// Run serves the tools until SIGINT/SIGTERM or ctx cancellation.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g.logger.Info("starting gateway", "base_url", g.cfg.PredictionGuard.BaseURL)

	upstream, err := g.Setup()
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	g.logger.Info("upstream ready", "transport", g.cfg.Upstream.Transport)
	return upstream.Run(ctx)
}
