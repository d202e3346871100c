// Package transport serves the gateway's MCP server to clients over stdio
// or streamable HTTP.
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Easy-Infra-Ltd/easy-predictionguard/src/config"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName      = "easy-predictionguard"
	shutdownTimeout = 5 * time.Second
)

const instructions = "Guardrail tools backed by the Prediction Guard API. " +
	"Run text through check_pii, check_injection or check_toxicity, or guard_text for all enabled checks, " +
	"before sending it to a model or returning it to a user."

// Upstream owns the MCP server that clients connect to. Register tools on
// Server before calling Run.
type Upstream struct {
	Server *mcp.Server
	cfg    config.UpstreamConfig
	logger *slog.Logger
}

func NewUpstream(cfg config.UpstreamConfig, logger *slog.Logger) *Upstream {
	srv := mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: Version,
		},
		&mcp.ServerOptions{
			Instructions: instructions,
			Logger:       logger,
		},
	)
	return &Upstream{
		Server: srv,
		cfg:    cfg,
		logger: logger.With("area", "upstream"),
	}
}

// Run serves on the configured transport until ctx is cancelled or the
// transport closes.
func (u *Upstream) Run(ctx context.Context) error {
	switch u.cfg.Transport {
	case config.TransportStdio:
		u.logger.Info("starting stdio transport")
		return u.Server.Run(ctx, &mcp.StdioTransport{})
	case config.TransportHTTP:
		return u.runHTTP(ctx)
	default:
		return fmt.Errorf("unsupported upstream transport: %s", u.cfg.Transport)
	}
}

// Handler returns the HTTP handler: the MCP endpoint at the configured path
// and a liveness probe at /healthz.
func (u *Upstream) Handler() http.Handler {
	mcpHandler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return u.Server },
		&mcp.StreamableHTTPOptions{Logger: u.logger},
	)

	mux := http.NewServeMux()
	mux.Handle(u.cfg.HTTP.Path, mcpHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	})
	return mux
}

func (u *Upstream) runHTTP(ctx context.Context) error {
	ln, err := net.Listen("tcp", u.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", u.cfg.HTTP.Addr, err)
	}
	u.logger.Info("starting HTTP transport", "addr", ln.Addr(), "path", u.cfg.HTTP.Path)

	srv := &http.Server{
		Handler:           u.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		u.logger.Info("shutting down HTTP transport")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
