package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neary-ai/neary-sub000/internal/adapter/llm"
	"github.com/neary-ai/neary-sub000/internal/config"
	"github.com/neary-ai/neary-sub000/internal/repository"
	"github.com/neary-ai/neary-sub000/internal/retrieval"
	"github.com/neary-ai/neary-sub000/internal/service"
	"github.com/neary-ai/neary-sub000/internal/snippets"
	"github.com/neary-ai/neary-sub000/internal/tokenizer"
	"github.com/neary-ai/neary-sub000/internal/tools"
	v1 "github.com/neary-ai/neary-sub000/internal/transport/http/v1"
	"github.com/neary-ai/neary-sub000/internal/transport/ws"
	"github.com/neary-ai/neary-sub000/policy"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	Long: `Run the conversation server.

The REST API is served under /v1 and the websocket endpoint at /ws. Both
share one listener.

Examples:
  neary serve
  neary serve --port 9000 --config neary.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides http_port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePort > 0 {
		cfg.HTTPPort = servePort
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, config.ParseLogLevel(cfg.LogLevel))
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting neary",
		"version", Version,
		"port", cfg.HTTPPort,
		"database", cfg.DatabaseURL,
		"provider", cfg.Provider.Type,
		"model", cfg.Provider.Model,
	)

	srv, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.store.Close()

	e := srv.router(ctx, cfg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown server gracefully", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("neary stopped")
	return nil
}

type app struct {
	store   *repository.SQLiteStore
	service *service.Service
	hub     *ws.Hub
}

// router serves the REST API and the websocket endpoint on one echo instance.
func (a *app) router(ctx context.Context, cfg *config.Config, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(a.service, a.hub).RegisterRoutes(e)
	wsServer := ws.NewServer(ctx, cfg.WS, a.hub, a.service, logger)
	e.GET("/ws", wsServer.HandleWebSocket)
	return e
}

// buildApp wires the store, provider, plugins and policy into a service.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	provider, err := llm.NewProvider(ctx, cfg.Provider, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize provider: %w", err)
	}

	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	index := retrieval.NewIndex()
	if cfg.DocumentsDir != "" {
		if err := index.LoadDir(cfg.DocumentsDir); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to load documents: %w", err)
		}
		logger.Info("documents indexed", "dir", cfg.DocumentsDir, "count", index.Len())
	}

	toolRegistry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(toolRegistry, tools.Deps{Notes: store, Retriever: index}); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	snippetRegistry := snippets.NewRegistry()
	if err := snippets.RegisterBuiltins(snippetRegistry, snippets.Deps{Notes: store, Retriever: index}); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to register snippets: %w", err)
	}

	counter := tokenizer.New(cfg.TokenizerEncoding, logger)
	svc := service.New(store, provider, toolRegistry, snippetRegistry, policyEngine, counter, cfg, logger)

	return &app{
		store:   store,
		service: svc,
		hub:     ws.NewHub(logger),
	}, nil
}
