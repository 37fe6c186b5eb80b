package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panyam/classdraw/collab"
	"github.com/panyam/classdraw/config"
	"github.com/panyam/classdraw/services"
	"github.com/panyam/classdraw/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the diagram server",
		Long: `Start the classdraw server: the dashboard and editor pages, the JSON API
under /api and the live editing endpoint under /ws/diagrams/{id}.

Open rooms are saved every flushInterval and once more on shutdown.

Example:
  classdraw serve --addr :9090 --store sqlite
  CLASSDRAW_ENV=dev classdraw serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logger := services.SetupLogging(cfg.LogLevel, cfg.PrettyLogs || cfg.IsDev())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", cfg.Address)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
			}
			return runServer(ctx, cfg, logger, ln)
		},
	}
}

// runServer serves on ln until ctx is done, then shuts the HTTP server down
// and flushes every open room.
func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, ln net.Listener) error {
	if logger == nil {
		logger = slog.Default()
	}
	svc, err := openService(ctx, cfg)
	if err != nil {
		ln.Close()
		return err
	}
	defer svc.Store().Close()

	hub := collab.NewHub(svc, logger)
	app := web.NewApp(svc, hub, web.AppConfig{
		TemplatesDir:    cfg.TemplatesDir,
		MaxImportSize:   cfg.MaxImportSize,
		SyncUndo:        cfg.SyncUndo,
		SessionLifetime: cfg.SessionLifetime,
		Logger:          logger,
	})
	srv := &http.Server{
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server", "address", ln.Addr().String(), "store", cfg.Store)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return hub.Run(gctx, cfg.FlushInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
