package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/terraconstructs/gatehouse/internal/logging"
	"github.com/terraconstructs/gatehouse/internal/repository"
	"github.com/terraconstructs/gatehouse/internal/server"
	"github.com/terraconstructs/gatehouse/internal/telemetry"
	"github.com/terraconstructs/gatehouse/pkg/credential"
	"github.com/terraconstructs/gatehouse/pkg/resource"
	"github.com/terraconstructs/gatehouse/pkg/session"
)

var pruneInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gatehouse HTTP server",
	Long:  `Starts the HTTP server exposing sign-in, sign-out, profile and internal agent endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := logging.New(cfg.Environment, cfg.LogLevel, "gatehouse")
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		var processors []sdktrace.SpanProcessor
		if cfg.Debug {
			processors = append(processors, telemetry.NewLogSpanProcessor(logger))
		}
		shutdownTracing, err := telemetry.InitTracing(cmd.Context(), cfg.Observability, processors...)
		if err != nil {
			return fmt.Errorf("failed to initialise tracing: %w", err)
		}
		defer func() { _ = shutdownTracing(context.Background()) }()
		if cfg.Observability.OTLPEndpoint != "" {
			logger.Info("exporting traces",
				zap.String("endpoint", cfg.Observability.OTLPEndpoint),
				zap.String("protocol", cfg.Observability.OTLPProtocol),
			)
		}

		st, err := openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		logger.Info("connected to storage",
			zap.Bool("redis_sessions", st.redis != nil),
		)

		metrics, err := telemetry.NewAuthMetrics()
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}

		settings := cfg.SessionSettings()
		resolver := session.NewResolver(st.sessions, settings,
			session.WithLogger(logger),
			session.WithRecorder(metrics),
		)
		manager := session.NewManager(st.sessions, st.agents, session.WithManagerLogger(logger))

		dispatcherOpts := []resource.Option{
			resource.WithLogger(logger),
			resource.WithMachineAgent(cfg.MachineAgent()),
		}
		if key := cfg.InternalKey(); key.Configured() {
			dispatcherOpts = append(dispatcherOpts, resource.WithInternalKey(key, cfg.Internal.ForwardedAgentHeader))
		} else {
			logger.Warn("no internal key configured; internal endpoints will refuse every caller")
		}
		dispatcher := resource.NewDispatcher(resolver, dispatcherOpts...)

		policy, err := cfg.PerspectivePolicy()
		if err != nil {
			return fmt.Errorf("failed to build perspective policy: %w", err)
		}
		limiter, err := credential.NewAttemptLimiter(cfg.Signin.TrackedAddresses, cfg.Signin.MaxAttempts, cfg.Signin.Window)
		if err != nil {
			return fmt.Errorf("failed to build sign-in limiter: %w", err)
		}

		r := server.NewRouter(server.RouterOptions{
			Dispatcher:         dispatcher,
			Sessions:           manager,
			Agents:             st.agents,
			Perspectives:       policy,
			SigninPerspectives: cfg.PerspectiveIDs(),
			Cookies:            credential.NewCookieHeaders(cfg.Names(), cfg.Debug),
			CORS:               cfg.CORSPolicy(),
			Limiter:            limiter,
			ClientAddress:      cfg.IPAddressSource(),
			Metrics:            metrics,
			Logger:             logger,
		})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		pruneCtx, cancelPrune := context.WithCancel(cmd.Context())
		defer cancelPrune()
		go pruneSessions(pruneCtx, logger, st.sessions, settings.TTL, pruneInterval)

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server", zap.String("addr", cfg.ServerAddr))
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP prunes expired sessions immediately.
		prune := make(chan os.Signal, 1)
		signal.Notify(prune, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case sig := <-prune:
				logger.Info("received signal, pruning sessions", zap.String("signal", sig.String()))
				pruneOnce(pruneCtx, logger, st.sessions, settings.TTL)

			case sig := <-shutdown:
				logger.Info("shutting down gracefully", zap.String("signal", sig.String()))

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(ctx); err != nil {
					srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				logger.Info("server stopped")
				return nil
			}
		}
	},
}

func pruneOnce(ctx context.Context, logger *zap.Logger, sessions repository.SessionRepository, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := sessions.DeleteExpired(ctx, ttl)
	if err != nil {
		logger.Error("session prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("pruned expired sessions", zap.Int("count", n))
	}
}

// pruneSessions removes expired sessions every interval until ctx is done.
func pruneSessions(ctx context.Context, logger *zap.Logger, sessions repository.SessionRepository, ttl, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pruneOnce(ctx, logger, sessions, ttl)
		case <-ctx.Done():
			return
		}
	}
}

func init() {
	serveCmd.Flags().DurationVar(&pruneInterval, "prune-interval", 15*time.Minute, "How often to delete expired sessions (0 disables)")
	rootCmd.AddCommand(serveCmd)
}
