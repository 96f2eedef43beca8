package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Oven29/cinema-payments/src/adapters"
	"github.com/Oven29/cinema-payments/src/config"
	"github.com/Oven29/cinema-payments/src/events"
	"github.com/Oven29/cinema-payments/src/logger"
	"github.com/Oven29/cinema-payments/src/metrics"
	"github.com/Oven29/cinema-payments/src/reconcile"
	"github.com/Oven29/cinema-payments/src/server"
	"github.com/Oven29/cinema-payments/src/status"
	"github.com/Oven29/cinema-payments/src/storage"
	"github.com/Oven29/cinema-payments/src/tgbot"
)

var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "cinema-payments",
		Short:         "VNPay payment gateway for cinema ticket orders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")

	rootCmd.AddCommand(serveCmd(&envFile))
	rootCmd.AddCommand(paymentURLCmd(&envFile))
	rootCmd.AddCommand(verifyReturnCmd(&envFile))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(envFile string) (*config.EnvConfig, error) {
	cfg, err := config.LoadEnvConfig(envFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't load config: %w", err)
	}
	if err := cfg.ValidateWithDefaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newProvider(cfg *config.EnvConfig) (*adapters.VNPayProvider, error) {
	return adapters.NewVNPayProvider(adapters.VNPayConfig{
		TmnCode:     cfg.VNPayTmnCode,
		HashSecret:  cfg.VNPayHashSecret,
		BaseURL:     cfg.VNPayURL,
		ReturnURL:   cfg.VNPayReturnURL,
		Locale:      cfg.VNPayLocale,
		OrderType:   cfg.VNPayOrderType,
		ExpireAfter: cfg.ExpireAfter(),
	})
}

func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the payment HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.EnvConfig) error {
	log := logger.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(log)
	gin.SetMode(gin.ReleaseMode)

	provider, err := newProvider(cfg)
	if err != nil {
		return fmt.Errorf("couldn't configure VNPay: %w", err)
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("couldn't create database dir: %w", err)
		}
	}
	store, err := storage.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("couldn't open order store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	stream := events.NewStream(cfg.EventsReplay)

	opts := []reconcile.Option{
		reconcile.WithLogger(log),
		reconcile.WithMetrics(m),
		reconcile.WithPublisher(stream),
		reconcile.WithRetryPolicy(reconcile.RetryPolicy{
			MaxAttempts: cfg.ReconcileMaxAttempts,
			Backoff:     cfg.ReconcileBackoff,
		}),
	}
	if cfg.TelegramToken != "" {
		alerter, err := tgbot.NewAlerter(cfg.TelegramToken, cfg.TelegramID)
		if err != nil {
			return fmt.Errorf("couldn't start Telegram alerts: %w", err)
		}
		opts = append(opts, reconcile.WithAlerter(alerter))
		log.Info("telegram alerts enabled", "chats", len(cfg.TelegramID))
	}

	mapper := status.Default()
	srv := server.New(server.Deps{
		Provider:   provider,
		Orders:     store,
		Mapper:     mapper,
		Reconciler: reconcile.New(store, opts...),
		Stream:     stream,
		Metrics:    m,
		Gatherer:   reg,
		Log:        log,
		SuccessURL: cfg.PaymentSuccessURL,
		FailureURL: cfg.PaymentFailureURL,
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.HTTPAddr, "status_table_version", mapper.Version())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		// SSE subscribers hold their connections open until the stream closes.
		stream.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
