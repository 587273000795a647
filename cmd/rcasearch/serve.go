package main

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

	"github.com/TheEntropyCollective/rcasearch/pkg/infrastructure/config"
	"github.com/TheEntropyCollective/rcasearch/pkg/infrastructure/logging"
	"github.com/TheEntropyCollective/rcasearch/pkg/pdfproxy"
	"github.com/TheEntropyCollective/rcasearch/pkg/search"
	"github.com/TheEntropyCollective/rcasearch/pkg/webui"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search web site",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context) error {
	log := logger.WithComponent("serve")

	opts := webui.Options{
		StaticDir: cfg.Server.StaticDir,
		CVPath:    cfg.Server.CVPath,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Logger:    logger,

		TrustedProxies: cfg.Server.TrustedProxies,
	}

	if cfg.Database.URL == "" {
		log.Warn("No database configured, searches will return no results")
	} else {
		db, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := db.MigrateToLatest(ctx); err != nil {
				return err
			}
		}

		svc := newSearchService(db)
		if _, err := svc.ColumnMap(ctx); err != nil {
			// the site still starts; the next search retries
			log.Warn("Initial column map failed", map[string]interface{}{
				"error": err.Error(),
			})
		}

		if expr := cfg.Search.RefreshCron; expr != "" {
			if err := search.ValidateCron(expr); err != nil {
				return err
			}
			go svc.RunRefresher(ctx, expr)
		}

		opts.Search = svc
		opts.Health = db
	}

	docs, err := pdfproxy.New(pdfproxy.Config{
		BaseURL:            cfg.Documents.BaseURL,
		Timeout:            cfg.Documents.TimeoutDuration(),
		WarmupTimeout:      cfg.Documents.WarmupTimeoutDuration(),
		InsecureSkipVerify: cfg.Documents.InsecureSkipVerify,
		UserAgent:          cfg.Documents.UserAgent,
		Referer:            cfg.Documents.Referer,
		SOCKSProxy:         cfg.Documents.SOCKSProxy,
		AllowedHosts:       cfg.Documents.AllowedHosts,
		Breaker:            pdfproxy.DefaultBreakerConfig(),
	}, logger)
	if err != nil {
		return err
	}
	opts.Documents = docs

	site, err := webui.NewServer(opts)
	if err != nil {
		return err
	}
	defer site.Close()

	watchConfig(ctx, log)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      site.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening", map[string]interface{}{
			"addr": cfg.Server.Addr,
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// watchConfig applies log level changes from the config file without a
// restart. Other settings need one.
func watchConfig(ctx context.Context, log *logging.Logger) {
	if resolvedConfigPath == "" {
		return
	}
	if _, err := os.Stat(resolvedConfigPath); err != nil {
		return
	}

	w, err := config.NewWatcher(resolvedConfigPath, func(c *config.Config) {
		level, err := logging.ParseLogLevel(c.Logging.Level)
		if err != nil || level == logger.Level() {
			return
		}
		logger.SetLevel(level)
		log.Info("Log level changed", map[string]interface{}{
			"level": level.String(),
		})
	}, func(err error) {
		log.Warn("Config reload failed", map[string]interface{}{
			"error": err.Error(),
		})
	})
	if err != nil {
		log.Warn("Config file will not be watched", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	w.Start(ctx)
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
}
