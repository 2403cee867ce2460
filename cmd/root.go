// Package cmd defines and implements the CLI commands for the popup-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/popup-crawler/internal/app"
	"github.com/JakeFAU/popup-crawler/internal/config"
	"github.com/JakeFAU/popup-crawler/internal/crawler"
	"github.com/JakeFAU/popup-crawler/internal/logging"
)

type ctxKey string

const (
	appKey ctxKey = "app"
	cfgKey ctxKey = "config"
)

// App is the set of services commands rely on.
type App interface {
	Crawl(ctx context.Context) (*crawler.Report, error)
	FailureReport(ctx context.Context) ([]crawler.HTTPFailure, error)
	Logger() *zap.Logger
	Close() error
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newLogger builds the process logger; tests replace it.
var newLogger = func(cfg config.Config) (*zap.Logger, error) {
	return logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
}

// newRootCmd builds the command tree. The returned cleanup closes whatever
// services the command initialized, including when RunE fails.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile     string
		appInstance App
	)
	cmd := &cobra.Command{
		Use:           "popup-crawler",
		Short:         "Crawls popup listings from a multi-locale sitemap.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyFlagOverrides(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			for _, w := range cfg.Warnings {
				logger.Warn(w)
			}

			appInstance, err = newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), cfgKey, cfg)
			cmd.SetContext(context.WithValue(ctx, appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd(), newFailuresCmd())

	cleanup := func() {
		if appInstance == nil {
			return
		}
		_ = appInstance.Close()
		_ = appInstance.Logger().Sync()
		appInstance = nil
	}
	return cmd, cleanup
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if f := flags.Lookup("max-items"); f != nil && f.Changed {
		cfg.Crawl.MaxItems, _ = flags.GetInt("max-items")
	}
	if f := flags.Lookup("fast"); f != nil && f.Changed {
		cfg.Crawl.Fast, _ = flags.GetBool("fast")
	}
	if f := flags.Lookup("workers"); f != nil && f.Changed {
		cfg.Crawl.Workers, _ = flags.GetInt("workers")
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) config.Config {
	cfg, _ := ctx.Value(cfgKey).(config.Config)
	return cfg
}

// Execute runs the root command until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, cleanup := newRootCmd()
	err := root.ExecuteContext(ctx)
	cleanup()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "popup-crawler: %v\n", err)
		os.Exit(1)
	}
}
