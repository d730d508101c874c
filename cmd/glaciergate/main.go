package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/glaciergate/glaciergate/internal/archive"
	"github.com/glaciergate/glaciergate/internal/config"
	"github.com/glaciergate/glaciergate/internal/gatekeeper"
	"github.com/glaciergate/glaciergate/internal/logger"
	"github.com/glaciergate/glaciergate/internal/storage"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "glaciergate",
		Short: "Email-gated retrieval authorization for cold-archive objects",
	}

	root.AddCommand(
		runCmd(),
		healthcheckCmd(),
		versionCmd(),
		pruneCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the gatekeeper daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Msg("glaciergate starting")

	store, err := storage.NewBboltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	arch, err := archive.NewClient(archive.ClientConfig{
		BaseURL:     cfg.ArchiveURL,
		APIKey:      cfg.ArchiveAPIKey,
		Bucket:      cfg.ArchiveBucket,
		Prefix:      cfg.ArchivePrefix,
		VerifyTLS:   cfg.ArchiveVerifyTLS,
		CACertPath:  cfg.ArchiveCACert,
		Timeout:     cfg.ArchiveHTTPTimeout,
		RestoreTier: cfg.RestoreTier,
		RestoreDays: cfg.RestoreDays,
	}, log)
	if err != nil {
		return fmt.Errorf("init archive client: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := arch.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("archive gateway not reachable at startup")
	}

	gatekeeper.BinaryVersion = Version
	gk, err := gatekeeper.New(cfg, store, arch, log)
	if err != nil {
		return fmt.Errorf("build gatekeeper: %w", err)
	}
	return gk.Run(ctx)
}

// healthcheckCmd exits 0 if the daemon's health endpoint answers.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			resp, err := http.Get("http://" + cfg.HealthAddr + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("glaciergate %s\n", Version)
		},
	}
}

// pruneCmd runs a one-shot expiry sweep.
func pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Run a one-shot expiry sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := buildLogger(cfg)

			store, err := storage.NewBboltStore(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			gatekeeper.NewJanitor(store, cfg.JanitorInterval, log).Sweep()
			fmt.Println("prune complete")
			return nil
		},
	}
}

// buildLogger constructs a zerolog.Logger based on config.
func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	} else {
		redactWriter := logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(redactWriter).Level(level).With().Timestamp().Logger()
	}
	return base
}
