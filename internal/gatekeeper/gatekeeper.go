// Package gatekeeper wires the collaborators into the long-running
// daemon: the public API server, the Prometheus endpoint, health probes
// and the storage janitor, all under one errgroup.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/glaciergate/glaciergate/internal/api"
	"github.com/glaciergate/glaciergate/internal/archive"
	"github.com/glaciergate/glaciergate/internal/config"
	"github.com/glaciergate/glaciergate/internal/flow"
	"github.com/glaciergate/glaciergate/internal/gate"
	"github.com/glaciergate/glaciergate/internal/mailcheck"
	"github.com/glaciergate/glaciergate/internal/mailer"
	"github.com/glaciergate/glaciergate/internal/storage"
	"github.com/glaciergate/glaciergate/internal/token"
)

// BinaryVersion is set at startup from the -X main.Version ldflags value.
var BinaryVersion = "dev"

// Gatekeeper owns the daemon's moving parts.
type Gatekeeper struct {
	cfg     *config.Config
	store   storage.Store
	archive archive.Store
	flow    *flow.Flow
	log     zerolog.Logger
}

// New constructs a fully wired Gatekeeper from configuration. The store
// and archive client are injected so the healthcheck command and tests
// can substitute their own.
func New(cfg *config.Config, store storage.Store, arch archive.Store, log zerolog.Logger) (*Gatekeeper, error) {
	g, err := gate.New(gate.Config{
		TriesLimit:    cfg.TriesLimit,
		BlockDuration: cfg.BlockDuration(),
		RecordTTL:     cfg.AttemptTTL(),
	}, store, log)
	if err != nil {
		return nil, fmt.Errorf("create gate: %w", err)
	}

	checker := mailcheck.New(mailcheck.Config{
		CheckMX:         cfg.MailcheckCheckMX,
		ExtraDisposable: cfg.MailcheckExtraDisposable,
	}, log)

	sender, err := mailer.New(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		UseTLS:   cfg.SMTPUseTLS,
		UseSSL:   cfg.SMTPUseSSL,
		From:     cfg.EmailFrom,
		FromName: cfg.EmailFromName,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create mailer: %w", err)
	}

	issuer, err := token.NewIssuer([]byte(cfg.JWTPrivateKey), cfg.TokenTTL())
	if err != nil {
		return nil, fmt.Errorf("create token issuer: %w", err)
	}
	verifier, err := token.NewVerifier([]byte(cfg.JWTPrivateKey))
	if err != nil {
		return nil, fmt.Errorf("create token verifier: %w", err)
	}
	signer, err := archive.NewSigner(cfg.ArchiveURL, cfg.ArchiveBucket, cfg.ArchivePrefix,
		cfg.DownloadSignSecret, cfg.DownloadURLTTL)
	if err != nil {
		return nil, fmt.Errorf("create download signer: %w", err)
	}

	f, err := flow.New(flow.Config{
		BaseURL:      cfg.BaseURL,
		ConfirmedTTL: cfg.ConfirmedTTL(),
	}, flow.Deps{
		Checker:  checker,
		Gate:     g,
		Store:    store,
		Sender:   sender,
		Archive:  arch,
		Issuer:   issuer,
		Verifier: verifier,
		Signer:   signer,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create flow: %w", err)
	}

	return &Gatekeeper{
		cfg:     cfg,
		store:   store,
		archive: arch,
		flow:    f,
		log:     log,
	}, nil
}

// Run starts all goroutines and blocks until ctx is cancelled or a fatal
// error occurs.
func (gk *Gatekeeper) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return gk.serveAPI(gctx)
	})

	if gk.cfg.MetricsEnabled {
		g.Go(func() error {
			return gk.serveMetrics(gctx)
		})
	}

	g.Go(func() error {
		return gk.serveHealth(gctx)
	})

	janitor := NewJanitor(gk.store, gk.cfg.JanitorInterval, gk.log)
	g.Go(func() error {
		return janitor.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveAPI runs the public HTTP server.
func (gk *Gatekeeper) serveAPI(ctx context.Context) error {
	srv := &http.Server{
		Addr:              gk.cfg.ListenAddr,
		Handler:           api.New(gk.flow, gk.log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	gk.log.Info().Str("addr", gk.cfg.ListenAddr).Msg("api server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// serveMetrics runs the Prometheus HTTP server.
func (gk *Gatekeeper) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    gk.cfg.MetricsAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	gk.log.Info().Str("addr", gk.cfg.MetricsAddr).Msg("Prometheus metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// serveHealth runs the health endpoint. Readiness pings the archive
// gateway; liveness answers unconditionally.
func (gk *Gatekeeper) serveHealth(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := gk.archive.Ping(r.Context()); err != nil {
			http.Error(w, "not ready: archive gateway unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{
		Addr:    gk.cfg.HealthAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	gk.log.Info().Str("addr", gk.cfg.HealthAddr).Msg("health server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}
