package archive

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/glaciergate/glaciergate/internal/metrics"
)

// ClientConfig holds parameters for constructing a gateway HTTP client.
type ClientConfig struct {
	BaseURL    string // gateway root, e.g. https://s3-gw.internal:9000
	APIKey     string // bearer credential for the gateway
	Bucket     string
	Prefix     string // object key prefix prepended to every file name
	VerifyTLS  bool
	CACertPath string
	Timeout    time.Duration

	RestoreTier string // Expedited, Standard or Bulk
	RestoreDays int    // how long the restored copy stays available
}

// s3Client implements Store using direct HTTPS calls to the gateway.
type s3Client struct {
	cfg  ClientConfig
	http *http.Client
	log  zerolog.Logger
}

// NewClient constructs a Store client. It verifies nothing over the
// network; call Ping for that.
func NewClient(cfg ClientConfig, log zerolog.Logger) (Store, error) {
	if cfg.BaseURL == "" || cfg.Bucket == "" {
		return nil, errors.New("archive: base URL and bucket are required")
	}
	tlsCfg := &tls.Config{
		InsecureSkipVerify: !cfg.VerifyTLS, //nolint:gosec // user-opted-in
	}
	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read CA cert %s: %w", cfg.CACertPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no valid certificates in %s", cfg.CACertPath)
		}
		tlsCfg.RootCAs = pool
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &s3Client{
		cfg: cfg,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		log: log,
	}, nil
}

func (c *s3Client) objectURL(file string) string {
	key := c.cfg.Prefix + file
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + c.cfg.Bucket + "/" + url.PathEscape(key)
}

// apiDo executes one gateway request, handling auth, metrics and typed
// error translation for the statuses every endpoint shares.
func (c *s3Client) apiDo(ctx context.Context, req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req.WithContext(ctx))
	elapsed := time.Since(start)
	if err != nil {
		metrics.APICalls.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}

	statusLabel := fmt.Sprintf("%dxx", resp.StatusCode/100)
	metrics.APICalls.WithLabelValues(endpoint, statusLabel).Inc()
	metrics.APIDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		_ = resp.Body.Close()
		return nil, &ErrUnauthorized{Msg: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return resp, nil
}

// HeadStatus issues a HEAD for the object and reads the restore state
// out of the x-amz-restore header:
//
//	absent                                        -> not requested
//	ongoing-request="true"                        -> in progress
//	ongoing-request="false", expiry-date="..."    -> ready
func (c *s3Client) HeadStatus(ctx context.Context, file string) (RestoreState, error) {
	req, err := http.NewRequest(http.MethodHead, c.objectURL(file), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.apiDo(ctx, req, "head_object")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return "", &ErrNotFound{File: file}
	case http.StatusOK:
	default:
		return "", &ErrStatus{Endpoint: "head_object", Code: resp.StatusCode}
	}

	state := parseRestoreHeader(resp.Header.Get("x-amz-restore"))
	metrics.RestoreStatus.WithLabelValues(string(state)).Inc()
	c.log.Debug().Str("state", string(state)).Msg("archive object status")
	return state, nil
}

func parseRestoreHeader(h string) RestoreState {
	switch {
	case h == "":
		return StateNotRequested
	case strings.Contains(h, `ongoing-request="true"`):
		return StateInProgress
	default:
		return StateReady
	}
}

// InitiateRestore POSTs a restore request for the object. The gateway
// answers 409 when a restore is already running; that maps to
// ErrRestoreInProgress so callers can treat the trigger as idempotent.
func (c *s3Client) InitiateRestore(ctx context.Context, file string) error {
	body := fmt.Sprintf(
		`<RestoreRequest xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Days>%d</Days><GlacierJobParameters><Tier>%s</Tier></GlacierJobParameters></RestoreRequest>`,
		c.cfg.RestoreDays, c.cfg.RestoreTier,
	)
	req, err := http.NewRequest(http.MethodPost, c.objectURL(file)+"?restore", strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.apiDo(ctx, req, "restore_object")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		c.log.Info().Msg("archive restore initiated")
		return nil
	case http.StatusConflict:
		return &ErrRestoreInProgress{File: file}
	case http.StatusNotFound:
		return &ErrNotFound{File: file}
	default:
		return &ErrStatus{Endpoint: "restore_object", Code: resp.StatusCode}
	}
}

// Ping issues a HEAD against the bucket root. Used by the healthcheck
// command and startup validation.
func (c *s3Client) Ping(ctx context.Context) error {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + c.cfg.Bucket
	req, err := http.NewRequest(http.MethodHead, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.apiDo(ctx, req, "head_bucket")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ErrStatus{Endpoint: "head_bucket", Code: resp.StatusCode}
	}
	return nil
}
