package config

import (
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
//
// The abuse-gate and token knobs keep the integer-seconds contract of the
// deployment environment (TRIES_LIMIT, TIME_TO_EXPIRE_SPAM, ...); use the
// duration accessors below instead of reading the raw fields.
type Config struct {
	// Abuse gate
	TriesLimit                 int `koanf:"tries_limit"`
	TimeToExpireSpam           int `koanf:"time_to_expire_spam"`            // seconds
	TimeToExpireConfirmedEmail int `koanf:"time_to_expire_confirmed_email"` // seconds

	// Capability tokens
	JWTPrivateKey     string `koanf:"jwt_private_key"`
	JWTExpirationTime int    `koanf:"jwt_expiration_time"` // seconds

	// Confirmation link & outbound mail
	BaseURL       string `koanf:"base_url"`
	EmailFrom     string `koanf:"email_from"`
	EmailFromName string `koanf:"email_from_name"`
	SMTPHost      string `koanf:"smtp_host"`
	SMTPPort      int    `koanf:"smtp_port"`
	SMTPUsername  string `koanf:"smtp_username"`
	SMTPPassword  string `koanf:"smtp_password"`
	SMTPUseTLS    bool   `koanf:"smtp_use_tls"` // STARTTLS
	SMTPUseSSL    bool   `koanf:"smtp_use_ssl"` // implicit TLS

	// Email validation
	MailcheckCheckMX         bool     `koanf:"mailcheck_check_mx"`
	MailcheckExtraDisposable []string `koanf:"mailcheck_extra_disposable"`

	// Archive gateway
	ArchiveURL         string        `koanf:"archive_url"`
	ArchiveAPIKey      string        `koanf:"archive_api_key"`
	ArchiveBucket      string        `koanf:"archive_bucket"`
	ArchivePrefix      string        `koanf:"archive_prefix"`
	ArchiveVerifyTLS   bool          `koanf:"archive_verify_tls"`
	ArchiveCACert      string        `koanf:"archive_ca_cert"`
	ArchiveHTTPTimeout time.Duration `koanf:"archive_http_timeout"`
	RestoreTier        string        `koanf:"restore_tier"`
	RestoreDays        int           `koanf:"restore_days"`
	DownloadSignSecret string        `koanf:"download_sign_secret"`
	DownloadURLTTL     time.Duration `koanf:"download_url_ttl"`

	// Storage
	DataDir string `koanf:"data_dir"`

	// Operational
	ListenAddr      string        `koanf:"listen_addr"`
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	HealthAddr      string        `koanf:"health_addr"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// BlockDuration is how long a blocked address stays denied.
func (c *Config) BlockDuration() time.Duration {
	return time.Duration(c.TimeToExpireSpam) * time.Second
}

// AttemptTTL is the storage lifetime of an attempt record. The record
// outlives its block by the same window, so expiry handles unblocking.
func (c *Config) AttemptTTL() time.Duration {
	return time.Duration(c.TimeToExpireSpam) * time.Second
}

// ConfirmedTTL is the storage lifetime of a confirmation record.
func (c *Config) ConfirmedTTL() time.Duration {
	return time.Duration(c.TimeToExpireConfirmedEmail) * time.Second
}

// TokenTTL is the capability-token validity window.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpirationTime) * time.Second
}

// sanitise removes a single layer of matching surrounding quotes from all
// string fields and string slice elements. This normalises values from Docker
// --env-file which does not strip shell quoting.
func (c *Config) sanitise() {
	c.JWTPrivateKey = stripEnvQuotes(c.JWTPrivateKey)
	c.BaseURL = stripEnvQuotes(c.BaseURL)
	c.EmailFrom = stripEnvQuotes(c.EmailFrom)
	c.EmailFromName = stripEnvQuotes(c.EmailFromName)
	c.SMTPHost = stripEnvQuotes(c.SMTPHost)
	c.SMTPUsername = stripEnvQuotes(c.SMTPUsername)
	c.SMTPPassword = stripEnvQuotes(c.SMTPPassword)
	c.ArchiveURL = stripEnvQuotes(c.ArchiveURL)
	c.ArchiveAPIKey = stripEnvQuotes(c.ArchiveAPIKey)
	c.ArchiveBucket = stripEnvQuotes(c.ArchiveBucket)
	c.ArchivePrefix = stripEnvQuotes(c.ArchivePrefix)
	c.ArchiveCACert = stripEnvQuotes(c.ArchiveCACert)
	c.RestoreTier = stripEnvQuotes(c.RestoreTier)
	c.DownloadSignSecret = stripEnvQuotes(c.DownloadSignSecret)
	c.DataDir = stripEnvQuotes(c.DataDir)
	c.ListenAddr = stripEnvQuotes(c.ListenAddr)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.HealthAddr = stripEnvQuotes(c.HealthAddr)

	for i, s := range c.MailcheckExtraDisposable {
		c.MailcheckExtraDisposable[i] = stripEnvQuotes(s)
	}
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"tries_limit":                    5,
		"time_to_expire_spam":            86400,
		"time_to_expire_confirmed_email": 86400,
		"jwt_expiration_time":            3600,
		"email_from_name":                "Archive Retrieval",
		"smtp_port":                      587,
		"smtp_use_tls":                   true,
		"smtp_use_ssl":                   false,
		"mailcheck_check_mx":             true,
		"archive_verify_tls":             true,
		"archive_http_timeout":           "15s",
		"restore_tier":                   "Standard",
		"restore_days":                   7,
		"download_url_ttl":               "60s",
		"data_dir":                       "/data",
		"listen_addr":                    ":8080",
		"log_level":                      "info",
		"log_format":                     "json",
		"metrics_enabled":                true,
		"metrics_addr":                   ":9090",
		"health_addr":                    ":8081",
		"janitor_interval":               "1h",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or double
// quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables, applying _FILE secret injection.
func Load() (*Config, error) {
	// Use "." as delimiter so that env vars with "_" in their names are
	// treated as flat keys, not nested paths. E.g. TRIES_LIMIT → "tries_limit"
	// maps to struct tag koanf:"tries_limit" without any nesting.
	k := koanf.New(".")

	defs := defaults()
	if err := k.Load(&rawProvider{data: defs}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated list fields that koanf won't split automatically
	cfg.MailcheckExtraDisposable = splitCSV(k.String("mailcheck_extra_disposable"))

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	if c.JWTPrivateKey == "" {
		return fmt.Errorf("JWT_PRIVATE_KEY is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("BASE_URL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("BASE_URL must start with http:// or https://; got %q", c.BaseURL)
	}
	if c.EmailFrom == "" {
		return fmt.Errorf("EMAIL_FROM is required")
	}
	if _, err := mail.ParseAddress(c.EmailFrom); err != nil {
		return fmt.Errorf("EMAIL_FROM is not a valid address: %w", err)
	}
	if c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required")
	}
	if c.SMTPPort < 1 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTP_PORT must be 1–65535; got %d", c.SMTPPort)
	}
	if c.SMTPUseTLS && c.SMTPUseSSL {
		return fmt.Errorf("SMTP_USE_TLS and SMTP_USE_SSL are mutually exclusive")
	}
	if c.ArchiveURL == "" {
		return fmt.Errorf("ARCHIVE_URL is required")
	}
	if !strings.HasPrefix(c.ArchiveURL, "http://") && !strings.HasPrefix(c.ArchiveURL, "https://") {
		return fmt.Errorf("ARCHIVE_URL must start with http:// or https://; got %q", c.ArchiveURL)
	}
	if c.ArchiveBucket == "" {
		return fmt.Errorf("ARCHIVE_BUCKET is required")
	}
	if c.DownloadSignSecret == "" {
		return fmt.Errorf("DOWNLOAD_SIGN_SECRET is required")
	}

	if c.TriesLimit < 1 {
		return fmt.Errorf("TRIES_LIMIT must be >= 1; got %d", c.TriesLimit)
	}
	if c.TimeToExpireSpam < 1 {
		return fmt.Errorf("TIME_TO_EXPIRE_SPAM must be >= 1 second; got %d", c.TimeToExpireSpam)
	}
	if c.TimeToExpireConfirmedEmail < 1 {
		return fmt.Errorf("TIME_TO_EXPIRE_CONFIRMED_EMAIL must be >= 1 second; got %d", c.TimeToExpireConfirmedEmail)
	}
	if c.JWTExpirationTime < 1 {
		return fmt.Errorf("JWT_EXPIRATION_TIME must be >= 1 second; got %d", c.JWTExpirationTime)
	}

	validTiers := map[string]bool{"Expedited": true, "Standard": true, "Bulk": true}
	if !validTiers[c.RestoreTier] {
		return fmt.Errorf("RESTORE_TIER must be Expedited, Standard, or Bulk; got %q", c.RestoreTier)
	}
	if c.RestoreDays < 1 {
		return fmt.Errorf("RESTORE_DAYS must be >= 1; got %d", c.RestoreDays)
	}
	if c.DownloadURLTTL <= 0 {
		return fmt.Errorf("DOWNLOAD_URL_TTL must be > 0; got %s", c.DownloadURLTTL)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}

	return nil
}

// injectFileSecrets reads _FILE env vars and injects their file contents.
var fileSecretKeys = []string{
	"jwt_private_key",
	"smtp_password",
	"archive_api_key",
	"download_sign_secret",
}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		fileKey := key + "_file"
		filePath := k.String(fileKey)
		if filePath == "" {
			// Also check uppercased env var with _FILE suffix
			envKey := strings.ToUpper(key) + "_FILE"
			filePath = os.Getenv(envKey)
		}
		if filePath == "" {
			continue
		}
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
