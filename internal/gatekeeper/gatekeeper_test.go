package gatekeeper

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/glaciergate/glaciergate/internal/config"
	"github.com/glaciergate/glaciergate/internal/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		TriesLimit:                 5,
		TimeToExpireSpam:           3600,
		TimeToExpireConfirmedEmail: 172800,
		JWTPrivateKey:              "0123456789abcdef0123456789abcdef",
		JWTExpirationTime:          900,
		BaseURL:                    "https://gate.example.com",
		EmailFrom:                  "noreply@example.com",
		SMTPHost:                   "smtp.example.com",
		SMTPPort:                   587,
		ArchiveURL:                 "https://s3-gw.example.com",
		ArchiveBucket:              "cold",
		RestoreTier:                "Standard",
		RestoreDays:                3,
		DownloadSignSecret:         "sign-secret",
		DownloadURLTTL:             15 * time.Minute,
		ListenAddr:                 "127.0.0.1:0",
		MetricsAddr:                "127.0.0.1:0",
		HealthAddr:                 "127.0.0.1:0",
		JanitorInterval:            time.Minute,
	}
}

func TestNewWiresCollaborators(t *testing.T) {
	store := testutil.NewMockStore()
	arch := testutil.NewMockArchive()

	gk, err := New(testConfig(), store, arch, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if gk.flow == nil {
		t.Fatal("flow not wired")
	}
}

func TestNewRejectsBrokenConfig(t *testing.T) {
	cfg := testConfig()
	cfg.TriesLimit = 0

	if _, err := New(cfg, testutil.NewMockStore(), testutil.NewMockArchive(), zerolog.Nop()); err == nil {
		t.Fatal("expected error for zero tries limit")
	}
}
