package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/glaciergate/glaciergate/internal/archive"
	"github.com/glaciergate/glaciergate/internal/gate"
	"github.com/glaciergate/glaciergate/internal/mailcheck"
	"github.com/glaciergate/glaciergate/internal/testutil"
	"github.com/glaciergate/glaciergate/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	flow    *Flow
	store   *testutil.MockStore
	sender  *testutil.MockSender
	archive *testutil.MockArchive
	checker *testutil.MockChecker
	issuer  *token.Issuer
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store := testutil.NewMockStore()
	sender := &testutil.MockSender{}
	arch := testutil.NewMockArchive()
	checker := &testutil.MockChecker{Reject: map[string]mailcheck.Result{}}

	g, err := gate.New(gate.Config{
		TriesLimit:    5,
		BlockDuration: time.Hour,
		RecordTTL:     24 * time.Hour,
		Now:           func() time.Time { return now },
	}, store, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	issuer, err := token.NewIssuer([]byte(testSecret), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := token.NewVerifier([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	signer, err := archive.NewSigner("https://s3-gw.example.com", "cold", "archive/", "sign-secret", 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	f, err := New(Config{
		BaseURL:      "https://gate.example.com",
		ConfirmedTTL: 48 * time.Hour,
		Now:          func() time.Time { return now },
	}, Deps{
		Checker:  checker,
		Gate:     g,
		Store:    store,
		Sender:   sender,
		Archive:  arch,
		Issuer:   issuer,
		Verifier: verifier,
		Signer:   signer,
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{flow: f, store: store, sender: sender, archive: arch, checker: checker, issuer: issuer, now: now}
}

func (fx *fixture) request(t *testing.T, email, file string) RequestOutcome {
	t.Helper()
	return fx.flow.RequestRetrieval(context.Background(), email, file)
}

// --- RequestRetrieval -------------------------------------------------------

func TestRequestRetrievalRegistersAndMails(t *testing.T) {
	fx := newFixture(t)

	out := fx.request(t, "alice@example.com", "backup.tar")
	reg, ok := out.(Registered)
	if !ok {
		t.Fatalf("outcome = %#v, want Registered", out)
	}
	if reg.DeliveryID == "" {
		t.Fatal("expected a delivery ID")
	}

	sent := fx.sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(sent))
	}
	if sent[0].To != "alice@example.com" || sent[0].File != "backup.tar" {
		t.Fatalf("unexpected delivery %+v", sent[0])
	}
	if !strings.HasPrefix(sent[0].ConfirmURL, "https://gate.example.com/confirm?token=") {
		t.Fatalf("confirm URL = %q", sent[0].ConfirmURL)
	}

	rec, _ := fx.store.AttemptGet("alice@example.com")
	if rec == nil || rec.Tries != 1 {
		t.Fatalf("attempt record after first request = %+v, want tries=1", rec)
	}
}

func TestRequestRetrievalOneMailPerCall(t *testing.T) {
	fx := newFixture(t)

	for i := 1; i <= 6; i++ {
		out := fx.request(t, "bob@example.com", "backup.tar")
		if _, ok := out.(Registered); !ok {
			t.Fatalf("call #%d: outcome = %#v, want Registered", i, out)
		}
	}
	if got := len(fx.sender.Sent()); got != 6 {
		t.Fatalf("deliveries = %d, want 6", got)
	}
	rec, _ := fx.store.AttemptGet("bob@example.com")
	if rec.Tries != 6 {
		t.Fatalf("tries = %d, want 6", rec.Tries)
	}
}

func TestRequestRetrievalBlocksAfterLimit(t *testing.T) {
	fx := newFixture(t)

	for i := 1; i <= 6; i++ {
		fx.request(t, "eve@example.com", "backup.tar")
	}

	out := fx.request(t, "eve@example.com", "backup.tar")
	abuse, ok := out.(RejectedAbuse)
	if !ok || abuse.Reason != gate.DenyTooManyTries {
		t.Fatalf("7th call outcome = %#v, want RejectedAbuse(too_many_tries)", out)
	}
	rec, _ := fx.store.AttemptGet("eve@example.com")
	if rec.BlockedUntil.IsZero() {
		t.Fatal("expected block to be set")
	}

	out = fx.request(t, "eve@example.com", "backup.tar")
	abuse, ok = out.(RejectedAbuse)
	if !ok || abuse.Reason != gate.DenyAlreadyBlocked {
		t.Fatalf("8th call outcome = %#v, want RejectedAbuse(already_blocked)", out)
	}

	// Denied requests cause no deliveries beyond the six allowed ones.
	if got := len(fx.sender.Sent()); got != 6 {
		t.Fatalf("deliveries = %d, want 6", got)
	}
}

func TestRequestRetrievalValidationRejectionHasNoSideEffects(t *testing.T) {
	fx := newFixture(t)
	fx.checker.Reject["junk@mailinator.com"] = mailcheck.Result{Stage: "2_disposable", Reason: "disposable_domain"}

	out := fx.request(t, "junk@mailinator.com", "backup.tar")
	rej, ok := out.(RejectedValidation)
	if !ok || rej.Reason != "disposable_domain" {
		t.Fatalf("outcome = %#v, want RejectedValidation", out)
	}
	if len(fx.sender.Sent()) != 0 {
		t.Fatal("rejected address must receive no mail")
	}
	if rec, _ := fx.store.AttemptGet("junk@mailinator.com"); rec != nil {
		t.Fatalf("rejected address must leave no attempt record, got %+v", rec)
	}
}

func TestRequestRetrievalMissingFile(t *testing.T) {
	fx := newFixture(t)

	out := fx.request(t, "alice@example.com", "")
	if rej, ok := out.(RejectedValidation); !ok || rej.Reason != "missing_file" {
		t.Fatalf("outcome = %#v, want RejectedValidation(missing_file)", out)
	}
}

func TestRequestRetrievalDeliveryFailure(t *testing.T) {
	fx := newFixture(t)
	fx.sender.Err = errors.New("smtp down")

	out := fx.request(t, "carol@example.com", "backup.tar")
	if _, ok := out.(Failed); !ok {
		t.Fatalf("outcome = %#v, want Failed", out)
	}
	// The attempt was recorded before delivery and is not rolled back.
	rec, _ := fx.store.AttemptGet("carol@example.com")
	if rec == nil || rec.Tries != 1 {
		t.Fatalf("expected attempt record with tries=1, got %+v", rec)
	}
}

func TestRequestRetrievalStorageFailureFailsClosed(t *testing.T) {
	fx := newFixture(t)
	fx.store.SetError("AttemptGet", errors.New("disk on fire"))

	out := fx.request(t, "dave@example.com", "backup.tar")
	if _, ok := out.(Failed); !ok {
		t.Fatalf("outcome = %#v, want Failed", out)
	}
	if len(fx.sender.Sent()) != 0 {
		t.Fatal("storage failure must not produce mail")
	}
}

func TestRequestRetrievalResolverFailure(t *testing.T) {
	fx := newFixture(t)
	fx.checker.Err = errors.New("dns infrastructure down")

	out := fx.request(t, "alice@example.com", "backup.tar")
	if _, ok := out.(Failed); !ok {
		t.Fatalf("outcome = %#v, want Failed", out)
	}
	if len(fx.sender.Sent()) != 0 {
		t.Fatal("resolver failure must not produce mail")
	}
}

// --- Confirm ----------------------------------------------------------------

func (fx *fixture) issue(t *testing.T, email, file string) string {
	t.Helper()
	tok, err := fx.issuer.Issue(email, file, fx.now)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestConfirmTriggersRestoreOnce(t *testing.T) {
	fx := newFixture(t)
	tok := fx.issue(t, "alice@example.com", "backup.tar")

	out := fx.flow.Confirm(context.Background(), tok)
	conf, ok := out.(Confirmed)
	if !ok {
		t.Fatalf("outcome = %#v, want Confirmed", out)
	}
	if conf.File != "backup.tar" || conf.State != archive.StateInProgress {
		t.Fatalf("unexpected confirmation %+v", conf)
	}
	if got := fx.archive.RestoreCalls("backup.tar"); got != 1 {
		t.Fatalf("restore calls = %d, want 1", got)
	}

	// Second redemption is harmless and does not re-trigger.
	out = fx.flow.Confirm(context.Background(), tok)
	if _, ok := out.(Confirmed); !ok {
		t.Fatalf("second confirm outcome = %#v, want Confirmed", out)
	}
	if got := fx.archive.RestoreCalls("backup.tar"); got != 1 {
		t.Fatalf("restore calls after second confirm = %d, want 1", got)
	}

	rec, err := fx.store.ConfirmationGet("alice@example.com")
	if err != nil || rec == nil {
		t.Fatalf("confirmation record missing: %v", err)
	}
	if !rec.Live(fx.now) {
		t.Fatal("confirmation record must be live")
	}
}

func TestConfirmRaceLoserTreatedAsSuccess(t *testing.T) {
	fx := newFixture(t)
	tok := fx.issue(t, "alice@example.com", "backup.tar")
	fx.archive.InitErr = &archive.ErrRestoreInProgress{File: "backup.tar"}

	out := fx.flow.Confirm(context.Background(), tok)
	conf, ok := out.(Confirmed)
	if !ok || conf.State != archive.StateInProgress {
		t.Fatalf("outcome = %#v, want Confirmed(in_progress)", out)
	}
}

func TestConfirmRejectsBadTokens(t *testing.T) {
	fx := newFixture(t)

	out := fx.flow.Confirm(context.Background(), "not.a.token")
	rej, ok := out.(RejectedToken)
	if !ok || rej.Reason != "bad_signature" {
		t.Fatalf("outcome = %#v, want RejectedToken(bad_signature)", out)
	}

	// A token minted long before now is expired.
	stale, err := fx.issuer.Issue("alice@example.com", "backup.tar", fx.now.Add(-2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	out = fx.flow.Confirm(context.Background(), stale)
	rej, ok = out.(RejectedToken)
	if !ok || rej.Reason != "expired" {
		t.Fatalf("outcome = %#v, want RejectedToken(expired)", out)
	}
	if got := fx.archive.RestoreCalls("backup.tar"); got != 0 {
		t.Fatalf("rejected token must not trigger restore, calls = %d", got)
	}
}

func TestConfirmArchiveFailure(t *testing.T) {
	fx := newFixture(t)
	tok := fx.issue(t, "alice@example.com", "backup.tar")
	fx.archive.HeadErr = errors.New("gateway down")

	out := fx.flow.Confirm(context.Background(), tok)
	if _, ok := out.(Failed); !ok {
		t.Fatalf("outcome = %#v, want Failed", out)
	}
}

// --- Download ---------------------------------------------------------------

func (fx *fixture) confirm(t *testing.T, tok string) {
	t.Helper()
	if _, ok := fx.flow.Confirm(context.Background(), tok).(Confirmed); !ok {
		t.Fatal("setup confirm failed")
	}
}

func TestDownloadReady(t *testing.T) {
	fx := newFixture(t)
	tok := fx.issue(t, "alice@example.com", "backup.tar")
	fx.confirm(t, tok)
	fx.archive.SetState("backup.tar", archive.StateReady)

	out := fx.flow.Download(context.Background(), tok, "backup.tar")
	ready, ok := out.(Ready)
	if !ok {
		t.Fatalf("outcome = %#v, want Ready", out)
	}
	if !strings.Contains(ready.URL, "signature=") || !strings.Contains(ready.URL, "backup.tar") {
		t.Fatalf("unexpected URL %q", ready.URL)
	}
	if !ready.ExpiresAt.Equal(fx.now.Add(15 * time.Minute)) {
		t.Fatalf("ExpiresAt = %v", ready.ExpiresAt)
	}
}

func TestDownloadNotReadyWhileRestoring(t *testing.T) {
	fx := newFixture(t)
	tok := fx.issue(t, "alice@example.com", "backup.tar")
	fx.confirm(t, tok)

	out := fx.flow.Download(context.Background(), tok, "backup.tar")
	nr, ok := out.(NotReady)
	if !ok || nr.State != archive.StateInProgress {
		t.Fatalf("outcome = %#v, want NotReady(in_progress)", out)
	}
}

func TestDownloadRejectsFileMismatch(t *testing.T) {
	fx := newFixture(t)
	tok := fx.issue(t, "alice@example.com", "backup.tar")
	fx.confirm(t, tok)
	fx.archive.SetState("other.tar", archive.StateReady)

	out := fx.flow.Download(context.Background(), tok, "other.tar")
	rej, ok := out.(DownloadRejected)
	if !ok || rej.Reason != "file_mismatch" {
		t.Fatalf("outcome = %#v, want DownloadRejected(file_mismatch)", out)
	}
}

func TestDownloadRequiresLiveConfirmation(t *testing.T) {
	fx := newFixture(t)
	tok := fx.issue(t, "alice@example.com", "backup.tar")
	fx.archive.SetState("backup.tar", archive.StateReady)

	// Never confirmed.
	out := fx.flow.Download(context.Background(), tok, "backup.tar")
	rej, ok := out.(DownloadRejected)
	if !ok || rej.Reason != "not_confirmed" {
		t.Fatalf("outcome = %#v, want DownloadRejected(not_confirmed)", out)
	}

	// Confirmed, but the record has since expired.
	if err := fx.store.ConfirmationPut("alice@example.com", fx.now.Add(-72*time.Hour), fx.now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	out = fx.flow.Download(context.Background(), tok, "backup.tar")
	rej, ok = out.(DownloadRejected)
	if !ok || rej.Reason != "not_confirmed" {
		t.Fatalf("outcome = %#v, want DownloadRejected(not_confirmed)", out)
	}
}

func TestDownloadRejectsExpiredToken(t *testing.T) {
	fx := newFixture(t)
	stale, err := fx.issuer.Issue("alice@example.com", "backup.tar", fx.now.Add(-2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	out := fx.flow.Download(context.Background(), stale, "backup.tar")
	rej, ok := out.(DownloadRejected)
	if !ok || rej.Reason != "expired" {
		t.Fatalf("outcome = %#v, want DownloadRejected(expired)", out)
	}
}
