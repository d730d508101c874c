// Package flow wires validation, admission, tokens, mail and the archive
// gateway into the three user-facing operations: requesting a retrieval,
// confirming it, and downloading the restored object. Each operation
// returns a closed outcome type; collaborator failures surface as the
// Failed variant and never as a silent allow.
package flow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/glaciergate/glaciergate/internal/archive"
	"github.com/glaciergate/glaciergate/internal/gate"
	"github.com/glaciergate/glaciergate/internal/mailcheck"
	"github.com/glaciergate/glaciergate/internal/mailer"
	"github.com/glaciergate/glaciergate/internal/metrics"
	"github.com/glaciergate/glaciergate/internal/storage"
	"github.com/glaciergate/glaciergate/internal/token"
)

// Checker validates a candidate address. *mailcheck.Checker satisfies it.
type Checker interface {
	Check(ctx context.Context, raw string) (mailcheck.Result, error)
}

// Admitter decides whether an address may request again. *gate.Gate
// satisfies it.
type Admitter interface {
	Admit(email string) (gate.Decision, error)
	RecordFirst(email string) error
}

// Config holds flow parameters.
type Config struct {
	BaseURL      string        // public root used to build confirmation links
	ConfirmedTTL time.Duration // lifetime of a confirmation record
	Now          func() time.Time
}

// Flow owns the three operations. Construct with New.
type Flow struct {
	cfg      Config
	checker  Checker
	gate     Admitter
	store    storage.Store
	sender   mailer.Sender
	archive  archive.Store
	issuer   *token.Issuer
	verifier *token.Verifier
	signer   *archive.Signer
	now      func() time.Time
	log      zerolog.Logger
}

// Deps collects the flow's collaborators.
type Deps struct {
	Checker  Checker
	Gate     Admitter
	Store    storage.Store
	Sender   mailer.Sender
	Archive  archive.Store
	Issuer   *token.Issuer
	Verifier *token.Verifier
	Signer   *archive.Signer
}

// New constructs a Flow.
func New(cfg Config, deps Deps, log zerolog.Logger) (*Flow, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("flow: base URL is required")
	}
	if cfg.ConfirmedTTL <= 0 {
		return nil, errors.New("flow: confirmed TTL must be > 0")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Flow{
		cfg:      cfg,
		checker:  deps.Checker,
		gate:     deps.Gate,
		store:    deps.Store,
		sender:   deps.Sender,
		archive:  deps.Archive,
		issuer:   deps.Issuer,
		verifier: deps.Verifier,
		signer:   deps.Signer,
		now:      now,
		log:      log,
	}, nil
}

// RequestRetrieval handles one retrieval request for file by rawEmail.
// The pipeline is validate, admit, record, issue, deliver; a request that
// fails validation or admission causes no side effects beyond the gate's
// own bookkeeping, and a delivery failure does not roll the attempt
// counter back.
func (f *Flow) RequestRetrieval(ctx context.Context, rawEmail, file string) RequestOutcome {
	if file == "" {
		metrics.RequestsProcessed.WithLabelValues("rejected_validation").Inc()
		return RejectedValidation{Stage: "request", Reason: "missing_file"}
	}

	res, err := f.checker.Check(ctx, rawEmail)
	if err != nil {
		metrics.RequestsProcessed.WithLabelValues("failed").Inc()
		return Failed{Err: fmt.Errorf("validate address: %w", err)}
	}
	if !res.OK {
		metrics.RequestsProcessed.WithLabelValues("rejected_validation").Inc()
		return RejectedValidation{Stage: res.Stage, Reason: res.Reason}
	}
	email := res.Normalized

	dec, err := f.gate.Admit(email)
	if err != nil {
		metrics.RequestsProcessed.WithLabelValues("failed").Inc()
		return Failed{Err: fmt.Errorf("admission check: %w", err)}
	}
	if !dec.Allowed {
		metrics.RequestsProcessed.WithLabelValues("rejected_abuse").Inc()
		f.log.Info().Str("reason", string(dec.Reason)).Msg("retrieval request denied")
		return RejectedAbuse{Reason: dec.Reason}
	}

	// The attempt is recorded before delivery and never rolled back: a
	// request that got as far as mail still spent one of the address's
	// tries even if the send then fails.
	if dec.FirstRequest {
		if err := f.gate.RecordFirst(email); err != nil {
			metrics.RequestsProcessed.WithLabelValues("failed").Inc()
			return Failed{Err: fmt.Errorf("record attempt: %w", err)}
		}
	}

	now := f.now()
	tok, err := f.issuer.Issue(email, file, now)
	if err != nil {
		metrics.RequestsProcessed.WithLabelValues("failed").Inc()
		return Failed{Err: fmt.Errorf("issue token: %w", err)}
	}
	metrics.TokensIssued.Inc()

	confirmURL := f.cfg.BaseURL + "/confirm?token=" + url.QueryEscape(tok)
	deliveryID, err := f.sender.SendConfirmation(ctx, email, confirmURL, file)
	if err != nil {
		metrics.RequestsProcessed.WithLabelValues("failed").Inc()
		return Failed{Err: fmt.Errorf("send confirmation: %w", err)}
	}

	metrics.RequestsProcessed.WithLabelValues("registered").Inc()
	f.log.Info().Str("delivery_id", deliveryID).Msg("retrieval request registered")
	return Registered{DeliveryID: deliveryID}
}

// Confirm redeems a confirmation token: it marks the address confirmed
// and makes sure a restore is underway for the bound file. Confirming
// twice is harmless; the restore trigger is idempotent.
func (f *Flow) Confirm(ctx context.Context, rawToken string) ConfirmOutcome {
	now := f.now()
	binding, err := f.verifier.Verify(rawToken, now, "")
	if err != nil {
		reason := tokenRejectReason(err)
		metrics.TokensRejected.WithLabelValues(reason).Inc()
		metrics.Confirmations.WithLabelValues("rejected").Inc()
		return RejectedToken{Reason: reason}
	}

	if err := f.store.ConfirmationPut(binding.Email, now, now.Add(f.cfg.ConfirmedTTL)); err != nil {
		metrics.Confirmations.WithLabelValues("failed").Inc()
		return Failed{Err: fmt.Errorf("record confirmation: %w", err)}
	}

	state, err := f.archive.HeadStatus(ctx, binding.File)
	if err != nil {
		metrics.Confirmations.WithLabelValues("failed").Inc()
		return Failed{Err: fmt.Errorf("archive status: %w", err)}
	}

	if state == archive.StateNotRequested {
		err := f.archive.InitiateRestore(ctx, binding.File)
		var inProgress *archive.ErrRestoreInProgress
		switch {
		case err == nil:
			metrics.RestoreTriggers.WithLabelValues("initiated").Inc()
			state = archive.StateInProgress
		case errors.As(err, &inProgress):
			// Someone else won the race; same end state.
			metrics.RestoreTriggers.WithLabelValues("already_running").Inc()
			state = archive.StateInProgress
		default:
			metrics.RestoreTriggers.WithLabelValues("error").Inc()
			metrics.Confirmations.WithLabelValues("failed").Inc()
			return Failed{Err: fmt.Errorf("initiate restore: %w", err)}
		}
	}

	metrics.Confirmations.WithLabelValues("confirmed").Inc()
	f.log.Info().Str("state", string(state)).Msg("retrieval confirmed")
	return Confirmed{File: binding.File, State: state}
}

// Download exchanges a confirmation token for a signed download URL, once
// the restored copy exists. The token must be bound to the very file the
// caller asks for, and the address must still hold a live confirmation.
func (f *Flow) Download(ctx context.Context, rawToken, file string) DownloadOutcome {
	now := f.now()
	binding, err := f.verifier.Verify(rawToken, now, file)
	if err != nil {
		reason := tokenRejectReason(err)
		metrics.TokensRejected.WithLabelValues(reason).Inc()
		return DownloadRejected{Reason: reason}
	}

	conf, err := f.store.ConfirmationGet(binding.Email)
	if err != nil {
		return Failed{Err: fmt.Errorf("read confirmation: %w", err)}
	}
	if conf == nil || !conf.Live(now) {
		return DownloadRejected{Reason: "not_confirmed"}
	}

	state, err := f.archive.HeadStatus(ctx, binding.File)
	if err != nil {
		return Failed{Err: fmt.Errorf("archive status: %w", err)}
	}
	if state != archive.StateReady {
		return NotReady{State: state}
	}

	u, expiresAt := f.signer.DownloadURL(binding.File, now)
	f.log.Info().Msg("download URL issued")
	return Ready{URL: u, ExpiresAt: expiresAt}
}

func tokenRejectReason(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrFileMismatch):
		return "file_mismatch"
	default:
		return "bad_signature"
	}
}
