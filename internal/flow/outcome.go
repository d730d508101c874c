package flow

import (
	"time"

	"github.com/glaciergate/glaciergate/internal/archive"
	"github.com/glaciergate/glaciergate/internal/gate"
)

// RequestOutcome is the closed result set of RequestRetrieval.
type RequestOutcome interface {
	requestOutcome()
}

// Registered means the confirmation mail went out.
type Registered struct {
	DeliveryID string
}

// RejectedValidation means the address failed a validation stage.
type RejectedValidation struct {
	Stage  string
	Reason string
}

// RejectedAbuse means the admission gate denied the address.
type RejectedAbuse struct {
	Reason gate.DenyReason
}

func (Registered) requestOutcome()         {}
func (RejectedValidation) requestOutcome() {}
func (RejectedAbuse) requestOutcome()      {}

// ConfirmOutcome is the closed result set of Confirm.
type ConfirmOutcome interface {
	confirmOutcome()
}

// Confirmed means the token was valid and a restore is underway or done.
type Confirmed struct {
	File  string
	State archive.RestoreState
}

// RejectedToken means the confirmation token did not verify.
type RejectedToken struct {
	Reason string
}

func (Confirmed) confirmOutcome()     {}
func (RejectedToken) confirmOutcome() {}

// DownloadOutcome is the closed result set of Download.
type DownloadOutcome interface {
	downloadOutcome()
}

// Ready carries a signed URL for the restored object and its expiry.
type Ready struct {
	URL       string
	ExpiresAt time.Time
}

// DownloadRejected means the token or confirmation did not check out.
type DownloadRejected struct {
	Reason string
}

// NotReady means the object's restore has not finished.
type NotReady struct {
	State archive.RestoreState
}

func (Ready) downloadOutcome()            {}
func (DownloadRejected) downloadOutcome() {}
func (NotReady) downloadOutcome()         {}

// Failed reports a collaborator failure. It belongs to every outcome set:
// storage, mail and archive errors all surface through it, and callers
// must treat it as a refusal.
type Failed struct {
	Err error
}

func (Failed) requestOutcome()  {}
func (Failed) confirmOutcome()  {}
func (Failed) downloadOutcome() {}

func (f Failed) Error() string { return f.Err.Error() }
