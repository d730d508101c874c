// Package archive talks to the S3-compatible cold-storage gateway: it
// inspects an object's restore state, initiates restores from the archive
// tier, and mints signed download URLs for objects that are ready.
package archive

import (
	"context"
	"fmt"
)

// RestoreState describes where an archived object is in its restore cycle.
type RestoreState string

const (
	// StateNotRequested means the object sits in the archive tier with
	// no restore underway.
	StateNotRequested RestoreState = "not_requested"
	// StateInProgress means a restore was initiated and has not finished.
	StateInProgress RestoreState = "in_progress"
	// StateReady means a restored copy exists and can be downloaded.
	StateReady RestoreState = "ready"
)

// Store is the gateway surface the flows depend on.
type Store interface {
	// HeadStatus reports the restore state of the named object.
	HeadStatus(ctx context.Context, file string) (RestoreState, error)
	// InitiateRestore starts a restore. A restore already underway is
	// not an error: implementations return ErrRestoreInProgress so the
	// caller can treat the trigger as idempotent.
	InitiateRestore(ctx context.Context, file string) error
	// Ping verifies the gateway is reachable and the credentials work.
	Ping(ctx context.Context) error
}

// ErrNotFound reports that the named object does not exist in the bucket.
type ErrNotFound struct {
	File string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("archive: object %q not found", e.File)
}

// ErrRestoreInProgress reports a restore already underway for the object.
// Callers triggering a restore treat it as success.
type ErrRestoreInProgress struct {
	File string
}

func (e *ErrRestoreInProgress) Error() string {
	return fmt.Sprintf("archive: restore already in progress for %q", e.File)
}

// ErrUnauthorized reports rejected gateway credentials.
type ErrUnauthorized struct {
	Msg string
}

func (e *ErrUnauthorized) Error() string {
	return "archive: unauthorized: " + e.Msg
}

// ErrStatus reports an unexpected gateway response.
type ErrStatus struct {
	Endpoint string
	Code     int
}

func (e *ErrStatus) Error() string {
	return fmt.Sprintf("archive: %s returned HTTP %d", e.Endpoint, e.Code)
}
