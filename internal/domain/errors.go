package domain

import (
    "errors"
    "fmt"
)

// Error taxonomy for sync operations. Sentinels classify, SyncError carries
// the sprint identifier so a multi-sprint run can report partial failure.
var (
    // ErrTransient marks a retryable adapter failure (network hiccup,
    // rate limit, 5xx). Retries happen inside the adapter; if this escapes,
    // retries were exhausted.
    ErrTransient = errors.New("transient tracker error")
    // ErrAuthRejected marks a credential rejection. Never retried.
    ErrAuthRejected = errors.New("tracker rejected credentials")
    // ErrNotFound marks a sprint/issue/version unknown to the tracker or store.
    ErrNotFound = errors.New("not found")
    // ErrConflict marks an internally inconsistent fetched batch, e.g.
    // duplicate keys with divergent histories. The sprint merge is aborted.
    ErrConflict = errors.New("reconciliation conflict")
)

const (
    KindTransient    = "transient"
    KindAuthRejected = "auth_rejected"
    KindNotFound     = "not_found"
    KindConflict     = "conflict"
)

// SyncError is the user-visible failure shape: sprint plus error kind,
// never a bare stack trace.
type SyncError struct {
    SprintID string
    Kind     string
    Message  string
    Err      error
}

func (e *SyncError) Error() string {
    msg := e.Message
    if msg == "" && e.Err != nil {
        msg = e.Err.Error()
    }
    if e.SprintID == "" {
        return fmt.Sprintf("%s: %s", e.Kind, msg)
    }
    return fmt.Sprintf("sprint %s: %s: %s", e.SprintID, e.Kind, msg)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Classify maps any error onto the taxonomy kind, defaulting to transient
// so that unknown failures stay retry-safe rather than fatal.
func Classify(err error) string {
    switch {
    case errors.Is(err, ErrAuthRejected):
        return KindAuthRejected
    case errors.Is(err, ErrNotFound):
        return KindNotFound
    case errors.Is(err, ErrConflict):
        return KindConflict
    default:
        return KindTransient
    }
}
