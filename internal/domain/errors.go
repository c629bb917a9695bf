package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks absence of a server-side resource. For the backup
	// version endpoint this is a valid terminal state, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRecoveryKey marks a recovery key that failed to decode.
	// It is returned before any network call and is not retryable.
	ErrInvalidRecoveryKey = errors.New("invalid recovery key")

	// ErrNoAccount marks a client that has not been initialised yet.
	ErrNoAccount = errors.New("no local account; run init first")

	// ErrUnknownSession marks an olm message for which no established
	// session exists. OlmSessions implementations return it so the
	// receive path can classify the failure.
	ErrUnknownSession = errors.New("unknown sender session")
)

// Error code returned by the server when an upload targets a stale version.
const ErrCodeWrongVersion = "M_WRONG_ROOM_KEYS_VERSION"

// VersionConflictError is returned when the server's current backup version
// differs from the one an upload was made against. The uploader recovers
// from it automatically by re-checking trust and switching versions.
type VersionConflictError struct {
	Code           string `json:"errcode"`
	CurrentVersion string `json:"current_version"`
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s: server is at version %q", e.Code, e.CurrentVersion)
}

// AuthRequiredError is returned when the server rejects an upload pending
// additional authentication. Params carries the server's auth dictionary
// verbatim so the caller can retry with updated auth.
type AuthRequiredError struct {
	Params json.RawMessage
}

func (e *AuthRequiredError) Error() string {
	return "additional auth required"
}
