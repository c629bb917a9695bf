// Package backup implements the key-backup core: the version state
// machine, the background upload loop and the chunked restore engine.
//
// The state machine is either Disabled or Active(version, trust); it
// consults the trust evaluator whenever server metadata changes and gates
// both the uploader and the restorer. The upload loop drains the
// pending-upload set best-effort in the background, absorbing version
// conflicts by re-checking trust and re-uploading against the new
// version, and retrying transient failures with backoff forever. The
// restore engine recovers backed-up sessions either one at a time or as a
// full chunked walk tolerant of partial failures.
//
// State transitions commit before their notifications are emitted, and
// notifications from one transition preserve program order.
package backup
