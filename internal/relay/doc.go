// Package relay provides the HTTP implementation of domain.ServerClient.
//
// Supported operations:
//   - Fetching the current backup metadata (GET /room_keys/version).
//   - Bulk upload and full/single download of backed-up room keys.
//   - Publishing the cross-signing triplet and key signatures.
//   - Claiming one-time keys and delivering to-device batches.
//
// All requests are JSON over HTTP and accept a context for cancellation
// and deadlines. Server error envelopes are mapped onto the domain error
// taxonomy: 404 becomes domain.ErrNotFound, 401 becomes
// *domain.AuthRequiredError carrying the auth params verbatim, and
// M_WRONG_ROOM_KEYS_VERSION becomes *domain.VersionConflictError with the
// server's current version.
package relay
