// Package store persists the subsystem's local state as JSON files:
// the account identity, cross-signing private keys, known devices and
// cross-signing keys per user, group-session records, the pending-upload
// set, and the backup version/decryption-key pair.
//
// Writes go through a temp file and an atomic rename; a missing file reads
// as empty state rather than an error. The pending set is keyed by
// (room, session) and therefore free of duplicates by construction.
package store
