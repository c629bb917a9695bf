package domain

import "strings"

// UserID identifies an account, e.g. "@alice:example.org".
type UserID string

// DeviceID identifies one device of an account.
type DeviceID string

// RoomID identifies a conversation.
type RoomID string

// SessionID identifies one group-encryption session within a room.
type SessionID string

// KeyID names a public key together with its algorithm,
// e.g. "ed25519:JLAFKJWSCS".
type KeyID string

// NewKeyID builds a KeyID from an algorithm and a key identifier.
func NewKeyID(algorithm, ident string) KeyID {
	return KeyID(algorithm + ":" + ident)
}

// Algorithm returns the algorithm part of the key id, or "" if malformed.
func (k KeyID) Algorithm() string {
	algo, _, ok := strings.Cut(string(k), ":")
	if !ok {
		return ""
	}
	return algo
}

// Ident returns the key-identifier part of the key id, or "" if malformed.
func (k KeyID) Ident() string {
	_, ident, ok := strings.Cut(string(k), ":")
	if !ok {
		return ""
	}
	return ident
}

const (
	// KeyAlgorithmEd25519 names signing keys.
	KeyAlgorithmEd25519 = "ed25519"
	// KeyAlgorithmCurve25519 names identity (ECDH) keys.
	KeyAlgorithmCurve25519 = "curve25519"
)
