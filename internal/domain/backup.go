package domain

// Event/content algorithms understood by this subsystem.
const (
	// AlgorithmMegolm is the group-message encryption algorithm.
	AlgorithmMegolm = "m.megolm.v1.aes-sha2"
	// AlgorithmOlm is the to-device encryption algorithm.
	AlgorithmOlm = "m.olm.v1.curve25519-aes-sha2"
	// AlgorithmBackup is the single supported key-backup algorithm.
	AlgorithmBackup = "m.megolm_backup.v1.curve25519-aes-sha2"
)

// BackupInfo is an immutable snapshot of the server-side backup metadata.
// A new version is a wholly new value, never patched in place.
type BackupInfo struct {
	Version    string     `json:"version"`
	Algorithm  string     `json:"algorithm"`
	PublicKey  string     `json:"public_key"` // curve25519, unpadded base64
	Signatures Signatures `json:"signatures,omitempty"`
}

// BackupDecryptionKey is the private backup scalar cached locally, tagged
// with the version it was derived or stored for. It is usable for restore
// only while its tag matches the currently active version.
type BackupDecryptionKey struct {
	Key     [32]byte `json:"key"`
	Version string   `json:"version"`
}

// TrustVerdict is the outcome of evaluating a backup's trustworthiness.
// The two booleans are independent: Trusted requires a valid signature from
// a trusted signer; MatchesDecryptionKey requires the cached decryption
// key's derived public key to equal the backup's public key and the
// algorithm to be the supported one.
type TrustVerdict struct {
	Trusted              bool `json:"trusted"`
	MatchesDecryptionKey bool `json:"matches_decryption_key"`
}

// SessionData is the opaque encrypted payload of one backed-up session.
type SessionData struct {
	Ciphertext string `json:"ciphertext"`
	MAC        string `json:"mac"`
	Ephemeral  string `json:"ephemeral"`
}

// BackedUpSessionRecord is one encrypted session as stored server-side.
type BackedUpSessionRecord struct {
	FirstMessageIndex uint32      `json:"first_message_index"`
	ForwardedCount    int         `json:"forwarded_count"`
	IsVerified        bool        `json:"is_verified"`
	SessionData       SessionData `json:"session_data"`
}

// RoomKeys groups the backed-up sessions of one room.
type RoomKeys struct {
	Sessions map[SessionID]BackedUpSessionRecord `json:"sessions"`
}

// RoomKeysBackup is the bulk upload/download payload.
type RoomKeysBackup struct {
	Rooms map[RoomID]RoomKeys `json:"rooms"`
}

// SessionCount returns the total number of sessions across all rooms.
func (b RoomKeysBackup) SessionCount() int {
	n := 0
	for _, r := range b.Rooms {
		n += len(r.Sessions)
	}
	return n
}

// SessionRef keys one pending-upload entry.
type SessionRef struct {
	RoomID    RoomID    `json:"room_id"`
	SessionID SessionID `json:"session_id"`
}

// InboundGroupSession is one locally known group-encryption session in its
// plaintext form, the unit of backup and restore.
type InboundGroupSession struct {
	RoomID           RoomID    `json:"room_id"`
	SessionID        SessionID `json:"session_id"`
	SenderKey        string    `json:"sender_key"`
	SenderClaimedKey string    `json:"sender_claimed_key"`
	SessionKey       string    `json:"session_key"`
	FirstKnownIndex  uint32    `json:"first_known_index"`
	ForwardedCount   int       `json:"forwarded_count"`
	Verified         bool      `json:"verified"`
}

// Ref returns the session's pending-set key.
func (s InboundGroupSession) Ref() SessionRef {
	return SessionRef{RoomID: s.RoomID, SessionID: s.SessionID}
}

// SenderClaimedKeys carries the sender's claimed signing keys inside a
// backed-up session payload.
type SenderClaimedKeys struct {
	Ed25519 string `json:"ed25519"`
}

// MegolmSessionData is the decrypted session_data of a backup record.
type MegolmSessionData struct {
	Algorithm          string            `json:"algorithm"`
	ForwardingKeyChain []string          `json:"forwarding_curve25519_key_chain"`
	SenderClaimedKeys  SenderClaimedKeys `json:"sender_claimed_keys"`
	SenderKey          string            `json:"sender_key"`
	SessionKey         string            `json:"session_key"`
	FirstKnownIndex    uint32            `json:"first_known_index"`
}

// RestoreResult summarises a restore run. Total is the full session count
// regardless of failures; Imported is the cumulative success count.
type RestoreResult struct {
	Total    int `json:"total"`
	Imported int `json:"imported"`
}

// Restore progress stages.
const (
	RestoreStageFetch    = "fetch"
	RestoreStageLoadKeys = "load_keys"
)

// RestoreProgress is reported after the backup fetch and after each
// imported chunk. Counts are cumulative.
type RestoreProgress struct {
	Stage     string `json:"stage"`
	Total     int    `json:"total"`
	Successes int    `json:"successes"`
	Failures  int    `json:"failures"`
}
