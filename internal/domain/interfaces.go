package domain

import (
	"context"
	"encoding/json"
)

// CryptoEngine is the injected cryptographic capability. The subsystem
// orchestrates trust and custody decisions only; all primitive crypto is
// delegated here so it stays independently substitutable and mockable.
type CryptoEngine interface {
	// GenerateSigningKey returns a fresh ed25519 key pair as unpadded
	// base64 (seed, public).
	GenerateSigningKey() (priv, pub string, err error)
	// Sign signs the canonical payload with an ed25519 seed.
	Sign(priv string, payload []byte) (string, error)
	// Verify checks an ed25519 signature over a canonical payload.
	Verify(pub string, payload []byte, sig string) bool

	// GenerateBackupKey returns a fresh curve25519 backup key pair.
	GenerateBackupKey() (priv [32]byte, pub string, err error)
	// BackupPublicKey derives the public key of a backup private scalar.
	BackupPublicKey(priv [32]byte) string
	// DeriveKeyFromRecoveryKey decodes a recovery key into the backup
	// private scalar. Decode failures wrap ErrInvalidRecoveryKey.
	DeriveKeyFromRecoveryKey(recoveryKey string) ([32]byte, error)
	// RecoveryKeyFromKey encodes a backup private scalar as a recovery key.
	RecoveryKeyFromKey(priv [32]byte) string

	// EncryptSessionData seals a plaintext session payload to the backup
	// public key.
	EncryptSessionData(backupPub string, plaintext []byte) (SessionData, error)
	// DecryptSessionData opens a backed-up session payload.
	DecryptSessionData(priv [32]byte, data SessionData) ([]byte, error)
}

// OlmSessions is the injected to-device session capability: it owns the
// double-ratchet state for point-to-point encryption.
type OlmSessions interface {
	// HasSession reports whether an established session exists for the
	// peer identity key.
	HasSession(identityKey string) bool
	// CreateOutboundSession establishes a session using a claimed
	// one-time key.
	CreateOutboundSession(identityKey, oneTimeKey string) error
	// Encrypt produces an olm message for the peer.
	Encrypt(identityKey string, plaintext []byte) (OlmCiphertext, error)
	// Decrypt opens an olm message from the peer.
	Decrypt(senderKey string, msg OlmCiphertext) ([]byte, error)
}

// DeviceStore is the device-list collaborator: identity keys, signatures
// and verified flags, plus each user's published cross-signing keys.
type DeviceStore interface {
	Device(user UserID, device DeviceID) (DeviceIdentity, bool, error)
	Devices(user UserID) ([]DeviceIdentity, error)
	SaveDevice(d DeviceIdentity) error
	SetDeviceVerified(user UserID, device DeviceID, verified bool) error

	CrossSigningKeys(user UserID) (CrossSigningKeys, bool, error)
	SaveCrossSigningKeys(keys CrossSigningKeys) error
}

// SessionStore owns the local group-session records and the pending-upload
// set. The pending set never contains duplicate (room, session) entries;
// entries are removed only on confirmed server acceptance for the current
// version.
type SessionStore interface {
	Session(room RoomID, session SessionID) (InboundGroupSession, bool, error)
	// ImportSession stores a session idempotently: a known (room, session)
	// pair is only replaced by a copy with more history or better trust.
	// It reports whether the store changed.
	ImportSession(s InboundGroupSession) (bool, error)

	Pending() ([]SessionRef, error)
	AddPending(refs ...SessionRef) error
	RemovePending(refs ...SessionRef) error
	// MarkAllPending rebuilds the pending set from every locally known
	// session, used after a version rotation invalidates prior uploads.
	MarkAllPending() error
}

// BackupStore persists the backup state owned exclusively by this
// subsystem: the active version and the cached decryption key.
type BackupStore interface {
	ActiveVersion() (string, bool, error)
	SetActiveVersion(version string) error
	ClearActiveVersion() error

	DecryptionKey() (BackupDecryptionKey, bool, error)
	SaveDecryptionKey(key BackupDecryptionKey) error
	ClearDecryptionKey() error
}

// CrossSigningStore persists the local account and the private half of the
// cross-signing hierarchy.
type CrossSigningStore interface {
	Account() (Account, bool, error)
	SaveAccount(a Account) error

	PrivateKeys() (CrossSigningPrivateKeys, bool, error)
	SavePrivateKeys(keys CrossSigningPrivateKeys) error
}

// SecretCache is the optional secret-storage collaborator; it answers
// whether the cross-signing private keys and backup key are recoverable
// from server-side secret storage.
type SecretCache interface {
	HasCrossSigningPrivateKeys(ctx context.Context) (bool, error)
	CachedBackupKey(ctx context.Context) (BackupDecryptionKey, bool, error)
}

// CrossSigningUpload is the body of POST /keys/device_signing/upload.
// Auth is opaque and passed through verbatim.
type CrossSigningUpload struct {
	MasterKey      CrossSigningKey `json:"master_key"`
	SelfSigningKey CrossSigningKey `json:"self_signing_key"`
	UserSigningKey CrossSigningKey `json:"user_signing_key"`
	Auth           json.RawMessage `json:"auth,omitempty"`
}

// SignaturesUpload is the body of POST /keys/signatures/upload: signed key
// objects grouped by user and key id.
type SignaturesUpload map[UserID]map[string]json.RawMessage

// ServerClient is the wire contract with the homeserver.
type ServerClient interface {
	// GetBackupInfo fetches the current backup metadata; absence of a
	// backup is ErrNotFound.
	GetBackupInfo(ctx context.Context) (BackupInfo, error)
	// PutRoomKeys bulk-uploads encrypted session records against a
	// version; a stale version is a *VersionConflictError.
	PutRoomKeys(ctx context.Context, version string, keys RoomKeysBackup) error
	// GetRoomKeys downloads the complete backup for a version.
	GetRoomKeys(ctx context.Context, version string) (RoomKeysBackup, error)
	// GetRoomKey downloads a single backed-up session.
	GetRoomKey(ctx context.Context, version string, room RoomID, session SessionID) (BackedUpSessionRecord, error)

	// UploadCrossSigningKeys publishes the triplet; pending auth is a
	// *AuthRequiredError.
	UploadCrossSigningKeys(ctx context.Context, up CrossSigningUpload) error
	// UploadSignatures publishes device/key signatures.
	UploadSignatures(ctx context.Context, up SignaturesUpload) error

	// ClaimOneTimeKey claims a one-time key for a device.
	ClaimOneTimeKey(ctx context.Context, user UserID, device DeviceID) (string, error)
	// SendToDevice delivers an encrypted to-device batch.
	SendToDevice(ctx context.Context, batch ToDeviceBatch) error
}
