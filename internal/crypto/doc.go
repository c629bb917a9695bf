// Package crypto is the default CryptoEngine used by keyward.
//
// Contents
//
//   - Ed25519 key generation, signing and verification over canonical
//     payloads (GenerateSigningKey, Sign, Verify)
//   - Curve25519 backup key pairs and public-key derivation
//     (GenerateBackupKey, BackupPublicKey)
//   - Session-record sealing for the key backup: ephemeral X25519,
//     HKDF-SHA256, AES-256-CBC with HMAC-SHA256
//     (EncryptSessionData, DecryptSessionData)
//   - Recovery-key encoding and decoding (RecoveryKeyFromKey,
//     DeriveKeyFromRecoveryKey)
//
// # Notes
//
// Keys and signatures are unpadded base64 strings matching the wire
// encoding. Secrets are wiped best-effort via memzero when their scope
// ends. The subsystem consumes this package only through the
// domain.CryptoEngine interface, keeping it substitutable in tests.
package crypto
