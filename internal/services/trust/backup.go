package trust

import (
	"keyward/internal/canonicaljson"
	"keyward/internal/domain"
)

// IsKeyBackupTrusted evaluates a backup's trustworthiness. The two verdict
// booleans are independent: Trusted is true when any one signature from a
// trusted device or cross-signing key verifies (disjunctive trust);
// MatchesDecryptionKey is true when the cached decryption key derives the
// backup's public key and the algorithm is the supported one. A backup
// without signatures yields a zero verdict, never an error.
func (r *Resolver) IsKeyBackupTrusted(info domain.BackupInfo) (domain.TrustVerdict, error) {
	var verdict domain.TrustVerdict
	if len(info.Signatures) == 0 {
		return verdict, nil
	}

	verdict.MatchesDecryptionKey = r.decryptionKeyMatches(info)

	payload, err := canonicaljson.SigningPayload(info)
	if err != nil {
		return verdict, err
	}

	for signer, keySigs := range info.Signatures {
		for keyID, sig := range keySigs {
			if keyID.Algorithm() != domain.KeyAlgorithmEd25519 {
				continue
			}
			trusted, pub, err := r.signerTrusted(signer, keyID)
			if err != nil {
				return verdict, err
			}
			if trusted && r.engine.Verify(pub, payload, sig) {
				verdict.Trusted = true
				return verdict, nil
			}
		}
	}
	return verdict, nil
}

// decryptionKeyMatches checks the cached key against the backup metadata.
// An algorithm mismatch forces false even on key match: a differing
// algorithm implies an incompatible backup format.
func (r *Resolver) decryptionKeyMatches(info domain.BackupInfo) bool {
	if info.Algorithm != domain.AlgorithmBackup {
		return false
	}
	key, ok, err := r.backup.DecryptionKey()
	if err != nil || !ok {
		return false
	}
	return r.engine.BackupPublicKey(key.Key) == info.PublicKey
}

// signerTrusted resolves a signature's origin to a trusted device or
// cross-signing key, returning the verifying public key.
func (r *Resolver) signerTrusted(signer domain.UserID, keyID domain.KeyID) (bool, string, error) {
	ident := keyID.Ident()

	if keys, ok, err := r.devices.CrossSigningKeys(signer); err != nil {
		return false, "", err
	} else if ok && keys.Master.PublicKey == ident {
		trusted, err := r.UserTrusted(signer)
		return trusted, keys.Master.PublicKey, err
	}

	device, ok, err := r.devices.Device(signer, domain.DeviceID(ident))
	if err != nil || !ok {
		return false, "", err
	}
	trusted, err := r.DeviceTrusted(device)
	return trusted, device.SigningKey, err
}
