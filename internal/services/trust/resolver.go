package trust

import (
	"keyward/internal/canonicaljson"
	"keyward/internal/domain"
)

// Resolver answers device, user and backup trust questions from the local
// device list and cross-signing key material. Verdicts are computed fresh
// on every call; nothing is cached here.
type Resolver struct {
	devices domain.DeviceStore
	cross   domain.CrossSigningStore
	backup  domain.BackupStore
	engine  domain.CryptoEngine
}

// New constructs a Resolver.
func New(
	devices domain.DeviceStore,
	cross domain.CrossSigningStore,
	backup domain.BackupStore,
	engine domain.CryptoEngine,
) *Resolver {
	return &Resolver{
		devices: devices,
		cross:   cross,
		backup:  backup,
		engine:  engine,
	}
}

// DeviceTrusted reports whether a device is trusted: either explicitly
// verified locally, or signed by a self-signing key that is itself trusted.
// Resolution is transitive but bounded to a fixed two-hop chain: for the
// local user the chain terminates at the local master key; for another
// user their self-signing key must be signed by the local user-signing key.
func (r *Resolver) DeviceTrusted(device domain.DeviceIdentity) (bool, error) {
	if device.Verified {
		return true, nil
	}

	theirKeys, ok, err := r.devices.CrossSigningKeys(device.UserID)
	if err != nil || !ok {
		return false, err
	}
	ssk := theirKeys.SelfSigning

	signed, err := r.keySigned(device.WireDeviceKeys(), device.UserID, device.Signatures, ssk)
	if err != nil || !signed {
		return false, err
	}
	return r.selfSigningTrusted(device.UserID, theirKeys)
}

// selfSigningTrusted checks the second hop of the chain for user's
// self-signing key.
func (r *Resolver) selfSigningTrusted(user domain.UserID, theirKeys domain.CrossSigningKeys) (bool, error) {
	account, ok, err := r.cross.Account()
	if err != nil || !ok {
		return false, err
	}

	if user == account.UserID {
		// Our own device: the self-signing key must be signed by our
		// master key.
		return r.keySigned(theirKeys.SelfSigning, user, theirKeys.SelfSigning.Signatures, theirKeys.Master)
	}

	ourKeys, ok, err := r.devices.CrossSigningKeys(account.UserID)
	if err != nil || !ok {
		return false, err
	}
	return r.keySigned(theirKeys.SelfSigning, account.UserID, theirKeys.SelfSigning.Signatures, ourKeys.UserSigning)
}

// UserTrusted reports whether a user's identity is trusted: the local user
// whenever the hierarchy exists, another user when their master key is
// signed by the local user-signing key.
func (r *Resolver) UserTrusted(user domain.UserID) (bool, error) {
	account, ok, err := r.cross.Account()
	if err != nil || !ok {
		return false, err
	}
	ourKeys, ok, err := r.devices.CrossSigningKeys(account.UserID)
	if err != nil || !ok {
		return false, err
	}
	if user == account.UserID {
		return true, nil
	}

	theirKeys, ok, err := r.devices.CrossSigningKeys(user)
	if err != nil || !ok {
		return false, err
	}
	return r.keySigned(theirKeys.Master, account.UserID, theirKeys.Master.Signatures, ourKeys.UserSigning)
}

// keySigned verifies that signer has signed obj: the signature under
// (signerUser, signer key id) must verify over obj's canonical payload.
func (r *Resolver) keySigned(obj any, signerUser domain.UserID, sigs domain.Signatures, signer domain.CrossSigningKey) (bool, error) {
	sig, ok := sigs.Get(signerUser, signer.KeyID())
	if !ok {
		return false, nil
	}
	payload, err := canonicaljson.SigningPayload(obj)
	if err != nil {
		return false, err
	}
	return r.engine.Verify(signer.PublicKey, payload, sig), nil
}
