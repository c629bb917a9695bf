package domain

// Signatures maps signer user id to key id to unpadded-base64 signature.
type Signatures map[UserID]map[KeyID]string

// Add records a signature, allocating the inner map as needed.
func (s Signatures) Add(signer UserID, key KeyID, sig string) {
	m, ok := s[signer]
	if !ok {
		m = make(map[KeyID]string)
		s[signer] = m
	}
	m[key] = sig
}

// Get returns the signature by signer and key id, if present.
func (s Signatures) Get(signer UserID, key KeyID) (string, bool) {
	sig, ok := s[signer][key]
	return sig, ok
}

// Cross-signing key usages.
const (
	UsageMaster      = "master"
	UsageSelfSigning = "self_signing"
	UsageUserSigning = "user_signing"
)

// CrossSigningKey is one public key of the cross-signing hierarchy.
// Its canonical id is its own public key material.
type CrossSigningKey struct {
	UserID     UserID     `json:"user_id"`
	Usage      []string   `json:"usage"`
	PublicKey  string     `json:"public_key"`
	Signatures Signatures `json:"signatures,omitempty"`
}

// KeyID returns the ed25519 key id of the cross-signing key.
func (k CrossSigningKey) KeyID() KeyID {
	return NewKeyID(KeyAlgorithmEd25519, k.PublicKey)
}

// HasUsage reports whether the key carries the given usage.
func (k CrossSigningKey) HasUsage(usage string) bool {
	for _, u := range k.Usage {
		if u == usage {
			return true
		}
	}
	return false
}

// CrossSigningKeys is the published triplet for one user. A destructive
// reset replaces all three atomically; they are never patched one by one.
type CrossSigningKeys struct {
	Master      CrossSigningKey `json:"master_key"`
	SelfSigning CrossSigningKey `json:"self_signing_key"`
	UserSigning CrossSigningKey `json:"user_signing_key"`
}

// CrossSigningPrivateKeys is the locally cached private half of the triplet,
// as unpadded-base64 ed25519 seeds.
type CrossSigningPrivateKeys struct {
	Master      string `json:"master,omitempty"`
	SelfSigning string `json:"self_signing,omitempty"`
	UserSigning string `json:"user_signing,omitempty"`
}

// CrossSigningKeyType selects one key of the hierarchy.
type CrossSigningKeyType string

const (
	KeyTypeMaster      CrossSigningKeyType = "master"
	KeyTypeSelfSigning CrossSigningKeyType = "self_signing"
	KeyTypeUserSigning CrossSigningKeyType = "user_signing"
)

// CrossSigningStatus reports where the hierarchy's key material currently
// lives. Each boolean is computed independently and never cached.
type CrossSigningStatus struct {
	PublicKeysOnDevice         bool                `json:"public_keys_on_device"`
	PrivateKeysInSecretStorage bool                `json:"private_keys_in_secret_storage"`
	PrivateKeysCachedLocally   PrivateKeysCachedOn `json:"private_keys_cached_locally"`
}

// PrivateKeysCachedOn reports per-key local cache presence.
type PrivateKeysCachedOn struct {
	MasterKey      bool `json:"master_key"`
	SelfSigningKey bool `json:"self_signing_key"`
	UserSigningKey bool `json:"user_signing_key"`
}
