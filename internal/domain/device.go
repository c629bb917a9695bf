package domain

// DeviceIdentity is the public key material of one device of one user,
// plus the local verification flag. The flag is mutated only by explicit
// user trust actions and transitive trust recomputation.
type DeviceIdentity struct {
	UserID      UserID     `json:"user_id"`
	DeviceID    DeviceID   `json:"device_id"`
	IdentityKey string     `json:"identity_key"` // curve25519, unpadded base64
	SigningKey  string     `json:"signing_key"`  // ed25519, unpadded base64
	Signatures  Signatures `json:"signatures,omitempty"`
	Verified    bool       `json:"verified"`
}

// SigningKeyID returns the ed25519 key id of the device.
func (d DeviceIdentity) SigningKeyID() KeyID {
	return NewKeyID(KeyAlgorithmEd25519, string(d.DeviceID))
}

// Account is the local device's own identity, including private halves.
// It is created once by the init operation and read by everything else.
type Account struct {
	UserID   UserID   `json:"user_id"`
	DeviceID DeviceID `json:"device_id"`

	IdentityKey     string `json:"identity_key"` // curve25519 public
	IdentityKeyPriv string `json:"identity_key_priv"`
	SigningKey      string `json:"signing_key"` // ed25519 public
	SigningKeyPriv  string `json:"signing_key_priv"`
}

// DeviceKeys is the signable wire form of a device's keys, published to and
// fetched from the server.
type DeviceKeys struct {
	UserID     UserID           `json:"user_id"`
	DeviceID   DeviceID         `json:"device_id"`
	Algorithms []string         `json:"algorithms"`
	Keys       map[KeyID]string `json:"keys"`
	Signatures Signatures       `json:"signatures,omitempty"`
}

// WireDeviceKeys builds the signable wire form of a device identity.
func (d DeviceIdentity) WireDeviceKeys() DeviceKeys {
	return DeviceKeys{
		UserID:   d.UserID,
		DeviceID: d.DeviceID,
		Algorithms: []string{
			AlgorithmOlm,
			AlgorithmMegolm,
		},
		Keys: map[KeyID]string{
			NewKeyID(KeyAlgorithmCurve25519, string(d.DeviceID)): d.IdentityKey,
			NewKeyID(KeyAlgorithmEd25519, string(d.DeviceID)):    d.SigningKey,
		},
		Signatures: d.Signatures,
	}
}
