package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"keyward/internal/domain"
	"keyward/internal/util/memzero"
)

// Engine is the default CryptoEngine implementation on top of stdlib
// ed25519 and x/crypto curve25519. Keys and signatures travel as unpadded
// base64 strings, matching the wire encoding.
type Engine struct{}

// New returns a ready Engine.
func New() *Engine { return &Engine{} }

var b64 = base64.RawStdEncoding

// GenerateSigningKey returns a fresh ed25519 key pair as (seed, public).
func (e *Engine) GenerateSigningKey() (priv, pub string, err error) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", err
	}
	seed := sk.Seed()
	priv = b64.EncodeToString(seed)
	pub = b64.EncodeToString(pk)
	memzero.Zero(seed)
	return priv, pub, nil
}

// Sign signs payload with an ed25519 seed.
func (e *Engine) Sign(priv string, payload []byte) (string, error) {
	seed, err := b64.DecodeString(priv)
	if err != nil || len(seed) != ed25519.SeedSize {
		return "", errors.New("crypto: bad signing key")
	}
	defer memzero.Zero(seed)
	sig := ed25519.Sign(ed25519.NewKeyFromSeed(seed), payload)
	return b64.EncodeToString(sig), nil
}

// Verify checks an ed25519 signature over payload.
func (e *Engine) Verify(pub string, payload []byte, sig string) bool {
	pk, err := b64.DecodeString(pub)
	if err != nil || len(pk) != ed25519.PublicKeySize {
		return false
	}
	sg, err := b64.DecodeString(sig)
	if err != nil || len(sg) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk), payload, sg)
}

// GenerateBackupKey returns a fresh curve25519 key pair for backup
// encryption. The private scalar is clamped per RFC 7748.
func (e *Engine) GenerateBackupKey() (priv [32]byte, pub string, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, "", err
	}
	clamp(&priv)
	return priv, e.BackupPublicKey(priv), nil
}

// BackupPublicKey derives the public half of a backup private scalar.
func (e *Engine) BackupPublicKey(priv [32]byte) string {
	pb, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return ""
	}
	return b64.EncodeToString(pb)
}

func clamp(k *[32]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

func decodePublic(pub string) ([]byte, error) {
	pb, err := b64.DecodeString(pub)
	if err != nil {
		return nil, fmt.Errorf("crypto: bad public key: %w", err)
	}
	if len(pb) != 32 {
		return nil, errors.New("crypto: bad public key size")
	}
	return pb, nil
}

var _ domain.CryptoEngine = (*Engine)(nil)
