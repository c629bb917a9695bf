package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"keyward/internal/domain"
	"keyward/internal/util/memzero"
)

// Domain-separation string for the backup record KDF.
const sealInfo = "keyward-backup-record-v1"

var errBadRecord = errors.New("crypto: corrupt session record")

// sealKeys derives the AES key, MAC key and IV from an ECDH shared secret.
func sealKeys(shared []byte) (aesKey, macKey, iv []byte, err error) {
	r := hkdf.New(sha256.New, shared, nil, []byte(sealInfo))
	buf := make([]byte, 32+32+aes.BlockSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, nil, nil, err
	}
	return buf[:32], buf[32:64], buf[64:], nil
}

// EncryptSessionData seals plaintext to the backup public key: ephemeral
// X25519, HKDF-SHA256, AES-256-CBC, HMAC-SHA256 over the ciphertext.
func (e *Engine) EncryptSessionData(backupPub string, plaintext []byte) (domain.SessionData, error) {
	pub, err := decodePublic(backupPub)
	if err != nil {
		return domain.SessionData{}, err
	}

	var eph [32]byte
	if _, err := rand.Read(eph[:]); err != nil {
		return domain.SessionData{}, err
	}
	clamp(&eph)
	defer memzero.Zero32(&eph)

	ephPub, err := curve25519.X25519(eph[:], curve25519.Basepoint)
	if err != nil {
		return domain.SessionData{}, err
	}
	shared, err := curve25519.X25519(eph[:], pub)
	if err != nil {
		return domain.SessionData{}, err
	}
	defer memzero.Zero(shared)

	aesKey, macKey, iv, err := sealKeys(shared)
	if err != nil {
		return domain.SessionData{}, err
	}
	defer memzero.Zero(aesKey)
	defer memzero.Zero(macKey)

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return domain.SessionData{}, err
	}
	padded := pad(plaintext, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(ct)

	return domain.SessionData{
		Ciphertext: b64.EncodeToString(ct),
		MAC:        b64.EncodeToString(mac.Sum(nil)),
		Ephemeral:  b64.EncodeToString(ephPub),
	}, nil
}

// DecryptSessionData opens a sealed session record with the backup private
// scalar. Any malformed field or MAC mismatch yields a corrupt-record error.
func (e *Engine) DecryptSessionData(priv [32]byte, data domain.SessionData) ([]byte, error) {
	eph, err := b64.DecodeString(data.Ephemeral)
	if err != nil || len(eph) != 32 {
		return nil, errBadRecord
	}
	ct, err := b64.DecodeString(data.Ciphertext)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, errBadRecord
	}
	wantMAC, err := b64.DecodeString(data.MAC)
	if err != nil {
		return nil, errBadRecord
	}

	shared, err := curve25519.X25519(priv[:], eph)
	if err != nil {
		return nil, errBadRecord
	}
	defer memzero.Zero(shared)

	aesKey, macKey, iv, err := sealKeys(shared)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(aesKey)
	defer memzero.Zero(macKey)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(ct)
	if !hmac.Equal(mac.Sum(nil), wantMAC) {
		return nil, errBadRecord
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	return unpad(pt, aes.BlockSize)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte(nil), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errBadRecord
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errBadRecord
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errBadRecord
		}
	}
	return b[:len(b)-n], nil
}
