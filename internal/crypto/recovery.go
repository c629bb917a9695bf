package crypto

import (
	"encoding/base32"
	"fmt"
	"strings"

	"keyward/internal/domain"
)

// Recovery keys are the human-transportable form of the backup private
// scalar: a two-byte prefix, the 32-byte scalar, and a parity byte chosen
// so the XOR of all bytes is zero, base32-encoded in blocks of four.
var (
	recoveryPrefix = [2]byte{0x8B, 0x01}
	recoveryEnc    = base32.StdEncoding.WithPadding(base32.NoPadding)
)

const recoveryLen = 2 + 32 + 1

// RecoveryKeyFromKey encodes a backup private scalar as a recovery key.
func (e *Engine) RecoveryKeyFromKey(priv [32]byte) string {
	buf := make([]byte, 0, recoveryLen)
	buf = append(buf, recoveryPrefix[0], recoveryPrefix[1])
	buf = append(buf, priv[:]...)
	var parity byte
	for _, b := range buf {
		parity ^= b
	}
	buf = append(buf, parity)

	raw := recoveryEnc.EncodeToString(buf)
	var blocks []string
	for len(raw) > 4 {
		blocks = append(blocks, raw[:4])
		raw = raw[4:]
	}
	blocks = append(blocks, raw)
	return strings.Join(blocks, " ")
}

// DeriveKeyFromRecoveryKey decodes a recovery key back into the backup
// private scalar. Whitespace is ignored; any structural defect wraps
// domain.ErrInvalidRecoveryKey.
func (e *Engine) DeriveKeyFromRecoveryKey(recoveryKey string) ([32]byte, error) {
	var key [32]byte
	compact := strings.ToUpper(strings.Join(strings.Fields(recoveryKey), ""))
	raw, err := recoveryEnc.DecodeString(compact)
	if err != nil {
		return key, fmt.Errorf("%w: %v", domain.ErrInvalidRecoveryKey, err)
	}
	if len(raw) != recoveryLen {
		return key, fmt.Errorf("%w: wrong length", domain.ErrInvalidRecoveryKey)
	}
	if raw[0] != recoveryPrefix[0] || raw[1] != recoveryPrefix[1] {
		return key, fmt.Errorf("%w: wrong prefix", domain.ErrInvalidRecoveryKey)
	}
	var parity byte
	for _, b := range raw {
		parity ^= b
	}
	if parity != 0 {
		return key, fmt.Errorf("%w: parity check failed", domain.ErrInvalidRecoveryKey)
	}
	copy(key[:], raw[2:34])
	return key, nil
}
