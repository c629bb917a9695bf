// Package memzero provides best-effort wiping of key material.
package memzero

import "crypto/subtle"

// Zero overwrites b with zeros in a constant-time friendly way.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}

// Zero32 wipes a fixed-size key array in place.
func Zero32(b *[32]byte) {
	Zero(b[:])
}
