// Package trust resolves device, user and key-backup trust from the
// cross-signing hierarchy.
//
// A device is trusted when explicitly verified locally or when its keys
// are signed by a trusted self-signing key; the chain is bounded to two
// hops and terminates at the local master key (own devices) or the local
// user-signing key (other users' self-signing keys). Backup trust is
// disjunctive over the backup's signatures, with an independent check that
// the cached decryption key matches the backup's public key and algorithm.
package trust
