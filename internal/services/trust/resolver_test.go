package trust_test

import (
	"testing"

	"keyward/internal/canonicaljson"
	"keyward/internal/crypto"
	"keyward/internal/domain"
	"keyward/internal/services/trust"
	"keyward/internal/store"
)

const (
	alice = domain.UserID("@alice:example.org")
	bob   = domain.UserID("@bob:example.org")
)

// fixture is a store populated with a full cross-signing hierarchy for
// alice (the local user) and bob, with the private seeds kept around so
// tests can mint further signatures.
type fixture struct {
	t      *testing.T
	store  *store.FileStore
	engine *crypto.Engine

	alicePriv privTriplet
	bobPriv   privTriplet
}

type privTriplet struct {
	master, ssk, usk string
}

func sign(t *testing.T, e *crypto.Engine, priv string, obj any) string {
	t.Helper()
	payload, err := canonicaljson.SigningPayload(obj)
	if err != nil {
		t.Fatalf("signing payload: %v", err)
	}
	sig, err := e.Sign(priv, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, store: store.NewFileStore(t.TempDir()), engine: crypto.New()}
	if err := f.store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}

	if err := f.store.SaveAccount(domain.Account{
		UserID:   alice,
		DeviceID: "ALPHA",
	}); err != nil {
		t.Fatalf("save account: %v", err)
	}

	f.alicePriv = f.hierarchy(alice)
	f.bobPriv = f.hierarchy(bob)

	// Alice vouches for bob: her user-signing key signs his master key
	// and his self-signing key.
	bobKeys, _, err := f.store.CrossSigningKeys(bob)
	if err != nil {
		t.Fatalf("load bob keys: %v", err)
	}
	aliceKeys, _, err := f.store.CrossSigningKeys(alice)
	if err != nil {
		t.Fatalf("load alice keys: %v", err)
	}
	if bobKeys.Master.Signatures == nil {
		bobKeys.Master.Signatures = domain.Signatures{}
	}
	if bobKeys.SelfSigning.Signatures == nil {
		bobKeys.SelfSigning.Signatures = domain.Signatures{}
	}
	bobKeys.Master.Signatures.Add(alice, aliceKeys.UserSigning.KeyID(),
		sign(t, f.engine, f.alicePriv.usk, stripped(bobKeys.Master)))
	bobKeys.SelfSigning.Signatures.Add(alice, aliceKeys.UserSigning.KeyID(),
		sign(t, f.engine, f.alicePriv.usk, stripped(bobKeys.SelfSigning)))
	if err := f.store.SaveCrossSigningKeys(bobKeys); err != nil {
		t.Fatalf("save bob keys: %v", err)
	}
	return f
}

// stripped clears the signature map so a freshly minted signature covers
// the same payload the resolver will reconstruct.
func stripped(k domain.CrossSigningKey) domain.CrossSigningKey {
	k.Signatures = nil
	return k
}

// hierarchy mints and stores the master/self-signing/user-signing triplet
// for user, with the subordinate keys signed by the master.
func (f *fixture) hierarchy(user domain.UserID) privTriplet {
	f.t.Helper()
	e := f.engine

	masterPriv, masterPub, err := e.GenerateSigningKey()
	if err != nil {
		f.t.Fatalf("generate master: %v", err)
	}
	sskPriv, sskPub, err := e.GenerateSigningKey()
	if err != nil {
		f.t.Fatalf("generate ssk: %v", err)
	}
	uskPriv, uskPub, err := e.GenerateSigningKey()
	if err != nil {
		f.t.Fatalf("generate usk: %v", err)
	}

	master := domain.CrossSigningKey{
		UserID: user, Usage: []string{domain.UsageMaster}, PublicKey: masterPub,
		Signatures: domain.Signatures{},
	}
	ssk := domain.CrossSigningKey{
		UserID: user, Usage: []string{domain.UsageSelfSigning}, PublicKey: sskPub,
		Signatures: domain.Signatures{},
	}
	usk := domain.CrossSigningKey{
		UserID: user, Usage: []string{domain.UsageUserSigning}, PublicKey: uskPub,
		Signatures: domain.Signatures{},
	}
	ssk.Signatures.Add(user, master.KeyID(), sign(f.t, e, masterPriv, stripped(ssk)))
	usk.Signatures.Add(user, master.KeyID(), sign(f.t, e, masterPriv, stripped(usk)))

	if err := f.store.SaveCrossSigningKeys(domain.CrossSigningKeys{
		Master: master, SelfSigning: ssk, UserSigning: usk,
	}); err != nil {
		f.t.Fatalf("save hierarchy: %v", err)
	}
	return privTriplet{master: masterPriv, ssk: sskPriv, usk: uskPriv}
}

// device mints a device for user, optionally cross-signed with sskPriv.
func (f *fixture) device(user domain.UserID, id domain.DeviceID, sskPriv string) domain.DeviceIdentity {
	f.t.Helper()
	_, signPub, err := f.engine.GenerateSigningKey()
	if err != nil {
		f.t.Fatalf("generate device key: %v", err)
	}
	d := domain.DeviceIdentity{
		UserID:     user,
		DeviceID:   id,
		SigningKey: signPub,
		Signatures: domain.Signatures{},
	}
	if sskPriv != "" {
		keys, _, err := f.store.CrossSigningKeys(user)
		if err != nil {
			f.t.Fatalf("load keys: %v", err)
		}
		d.Signatures.Add(user, keys.SelfSigning.KeyID(),
			sign(f.t, f.engine, sskPriv, d.WireDeviceKeys()))
	}
	if err := f.store.SaveDevice(d); err != nil {
		f.t.Fatalf("save device: %v", err)
	}
	return d
}

func (f *fixture) resolver() *trust.Resolver {
	return trust.New(f.store, f.store, f.store, f.engine)
}

func TestDeviceTrusted_LocallyVerified(t *testing.T) {
	f := newFixture(t)
	d := f.device(alice, "BETA", "")
	d.Verified = true

	trusted, err := f.resolver().DeviceTrusted(d)
	if err != nil || !trusted {
		t.Fatalf("verified device untrusted: %v err=%v", trusted, err)
	}
}

func TestDeviceTrusted_OwnDevice_ViaSelfSigningChain(t *testing.T) {
	f := newFixture(t)

	signed := f.device(alice, "BETA", f.alicePriv.ssk)
	trusted, err := f.resolver().DeviceTrusted(signed)
	if err != nil || !trusted {
		t.Fatalf("cross-signed device untrusted: %v err=%v", trusted, err)
	}

	unsigned := f.device(alice, "GAMMA", "")
	trusted, err = f.resolver().DeviceTrusted(unsigned)
	if err != nil || trusted {
		t.Fatalf("unsigned device trusted: %v err=%v", trusted, err)
	}
}

func TestDeviceTrusted_OwnDevice_ForgedSignature(t *testing.T) {
	f := newFixture(t)

	// Signed by the wrong key under the self-signing key's id.
	d := f.device(alice, "BETA", f.alicePriv.usk)
	trusted, err := f.resolver().DeviceTrusted(d)
	if err != nil || trusted {
		t.Fatalf("forged signature accepted: %v err=%v", trusted, err)
	}
}

func TestDeviceTrusted_OtherUser_RequiresUserSigningChain(t *testing.T) {
	f := newFixture(t)

	d := f.device(bob, "BETA", f.bobPriv.ssk)
	trusted, err := f.resolver().DeviceTrusted(d)
	if err != nil || !trusted {
		t.Fatalf("bob's cross-signed device untrusted: %v err=%v", trusted, err)
	}
}

func TestUserTrusted(t *testing.T) {
	f := newFixture(t)
	r := f.resolver()

	if trusted, err := r.UserTrusted(alice); err != nil || !trusted {
		t.Fatalf("local user untrusted: %v err=%v", trusted, err)
	}
	if trusted, err := r.UserTrusted(bob); err != nil || !trusted {
		t.Fatalf("vouched-for user untrusted: %v err=%v", trusted, err)
	}
	if trusted, err := r.UserTrusted("@mallory:example.org"); err != nil || trusted {
		t.Fatalf("unknown user trusted: %v err=%v", trusted, err)
	}
}
