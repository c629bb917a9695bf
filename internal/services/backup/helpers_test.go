package backup_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"keyward/internal/crypto"
	"keyward/internal/domain"
	"keyward/internal/notify"
	backupsvc "keyward/internal/services/backup"
	"keyward/internal/store"
)

type putCall struct {
	version string
	payload domain.RoomKeysBackup
}

// fakeServer is a programmable homeserver double. All fields are guarded
// by mu; error queues are consumed one entry per call.
type fakeServer struct {
	domain.ServerClient

	mu sync.Mutex

	info      domain.BackupInfo
	infoErr   error
	infoCalls int

	putErrs []error
	puts    []putCall

	backup       domain.RoomKeysBackup
	backupErr    error
	getKeysCalls int

	records     map[domain.SessionRef]domain.BackedUpSessionRecord
	recordErr   error
	recordCalls int
}

func (f *fakeServer) GetBackupInfo(context.Context) (domain.BackupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	if f.infoErr != nil {
		return domain.BackupInfo{}, f.infoErr
	}
	return f.info, nil
}

func (f *fakeServer) setInfo(info domain.BackupInfo, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.info, f.infoErr = info, err
}

func (f *fakeServer) PutRoomKeys(_ context.Context, version string, keys domain.RoomKeysBackup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.putErrs) > 0 {
		err := f.putErrs[0]
		f.putErrs = f.putErrs[1:]
		if err != nil {
			return err
		}
	}
	f.puts = append(f.puts, putCall{version: version, payload: keys})
	return nil
}

func (f *fakeServer) putCalls() []putCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]putCall(nil), f.puts...)
}

func (f *fakeServer) GetRoomKeys(context.Context, string) (domain.RoomKeysBackup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getKeysCalls++
	return f.backup, f.backupErr
}

func (f *fakeServer) GetRoomKey(_ context.Context, _ string, room domain.RoomID, session domain.SessionID) (domain.BackedUpSessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordCalls++
	if f.recordErr != nil {
		return domain.BackedUpSessionRecord{}, f.recordErr
	}
	rec, ok := f.records[domain.SessionRef{RoomID: room, SessionID: session}]
	if !ok {
		return domain.BackedUpSessionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// stubTrust returns a fixed verdict, switchable mid-test.
type stubTrust struct {
	mu      sync.Mutex
	verdict domain.TrustVerdict
	err     error
}

func (s *stubTrust) IsKeyBackupTrusted(domain.BackupInfo) (domain.TrustVerdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verdict, s.err
}

func (s *stubTrust) set(v domain.TrustVerdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdict = v
}

type harness struct {
	svc    *backupsvc.Service
	server *fakeServer
	trust  *stubTrust
	store  *store.FileStore
	engine *crypto.Engine
	bus    *notify.Bus
}

// newHarness builds a Service over a real file store with no delays, so
// the upload loop spins without waiting in tests.
func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := store.NewFileStore(t.TempDir())
	if err := fs.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}
	server := &fakeServer{records: make(map[domain.SessionRef]domain.BackedUpSessionRecord)}
	tr := &stubTrust{}
	bus := notify.NewBus()
	engine := crypto.New()

	none := backupsvc.DelayFunc(func() time.Duration { return 0 })
	svc := backupsvc.New(server, engine, tr, fs, fs, bus, nil,
		backupsvc.WithJitter(none), backupsvc.WithBackoff(none))
	return &harness{svc: svc, server: server, trust: tr, store: fs, engine: engine, bus: bus}
}

// trustedBackup points the fake server at a trusted backup for version,
// encrypted to a fresh backup key, and returns the private scalar.
func (h *harness) trustedBackup(t *testing.T, version string) [32]byte {
	t.Helper()
	priv, pub, err := h.engine.GenerateBackupKey()
	if err != nil {
		t.Fatalf("generate backup key: %v", err)
	}
	h.server.setInfo(domain.BackupInfo{
		Version:   version,
		Algorithm: domain.AlgorithmBackup,
		PublicKey: pub,
	}, nil)
	h.trust.set(domain.TrustVerdict{Trusted: true})
	return priv
}

// sealRecord seals one session into a backed-up record for the given
// public key.
func sealRecord(t *testing.T, engine *crypto.Engine, pub string, sess domain.InboundGroupSession) domain.BackedUpSessionRecord {
	t.Helper()
	plaintext, err := json.Marshal(domain.MegolmSessionData{
		Algorithm:         domain.AlgorithmMegolm,
		SenderClaimedKeys: domain.SenderClaimedKeys{Ed25519: sess.SenderClaimedKey},
		SenderKey:         sess.SenderKey,
		SessionKey:        sess.SessionKey,
		FirstKnownIndex:   sess.FirstKnownIndex,
	})
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	data, err := engine.EncryptSessionData(pub, plaintext)
	if err != nil {
		t.Fatalf("seal session: %v", err)
	}
	return domain.BackedUpSessionRecord{
		FirstMessageIndex: sess.FirstKnownIndex,
		IsVerified:        sess.Verified,
		SessionData:       data,
	}
}

// collectEvents drains the bus in the background and returns a snapshot
// accessor.
func collectEvents(t *testing.T, bus *notify.Bus) func() []notify.Event {
	t.Helper()
	ch, cancel := bus.Subscribe()
	t.Cleanup(cancel)

	var mu sync.Mutex
	var events []notify.Event
	go func() {
		for ev := range ch {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	}()
	return func() []notify.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]notify.Event(nil), events...)
	}
}

func kinds(events []notify.Event) []notify.Kind {
	out := make([]notify.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}
