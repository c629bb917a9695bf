package backup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"keyward/internal/domain"
	"keyward/internal/notify"
)

// nextEvent reads one already-published event; Publish is synchronous, so
// anything emitted by a completed call is in the buffer.
func nextEvent(t *testing.T, ch <-chan notify.Event) notify.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return notify.Event{}
	}
}

func expectNoEvent(t *testing.T, ch <-chan notify.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func TestCheckAndEnable_NoBackup_IsDisabledNotError(t *testing.T) {
	h := newHarness(t)
	h.server.setInfo(domain.BackupInfo{}, domain.ErrNotFound)
	ch, cancel := h.bus.Subscribe()
	defer cancel()

	status, err := h.svc.CheckAndEnable(context.Background())
	if err != nil {
		t.Fatalf("missing backup treated as error: %v", err)
	}
	if status.Enabled {
		t.Fatal("enabled without a backup")
	}
	// Already disabled: no transition, no notification.
	expectNoEvent(t, ch)
}

func TestCheckAndEnable_Trusted_EnablesOnce(t *testing.T) {
	h := newHarness(t)
	h.trustedBackup(t, "1")
	ch, cancel := h.bus.Subscribe()
	defer cancel()

	status, err := h.svc.CheckAndEnable(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !status.Enabled || status.Version != "1" || !status.Trust.Trusted {
		t.Fatalf("unexpected status: %+v", status)
	}
	if v, ok, _ := h.store.ActiveVersion(); !ok || v != "1" {
		t.Fatalf("active version not persisted: %q ok=%v", v, ok)
	}
	if ev := nextEvent(t, ch); ev.Kind != notify.BackupEnabled || ev.Version != "1" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// Same version again: state unchanged, no second notification.
	if _, err := h.svc.CheckAndEnable(context.Background()); err != nil {
		t.Fatalf("re-check: %v", err)
	}
	expectNoEvent(t, ch)
}

func TestCheckAndEnable_Untrusted_DisablesActiveBackup(t *testing.T) {
	h := newHarness(t)
	h.trustedBackup(t, "1")
	if _, err := h.svc.CheckAndEnable(context.Background()); err != nil {
		t.Fatalf("enable: %v", err)
	}
	ch, cancel := h.bus.Subscribe()
	defer cancel()

	h.trust.set(domain.TrustVerdict{})
	status, err := h.svc.CheckAndEnable(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status.Enabled {
		t.Fatal("untrusted backup stayed enabled")
	}
	if _, ok, _ := h.store.ActiveVersion(); ok {
		t.Fatal("active version survived disable")
	}
	if ev := nextEvent(t, ch); ev.Kind != notify.BackupDisabled {
		t.Fatalf("unexpected event: %+v", ev)
	}
	expectNoEvent(t, ch)
}

func TestCheckAndEnable_BackupDeleted_DisablesWithNotification(t *testing.T) {
	h := newHarness(t)
	h.trustedBackup(t, "1")
	if _, err := h.svc.CheckAndEnable(context.Background()); err != nil {
		t.Fatalf("enable: %v", err)
	}
	ch, cancel := h.bus.Subscribe()
	defer cancel()

	h.server.setInfo(domain.BackupInfo{}, domain.ErrNotFound)
	status, err := h.svc.CheckAndEnable(context.Background())
	if err != nil {
		t.Fatalf("check after delete: %v", err)
	}
	if status.Enabled {
		t.Fatal("enabled after server-side delete")
	}
	if ev := nextEvent(t, ch); ev.Kind != notify.BackupDisabled {
		t.Fatalf("unexpected event: %+v", ev)
	}
	expectNoEvent(t, ch)
}

func TestCheckAndEnable_VersionRotation_InvalidatesStaleKey(t *testing.T) {
	h := newHarness(t)
	h.trustedBackup(t, "1")
	if _, err := h.svc.CheckAndEnable(context.Background()); err != nil {
		t.Fatalf("enable v1: %v", err)
	}
	if err := h.svc.CacheDecryptionKey([32]byte{1}, "1"); err != nil {
		t.Fatalf("cache key: %v", err)
	}
	ch, cancel := h.bus.Subscribe()
	defer cancel()

	h.trustedBackup(t, "2")
	status, err := h.svc.CheckAndEnable(context.Background())
	if err != nil {
		t.Fatalf("enable v2: %v", err)
	}
	if !status.Enabled || status.Version != "2" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if _, ok, _ := h.store.DecryptionKey(); ok {
		t.Fatal("key for the old version survived the rotation")
	}
	if ev := nextEvent(t, ch); ev.Kind != notify.BackupEnabled || ev.Version != "2" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestCheckAndEnable_NetworkFailure_IsAnError(t *testing.T) {
	h := newHarness(t)
	h.server.setInfo(domain.BackupInfo{}, errors.New("connection refused"))

	if _, err := h.svc.CheckAndEnable(context.Background()); err == nil {
		t.Fatal("network failure swallowed")
	}
}

func TestRequestSession_FetchesDecryptsAndImports(t *testing.T) {
	h := newHarness(t)
	priv := h.trustedBackup(t, "1")
	if _, err := h.svc.CheckAndEnable(context.Background()); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := h.svc.CacheDecryptionKey(priv, "1"); err != nil {
		t.Fatalf("cache key: %v", err)
	}

	want := domain.InboundGroupSession{
		RoomID:          "!room:example.org",
		SessionID:       "sess1",
		SessionKey:      "megolm+session+key",
		SenderKey:       "sender+curve",
		FirstKnownIndex: 4,
		Verified:        true,
	}
	h.server.records[want.Ref()] = sealRecord(t, h.engine, h.server.info.PublicKey, want)

	if err := h.svc.RequestSession(context.Background(), want.RoomID, want.SessionID); err != nil {
		t.Fatalf("request session: %v", err)
	}

	got, ok, err := h.store.Session(want.RoomID, want.SessionID)
	if err != nil || !ok {
		t.Fatalf("session not imported: ok=%v err=%v", ok, err)
	}
	if got.SessionKey != want.SessionKey || got.FirstKnownIndex != 4 || !got.Verified {
		t.Fatalf("imported session mismatch: %+v", got)
	}
}

func TestRequestSession_MemoizedPerPair(t *testing.T) {
	h := newHarness(t)
	priv := h.trustedBackup(t, "1")
	if _, err := h.svc.CheckAndEnable(context.Background()); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := h.svc.CacheDecryptionKey(priv, "1"); err != nil {
		t.Fatalf("cache key: %v", err)
	}

	// The record is absent, so the lookup fails and stays latched.
	room, sess := domain.RoomID("!room:example.org"), domain.SessionID("gone")
	if err := h.svc.RequestSession(context.Background(), room, sess); err == nil {
		t.Fatal("missing record did not error")
	}
	for range 3 {
		if err := h.svc.RequestSession(context.Background(), room, sess); err != nil {
			t.Fatalf("latched retry errored: %v", err)
		}
	}
	h.server.mu.Lock()
	calls := h.server.recordCalls
	h.server.mu.Unlock()
	if calls != 1 {
		t.Fatalf("got %d lookups for one pair, want 1", calls)
	}

	// A different pair is its own latch.
	_ = h.svc.RequestSession(context.Background(), room, "other")
	h.server.mu.Lock()
	calls = h.server.recordCalls
	h.server.mu.Unlock()
	if calls != 2 {
		t.Fatalf("got %d lookups for two pairs, want 2", calls)
	}
}

func TestRequestSession_WithoutKey_NoLookupAndNoLatch(t *testing.T) {
	h := newHarness(t)
	priv := h.trustedBackup(t, "1")
	if _, err := h.svc.CheckAndEnable(context.Background()); err != nil {
		t.Fatalf("enable: %v", err)
	}

	want := domain.InboundGroupSession{
		RoomID:     "!room:example.org",
		SessionID:  "sess1",
		SessionKey: "k",
	}
	h.server.records[want.Ref()] = sealRecord(t, h.engine, h.server.info.PublicKey, want)

	// No cached decryption key: nothing to decrypt with, no network.
	if err := h.svc.RequestSession(context.Background(), want.RoomID, want.SessionID); err != nil {
		t.Fatalf("request without key: %v", err)
	}
	h.server.mu.Lock()
	calls := h.server.recordCalls
	h.server.mu.Unlock()
	if calls != 0 {
		t.Fatalf("lookup issued without a usable key: %d calls", calls)
	}

	// Once the key shows up the same pair is fetched after all.
	if err := h.svc.CacheDecryptionKey(priv, "1"); err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if err := h.svc.RequestSession(context.Background(), want.RoomID, want.SessionID); err != nil {
		t.Fatalf("request with key: %v", err)
	}
	if _, ok, _ := h.store.Session(want.RoomID, want.SessionID); !ok {
		t.Fatal("session not imported")
	}
}
