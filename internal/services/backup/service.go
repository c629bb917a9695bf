package backup

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"keyward/internal/domain"
	"keyward/internal/notify"
)

// TrustEvaluator is the verdict source consulted whenever server backup
// metadata changes.
type TrustEvaluator interface {
	IsKeyBackupTrusted(info domain.BackupInfo) (domain.TrustVerdict, error)
}

// DelayFunc produces one delay. The pre-upload jitter and the retry
// backoff are injectable so tests can force them to zero.
type DelayFunc func() time.Duration

// Status is a snapshot of the backup state machine: Disabled, or Active
// with the version and its trust verdict.
type Status struct {
	Enabled bool
	Version string
	Trust   domain.TrustVerdict
}

// Service owns the backup version state machine, the background upload
// loop and the restore engine. Shared mutable state (pending-upload set,
// active version, cached decryption key) is owned exclusively here;
// external callers read snapshots or submit imports through its methods.
type Service struct {
	client   domain.ServerClient
	engine   domain.CryptoEngine
	trust    TrustEvaluator
	sessions domain.SessionStore
	store    domain.BackupStore
	bus      *notify.Bus
	log      *zap.Logger

	jitter  DelayFunc
	backoff DelayFunc

	mu      sync.Mutex
	version string // "" while Disabled
	info    domain.BackupInfo
	verdict domain.TrustVerdict

	check singleflight.Group

	fetchMu   sync.Mutex
	requested map[domain.SessionRef]struct{}

	wake    chan struct{}
	started sync.Once
}

// Option tweaks Service construction.
type Option func(*Service)

// WithJitter replaces the pre-upload desync delay generator.
func WithJitter(d DelayFunc) Option { return func(s *Service) { s.jitter = d } }

// WithBackoff replaces the retry delay generator.
func WithBackoff(d DelayFunc) Option { return func(s *Service) { s.backoff = d } }

// New constructs the backup Service.
func New(
	client domain.ServerClient,
	engine domain.CryptoEngine,
	trust TrustEvaluator,
	sessions domain.SessionStore,
	store domain.BackupStore,
	bus *notify.Bus,
	log *zap.Logger,
	opts ...Option,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = notify.NewBus()
	}
	s := &Service{
		client:    client,
		engine:    engine,
		trust:     trust,
		sessions:  sessions,
		store:     store,
		bus:       bus,
		log:       log,
		jitter:    func() time.Duration { return rand.N(10 * time.Second) },
		backoff:   func() time.Duration { return 5 * time.Second },
		requested: make(map[domain.SessionRef]struct{}),
		wake:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Notifications returns the service's notification bus.
func (s *Service) Notifications() *notify.Bus { return s.bus }

// Status returns a snapshot of the state machine.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Enabled: s.version != "", Version: s.version, Trust: s.verdict}
}

// CheckAndEnable fetches the current backup metadata, evaluates its trust
// and transitions the state machine. Absence of a backup is a valid
// Disabled state, not an error. Concurrent calls collapse into a single
// in-flight query.
func (s *Service) CheckAndEnable(ctx context.Context) (Status, error) {
	v, err, _ := s.check.Do("check", func() (any, error) {
		return s.checkAndEnable(ctx)
	})
	if err != nil {
		return Status{}, err
	}
	return v.(Status), nil
}

func (s *Service) checkAndEnable(ctx context.Context) (Status, error) {
	info, err := s.client.GetBackupInfo(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		s.transitionDisabled()
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}

	verdict, err := s.trust.IsKeyBackupTrusted(info)
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.version
	if prev != "" && prev != info.Version {
		// A rotated version invalidates the previously cached decryption
		// key unless the caller re-tags it for the new version.
		if key, ok, err := s.store.DecryptionKey(); err == nil && ok && key.Version != info.Version {
			if err := s.store.ClearDecryptionKey(); err != nil {
				s.log.Warn("clearing stale decryption key failed", zap.Error(err))
			}
		}
		s.fetchMu.Lock()
		s.requested = make(map[domain.SessionRef]struct{})
		s.fetchMu.Unlock()
	}

	if !verdict.Trusted {
		if prev != "" {
			s.version = ""
			s.info = domain.BackupInfo{}
			if err := s.store.ClearActiveVersion(); err != nil {
				return Status{}, err
			}
			s.bus.Publish(notify.Event{Kind: notify.BackupDisabled})
		}
		s.verdict = verdict
		return Status{Trust: verdict}, nil
	}

	s.version = info.Version
	s.info = info
	s.verdict = verdict
	if err := s.store.SetActiveVersion(info.Version); err != nil {
		return Status{}, err
	}
	if prev != info.Version {
		s.bus.Publish(notify.Event{Kind: notify.BackupEnabled, Version: info.Version})
	}
	s.wakeUploader()
	return Status{Enabled: true, Version: info.Version, Trust: verdict}, nil
}

// transitionDisabled moves to Disabled, emitting the notification only on
// an actual Active-to-Disabled transition.
func (s *Service) transitionDisabled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version == "" {
		return
	}
	s.version = ""
	s.info = domain.BackupInfo{}
	s.verdict = domain.TrustVerdict{}
	if err := s.store.ClearActiveVersion(); err != nil {
		s.log.Warn("clearing active version failed", zap.Error(err))
	}
	s.bus.Publish(notify.Event{Kind: notify.BackupDisabled})
}

// CacheDecryptionKey tags and stores a backup decryption key for a
// version, making it usable by the trust evaluator and on-demand restore.
func (s *Service) CacheDecryptionKey(key [32]byte, version string) error {
	return s.store.SaveDecryptionKey(domain.BackupDecryptionKey{Key: key, Version: version})
}

// ImportSessions imports locally learned group sessions, marks them
// pending for backup and nudges the upload loop. Keys imported while an
// upload is in flight are picked up by the next iteration.
func (s *Service) ImportSessions(sessions ...domain.InboundGroupSession) error {
	refs := make([]domain.SessionRef, 0, len(sessions))
	for _, sess := range sessions {
		if _, err := s.sessions.ImportSession(sess); err != nil {
			return err
		}
		refs = append(refs, sess.Ref())
	}
	if err := s.sessions.AddPending(refs...); err != nil {
		return err
	}
	s.wakeUploader()
	return nil
}

// RequestSession recovers a single missing session from the backup,
// triggered by an undecryptable-event report. Lookups are memoized per
// unresolved (room, session) pair: once issued, further reports for the
// same pair do not cause a second network request.
func (s *Service) RequestSession(ctx context.Context, room domain.RoomID, session domain.SessionID) error {
	ref := domain.SessionRef{RoomID: room, SessionID: session}

	s.fetchMu.Lock()
	if _, issued := s.requested[ref]; issued {
		s.fetchMu.Unlock()
		return nil
	}
	s.requested[ref] = struct{}{}
	s.fetchMu.Unlock()

	// Nothing was issued if the preconditions fail; drop the latch so a
	// later report retries once the backup or its key shows up.
	unlatch := func() {
		s.fetchMu.Lock()
		delete(s.requested, ref)
		s.fetchMu.Unlock()
	}

	s.mu.Lock()
	version := s.version
	s.mu.Unlock()
	if version == "" {
		unlatch()
		return nil
	}
	key, ok, err := s.store.DecryptionKey()
	if err != nil {
		unlatch()
		return err
	}
	if !ok || key.Version != version {
		unlatch()
		return nil
	}

	record, err := s.client.GetRoomKey(ctx, version, room, session)
	if err != nil {
		return err
	}
	sess, err := s.decryptRecord(key.Key, room, session, record)
	if err != nil {
		return err
	}
	if _, err := s.sessions.ImportSession(sess); err != nil {
		return err
	}

	// Resolved; forget the latch so the map stays bounded.
	s.fetchMu.Lock()
	delete(s.requested, ref)
	s.fetchMu.Unlock()
	s.log.Debug("recovered session from backup",
		zap.String("room_id", string(room)),
		zap.String("session_id", string(session)))
	return nil
}

// decryptRecord opens one backed-up record into a local session.
func (s *Service) decryptRecord(key [32]byte, room domain.RoomID, session domain.SessionID, record domain.BackedUpSessionRecord) (domain.InboundGroupSession, error) {
	plaintext, err := s.engine.DecryptSessionData(key, record.SessionData)
	if err != nil {
		return domain.InboundGroupSession{}, err
	}
	var data domain.MegolmSessionData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return domain.InboundGroupSession{}, err
	}
	return domain.InboundGroupSession{
		RoomID:           room,
		SessionID:        session,
		SenderKey:        data.SenderKey,
		SenderClaimedKey: data.SenderClaimedKeys.Ed25519,
		SessionKey:       data.SessionKey,
		FirstKnownIndex:  data.FirstKnownIndex,
		ForwardedCount:   len(data.ForwardingKeyChain),
		Verified:         record.IsVerified,
	}, nil
}
