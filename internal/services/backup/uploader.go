package backup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"keyward/internal/domain"
	"keyward/internal/notify"
)

// Start launches the background upload loop. At most one loop runs per
// Service; repeated calls are no-ops. The loop stops when ctx is
// cancelled, letting any in-flight request settle rather than aborting it
// mid-write.
func (s *Service) Start(ctx context.Context) {
	s.started.Do(func() {
		go s.runUploadLoop(ctx)
	})
}

// wakeUploader nudges the loop without blocking; a pending nudge already
// covers newly arrived work (trailing-edge coalescing).
func (s *Service) wakeUploader() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) runUploadLoop(ctx context.Context) {
	// Bounded random delay before the first attempt desynchronises
	// multiple clients of the same account.
	if !sleepCtx(ctx, s.jitter()) {
		return
	}
	for {
		if err := s.uploadPass(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Network-level failure: pending set untouched, retry after
			// backoff. This never terminates the loop.
			s.log.Warn("key backup upload failed, will retry",
				zap.Error(err))
			if !sleepCtx(ctx, s.backoff()) {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
	}
}

// uploadPass drains the pending set against the active version. It returns
// nil when there is nothing (left) to do and an error only for transient
// failures the caller should back off on; version conflicts are absorbed
// here by re-checking trust and switching versions.
func (s *Service) uploadPass(ctx context.Context) error {
	for {
		s.mu.Lock()
		version, info := s.version, s.info
		s.mu.Unlock()
		if version == "" {
			return nil
		}

		pending, err := s.sessions.Pending()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		payload, uploaded, err := s.buildPayload(info.PublicKey, pending)
		if err != nil {
			return err
		}

		// Let this request settle even if the client is shutting down, so
		// the pending set stays consistent with what the server accepted.
		err = s.client.PutRoomKeys(context.WithoutCancel(ctx), version, payload)
		var conflict *domain.VersionConflictError
		if errors.As(err, &conflict) {
			if err := s.handleConflict(ctx, conflict); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		if err := s.sessions.RemovePending(uploaded...); err != nil {
			return err
		}
		remaining, err := s.sessions.Pending()
		if err != nil {
			return err
		}
		s.bus.Publish(notify.Event{Kind: notify.SessionsRemaining, Remaining: len(remaining)})
		if len(remaining) == 0 {
			return nil
		}
	}
}

// buildPayload encrypts every pending session to the backup public key.
// Pending entries whose session vanished locally are dropped from the set.
func (s *Service) buildPayload(backupPub string, pending []domain.SessionRef) (domain.RoomKeysBackup, []domain.SessionRef, error) {
	payload := domain.RoomKeysBackup{Rooms: make(map[domain.RoomID]domain.RoomKeys)}
	uploaded := make([]domain.SessionRef, 0, len(pending))

	for _, ref := range pending {
		sess, ok, err := s.sessions.Session(ref.RoomID, ref.SessionID)
		if err != nil {
			return domain.RoomKeysBackup{}, nil, err
		}
		if !ok {
			if err := s.sessions.RemovePending(ref); err != nil {
				return domain.RoomKeysBackup{}, nil, err
			}
			continue
		}

		plaintext, err := json.Marshal(domain.MegolmSessionData{
			Algorithm:          domain.AlgorithmMegolm,
			ForwardingKeyChain: []string{},
			SenderClaimedKeys:  domain.SenderClaimedKeys{Ed25519: sess.SenderClaimedKey},
			SenderKey:          sess.SenderKey,
			SessionKey:         sess.SessionKey,
			FirstKnownIndex:    sess.FirstKnownIndex,
		})
		if err != nil {
			return domain.RoomKeysBackup{}, nil, err
		}
		data, err := s.engine.EncryptSessionData(backupPub, plaintext)
		if err != nil {
			return domain.RoomKeysBackup{}, nil, err
		}

		room, ok := payload.Rooms[ref.RoomID]
		if !ok {
			room = domain.RoomKeys{Sessions: make(map[domain.SessionID]domain.BackedUpSessionRecord)}
		}
		room.Sessions[ref.SessionID] = domain.BackedUpSessionRecord{
			FirstMessageIndex: sess.FirstKnownIndex,
			ForwardedCount:    sess.ForwardedCount,
			IsVerified:        sess.Verified,
			SessionData:       data,
		}
		payload.Rooms[ref.RoomID] = room
		uploaded = append(uploaded, ref)
	}
	return payload, uploaded, nil
}

// handleConflict reacts to M_WRONG_ROOM_KEYS_VERSION: disable with a
// failure notification carrying the server error code, re-check trust, and
// if the new version is trusted re-mark every local session pending so the
// full set is re-uploaded (old confirmations do not carry over).
func (s *Service) handleConflict(ctx context.Context, conflict *domain.VersionConflictError) error {
	s.log.Info("backup version rotated on server",
		zap.String("current_version", conflict.CurrentVersion))

	s.mu.Lock()
	s.version = ""
	s.info = domain.BackupInfo{}
	if err := s.store.ClearActiveVersion(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.bus.Publish(notify.Event{Kind: notify.BackupFailed, Code: conflict.Code})
	s.bus.Publish(notify.Event{Kind: notify.BackupDisabled})
	s.mu.Unlock()

	status, err := s.CheckAndEnable(ctx)
	if err != nil {
		return err
	}
	if status.Enabled {
		return s.sessions.MarkAllPending()
	}
	return nil
}

// sleepCtx waits for d or cancellation; it reports whether the wait ran to
// completion.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
