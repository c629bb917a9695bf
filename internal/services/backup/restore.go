package backup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"keyward/internal/domain"
)

// RestoreChunkSize is the number of sessions imported per chunk during a
// full restore; the final chunk may be smaller.
const RestoreChunkSize = 200

// RestoreOpts tweaks a restore run.
type RestoreOpts struct {
	// Progress, if set, is called after the backup fetch and after each
	// processed chunk with cumulative counts.
	Progress func(domain.RestoreProgress)
	// CacheKey tags the derived decryption key for the backup's version
	// and caches it once the restore finishes.
	CacheKey bool
}

var errTargetPair = errors.New("restore: room and session must be given together")

// RestoreWithRecoveryKey recovers backed-up sessions. With room and
// session both set it fetches that single record; with both empty it walks
// the complete backup in fixed-size chunks, tolerating partial failures: a
// record that fails to decrypt is dropped individually, and a chunk whose
// import fails is tallied entirely as failures while processing continues.
func (s *Service) RestoreWithRecoveryKey(
	ctx context.Context,
	recoveryKey string,
	room domain.RoomID,
	session domain.SessionID,
	info domain.BackupInfo,
	opts *RestoreOpts,
) (domain.RestoreResult, error) {
	if opts == nil {
		opts = &RestoreOpts{}
	}
	// Decode strictly before any network call.
	key, err := s.engine.DeriveKeyFromRecoveryKey(recoveryKey)
	if err != nil {
		return domain.RestoreResult{}, err
	}

	var result domain.RestoreResult
	switch {
	case room != "" && session != "":
		result, err = s.restoreOne(ctx, key, room, session, info)
	case room == "" && session == "":
		result, err = s.restoreAll(ctx, key, info, opts)
	default:
		return domain.RestoreResult{}, errTargetPair
	}
	if err != nil {
		return result, err
	}

	if opts.CacheKey {
		if err := s.CacheDecryptionKey(key, info.Version); err != nil {
			return result, err
		}
	}
	return result, nil
}

// restoreOne is the targeted path: one record, one import.
func (s *Service) restoreOne(ctx context.Context, key [32]byte, room domain.RoomID, session domain.SessionID, info domain.BackupInfo) (domain.RestoreResult, error) {
	record, err := s.client.GetRoomKey(ctx, info.Version, room, session)
	if err != nil {
		return domain.RestoreResult{}, err
	}
	sess, err := s.decryptRecord(key, room, session, record)
	if err != nil {
		return domain.RestoreResult{Total: 1}, nil
	}
	if _, err := s.sessions.ImportSession(sess); err != nil {
		return domain.RestoreResult{Total: 1}, nil
	}
	return domain.RestoreResult{Total: 1, Imported: 1}, nil
}

// flatRecord is one backed-up session with its addressing.
type flatRecord struct {
	room    domain.RoomID
	session domain.SessionID
	record  domain.BackedUpSessionRecord
}

// restoreAll is the full path: fetch everything, then strictly sequential
// fixed-size chunks.
func (s *Service) restoreAll(ctx context.Context, key [32]byte, info domain.BackupInfo, opts *RestoreOpts) (domain.RestoreResult, error) {
	payload, err := s.client.GetRoomKeys(ctx, info.Version)
	if err != nil {
		return domain.RestoreResult{}, fmt.Errorf("fetch backup: %w", err)
	}

	var flat []flatRecord
	for roomID, room := range payload.Rooms {
		for sessionID, record := range room.Sessions {
			flat = append(flat, flatRecord{room: roomID, session: sessionID, record: record})
		}
	}
	total := len(flat)
	report(opts, domain.RestoreProgress{Stage: domain.RestoreStageFetch, Total: total})

	successes, failures := 0, 0
	for start := 0; start < total; start += RestoreChunkSize {
		end := min(start+RestoreChunkSize, total)
		chunk := flat[start:end]

		decrypted := make([]domain.InboundGroupSession, 0, len(chunk))
		for _, rec := range chunk {
			sess, err := s.decryptRecord(key, rec.room, rec.session, rec.record)
			if err != nil {
				// A bad record does not abort the chunk; a retry path
				// exists via the backup itself.
				continue
			}
			decrypted = append(decrypted, sess)
		}

		if err := s.importChunk(decrypted); err != nil {
			s.log.Warn("restore chunk import failed",
				zap.Int("chunk_size", len(chunk)), zap.Error(err))
			failures += len(chunk)
		} else {
			successes += len(decrypted)
			failures += len(chunk) - len(decrypted)
		}
		report(opts, domain.RestoreProgress{
			Stage:     domain.RestoreStageLoadKeys,
			Total:     total,
			Successes: successes,
			Failures:  failures,
		})
	}

	return domain.RestoreResult{Total: total, Imported: successes}, nil
}

func (s *Service) importChunk(sessions []domain.InboundGroupSession) error {
	for _, sess := range sessions {
		if _, err := s.sessions.ImportSession(sess); err != nil {
			return err
		}
	}
	return nil
}

func report(opts *RestoreOpts, p domain.RestoreProgress) {
	if opts.Progress != nil {
		opts.Progress(p)
	}
}
