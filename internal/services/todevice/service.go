package todevice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"keyward/internal/domain"
)

// Service is the to-device message encryption gateway. It depends only on
// the device list, the olm session capability and the server client,
// independent of the backup machinery.
type Service struct {
	client  domain.ServerClient
	devices domain.DeviceStore
	olm     domain.OlmSessions
	cross   domain.CrossSigningStore
	log     *zap.Logger

	mu   sync.Mutex
	subs []chan domain.ClassifiedToDevice
}

// New constructs the gateway.
func New(
	client domain.ServerClient,
	devices domain.DeviceStore,
	olm domain.OlmSessions,
	cross domain.CrossSigningStore,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		client:  client,
		devices: devices,
		olm:     olm,
		cross:   cross,
		log:     log,
	}
}

// olmPayload is the authenticated plaintext envelope inside an olm
// message.
type olmPayload struct {
	Type          string            `json:"type"`
	Content       json.RawMessage   `json:"content"`
	Sender        domain.UserID     `json:"sender"`
	Recipient     domain.UserID     `json:"recipient"`
	RecipientKeys map[string]string `json:"recipient_keys"`
	Keys          map[string]string `json:"keys"`
}

// Encrypt produces an encrypted batch for the given targets. Targets whose
// identity keys are unknown are silently omitted; for known targets a
// session is reused or established by claiming a one-time key. The batch
// always carries the fixed wrapper event type, even when empty.
func (s *Service) Encrypt(ctx context.Context, eventType string, targets []domain.DeviceTarget, content json.RawMessage) (domain.ToDeviceBatch, error) {
	batch := domain.ToDeviceBatch{
		EventType: domain.EventTypeEncrypted,
		TxnID:     uuid.NewString(),
		Messages:  make(map[domain.UserID]map[domain.DeviceID]domain.EncryptedContent),
	}

	account, ok, err := s.cross.Account()
	if err != nil {
		return batch, err
	}
	if !ok {
		return batch, domain.ErrNoAccount
	}

	for _, target := range targets {
		device, ok, err := s.devices.Device(target.UserID, target.DeviceID)
		if err != nil {
			return batch, err
		}
		if !ok {
			continue // unknown identity keys: not an error
		}

		if !s.olm.HasSession(device.IdentityKey) {
			otk, err := s.client.ClaimOneTimeKey(ctx, target.UserID, target.DeviceID)
			if errors.Is(err, domain.ErrNotFound) {
				s.log.Debug("no one-time key claimable, skipping device",
					zap.String("user_id", string(target.UserID)),
					zap.String("device_id", string(target.DeviceID)))
				continue
			}
			if err != nil {
				return batch, err
			}
			if err := s.olm.CreateOutboundSession(device.IdentityKey, otk); err != nil {
				return batch, err
			}
		}

		plaintext, err := json.Marshal(olmPayload{
			Type:          eventType,
			Content:       content,
			Sender:        account.UserID,
			Recipient:     target.UserID,
			RecipientKeys: map[string]string{domain.KeyAlgorithmEd25519: device.SigningKey},
			Keys:          map[string]string{domain.KeyAlgorithmEd25519: account.SigningKey},
		})
		if err != nil {
			return batch, err
		}
		msg, err := s.olm.Encrypt(device.IdentityKey, plaintext)
		if err != nil {
			return batch, err
		}

		if batch.Messages[target.UserID] == nil {
			batch.Messages[target.UserID] = make(map[domain.DeviceID]domain.EncryptedContent)
		}
		batch.Messages[target.UserID][target.DeviceID] = domain.EncryptedContent{
			Algorithm: domain.AlgorithmOlm,
			SenderKey: account.IdentityKey,
			Ciphertext: map[string]domain.OlmCiphertext{
				device.IdentityKey: msg,
			},
		}
	}
	return batch, nil
}

// Send delivers an encrypted batch.
func (s *Service) Send(ctx context.Context, batch domain.ToDeviceBatch) error {
	return s.client.SendToDevice(ctx, batch)
}

// Subscribe registers a receiver for classified inbound messages. The
// cancel func releases and closes the channel.
func (s *Service) Subscribe() (<-chan domain.ClassifiedToDevice, func()) {
	ch := make(chan domain.ClassifiedToDevice, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				close(c)
				return
			}
		}
	}
}

// HandleEvent classifies one inbound direct message into exactly one of
// cleartext, decrypted or undecryptable-with-reason, and delivers the
// classification together with the original envelope to every subscriber.
// Nothing is dropped silently on the receive side.
func (s *Service) HandleEvent(env domain.ToDeviceEnvelope) {
	s.deliver(s.classify(env))
}

func (s *Service) classify(env domain.ToDeviceEnvelope) domain.ClassifiedToDevice {
	if env.Type != domain.EventTypeEncrypted {
		return domain.ClassifiedToDevice{Class: domain.ClassCleartext, Envelope: env}
	}

	var content domain.EncryptedContent
	if err := json.Unmarshal(env.Content, &content); err != nil {
		return undecryptable(env, domain.ReasonCorruptCiphertext)
	}
	if content.Algorithm != domain.AlgorithmOlm {
		return undecryptable(env, domain.ReasonUnsupportedAlgorithm)
	}

	account, ok, err := s.cross.Account()
	if err != nil || !ok {
		return undecryptable(env, domain.ReasonNotOurMessage)
	}
	msg, ok := content.Ciphertext[account.IdentityKey]
	if !ok {
		return undecryptable(env, domain.ReasonNotOurMessage)
	}

	plaintext, err := s.olm.Decrypt(content.SenderKey, msg)
	if errors.Is(err, domain.ErrUnknownSession) {
		return undecryptable(env, domain.ReasonUnknownSession)
	}
	if err != nil {
		return undecryptable(env, domain.ReasonCorruptCiphertext)
	}

	var payload olmPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return undecryptable(env, domain.ReasonCorruptCiphertext)
	}
	return domain.ClassifiedToDevice{
		Class:    domain.ClassDecrypted,
		Envelope: env,
		Decrypted: &domain.DecryptedToDevice{
			Sender:    env.Sender,
			SenderKey: content.SenderKey,
			Type:      payload.Type,
			Content:   payload.Content,
		},
	}
}

func undecryptable(env domain.ToDeviceEnvelope, reason domain.DecryptionFailureReason) domain.ClassifiedToDevice {
	return domain.ClassifiedToDevice{
		Class:    domain.ClassUndecryptable,
		Reason:   reason,
		Envelope: env,
	}
}

func (s *Service) deliver(c domain.ClassifiedToDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
			s.log.Warn("to-device subscriber lagging, dropping oldest")
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- c:
			default:
			}
		}
	}
}
