package domain

import "encoding/json"

// EventTypeEncrypted is the fixed wrapper event type of every encrypted
// to-device batch, regardless of batch size.
const EventTypeEncrypted = "m.room.encrypted"

// DeviceTarget addresses one recipient device.
type DeviceTarget struct {
	UserID   UserID   `json:"user_id"`
	DeviceID DeviceID `json:"device_id"`
}

// OlmCiphertext is one olm message body with its type (0 = pre-key).
type OlmCiphertext struct {
	Type int    `json:"type"`
	Body string `json:"body"`
}

// EncryptedContent is the content of an encrypted to-device event: the
// ciphertext map is keyed by the recipient's identity key.
type EncryptedContent struct {
	Algorithm  string                   `json:"algorithm"`
	SenderKey  string                   `json:"sender_key"`
	Ciphertext map[string]OlmCiphertext `json:"ciphertext"`
}

// ToDeviceBatch is a set of per-device encrypted envelopes sharing one
// wrapper event type and transaction id.
type ToDeviceBatch struct {
	EventType string                                   `json:"event_type"`
	TxnID     string                                   `json:"txn_id"`
	Messages  map[UserID]map[DeviceID]EncryptedContent `json:"messages"`
}

// ToDeviceEnvelope is one inbound direct message as received.
type ToDeviceEnvelope struct {
	Sender  UserID          `json:"sender"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// ToDeviceClass classifies an inbound direct message.
type ToDeviceClass int

const (
	// ClassCleartext marks a message that was never encrypted.
	ClassCleartext ToDeviceClass = iota
	// ClassDecrypted marks a successfully decrypted message.
	ClassDecrypted
	// ClassUndecryptable marks a message that could not be read.
	ClassUndecryptable
)

// DecryptionFailureReason is the closed set of reasons a received encrypted
// message could not be read.
type DecryptionFailureReason string

const (
	ReasonUnknownSession       DecryptionFailureReason = "unknown_session"
	ReasonCorruptCiphertext    DecryptionFailureReason = "corrupt_ciphertext"
	ReasonUnsupportedAlgorithm DecryptionFailureReason = "unsupported_algorithm"
	ReasonNotOurMessage        DecryptionFailureReason = "not_our_message"
)

// DecryptedToDevice is the plaintext of a decrypted direct message plus
// sender metadata.
type DecryptedToDevice struct {
	Sender    UserID          `json:"sender"`
	SenderKey string          `json:"sender_key"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
}

// ClassifiedToDevice pairs a classification with the original envelope.
// Exactly one of Decrypted or Reason is meaningful, per Class; the envelope
// is always delivered.
type ClassifiedToDevice struct {
	Class     ToDeviceClass           `json:"class"`
	Reason    DecryptionFailureReason `json:"reason,omitempty"`
	Envelope  ToDeviceEnvelope        `json:"envelope"`
	Decrypted *DecryptedToDevice      `json:"decrypted,omitempty"`
}
