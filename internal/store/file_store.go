package store

import (
	"os"
	"path/filepath"
	"sync"

	"keyward/internal/domain"
)

const (
	accountFile  = "account.json"
	xsPrivFile   = "cross_signing_private.json"
	devicesFile  = "devices.json"       // map[user]map[device]DeviceIdentity
	xsKeysFile   = "cross_signing.json" // map[user]CrossSigningKeys
	sessionsFile = "sessions.json"      // map["room/session"]InboundGroupSession
	pendingFile  = "pending.json"       // map["room/session"]SessionRef
	backupFile   = "backup.json"        // backupState
)

type backupState struct {
	ActiveVersion string                      `json:"active_version,omitempty"`
	DecryptionKey *domain.BackupDecryptionKey `json:"decryption_key,omitempty"`
}

// FileStore keeps the subsystem's state as JSON files under one directory.
// It implements DeviceStore, SessionStore, BackupStore and
// CrossSigningStore; all access is serialised by one mutex.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore { return &FileStore{dir: dir} }

func (s *FileStore) path(file string) string { return filepath.Join(s.dir, file) }

func sessionKey(room domain.RoomID, session domain.SessionID) string {
	return string(room) + "/" + string(session)
}

// ---------- CrossSigningStore ----------

func (s *FileStore) Account() (domain.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var a domain.Account
	if err := readJSON(s.path(accountFile), &a); err != nil {
		return domain.Account{}, false, err
	}
	if a.UserID == "" {
		return domain.Account{}, false, nil
	}
	return a, true, nil
}

func (s *FileStore) SaveAccount(a domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path(accountFile), a, 0o600)
}

func (s *FileStore) PrivateKeys() (domain.CrossSigningPrivateKeys, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys domain.CrossSigningPrivateKeys
	if err := readJSON(s.path(xsPrivFile), &keys); err != nil {
		return domain.CrossSigningPrivateKeys{}, false, err
	}
	ok := keys.Master != "" || keys.SelfSigning != "" || keys.UserSigning != ""
	return keys, ok, nil
}

func (s *FileStore) SavePrivateKeys(keys domain.CrossSigningPrivateKeys) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path(xsPrivFile), keys, 0o600)
}

// ---------- DeviceStore ----------

func (s *FileStore) Device(user domain.UserID, device domain.DeviceID) (domain.DeviceIdentity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[domain.UserID]map[domain.DeviceID]domain.DeviceIdentity)
	if err := readJSON(s.path(devicesFile), &m); err != nil {
		return domain.DeviceIdentity{}, false, err
	}
	d, ok := m[user][device]
	return d, ok, nil
}

func (s *FileStore) Devices(user domain.UserID) ([]domain.DeviceIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[domain.UserID]map[domain.DeviceID]domain.DeviceIdentity)
	if err := readJSON(s.path(devicesFile), &m); err != nil {
		return nil, err
	}
	out := make([]domain.DeviceIdentity, 0, len(m[user]))
	for _, d := range m[user] {
		out = append(out, d)
	}
	return out, nil
}

func (s *FileStore) SaveDevice(d domain.DeviceIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[domain.UserID]map[domain.DeviceID]domain.DeviceIdentity)
	if err := readJSON(s.path(devicesFile), &m); err != nil {
		return err
	}
	if m[d.UserID] == nil {
		m[d.UserID] = make(map[domain.DeviceID]domain.DeviceIdentity)
	}
	m[d.UserID][d.DeviceID] = d
	return writeJSON(s.path(devicesFile), m, 0o600)
}

func (s *FileStore) SetDeviceVerified(user domain.UserID, device domain.DeviceID, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[domain.UserID]map[domain.DeviceID]domain.DeviceIdentity)
	if err := readJSON(s.path(devicesFile), &m); err != nil {
		return err
	}
	d, ok := m[user][device]
	if !ok {
		return nil
	}
	d.Verified = verified
	m[user][device] = d
	return writeJSON(s.path(devicesFile), m, 0o600)
}

func (s *FileStore) CrossSigningKeys(user domain.UserID) (domain.CrossSigningKeys, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[domain.UserID]domain.CrossSigningKeys)
	if err := readJSON(s.path(xsKeysFile), &m); err != nil {
		return domain.CrossSigningKeys{}, false, err
	}
	keys, ok := m[user]
	return keys, ok, nil
}

func (s *FileStore) SaveCrossSigningKeys(keys domain.CrossSigningKeys) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[domain.UserID]domain.CrossSigningKeys)
	if err := readJSON(s.path(xsKeysFile), &m); err != nil {
		return err
	}
	m[keys.Master.UserID] = keys
	return writeJSON(s.path(xsKeysFile), m, 0o600)
}

// ---------- SessionStore ----------

func (s *FileStore) Session(room domain.RoomID, session domain.SessionID) (domain.InboundGroupSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[string]domain.InboundGroupSession)
	if err := readJSON(s.path(sessionsFile), &m); err != nil {
		return domain.InboundGroupSession{}, false, err
	}
	sess, ok := m[sessionKey(room, session)]
	return sess, ok, nil
}

// ImportSession stores a session idempotently. An existing copy survives
// unless the new one has more history (lower first-known index) or better
// trust; a verified copy is never downgraded.
func (s *FileStore) ImportSession(sess domain.InboundGroupSession) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[string]domain.InboundGroupSession)
	if err := readJSON(s.path(sessionsFile), &m); err != nil {
		return false, err
	}
	key := sessionKey(sess.RoomID, sess.SessionID)
	if old, ok := m[key]; ok {
		better := sess.FirstKnownIndex < old.FirstKnownIndex ||
			(sess.Verified && !old.Verified)
		if !better {
			return false, nil
		}
		if old.Verified {
			sess.Verified = true
		}
	}
	m[key] = sess
	return true, writeJSON(s.path(sessionsFile), m, 0o600)
}

func (s *FileStore) Pending() ([]domain.SessionRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *FileStore) pendingLocked() ([]domain.SessionRef, error) {
	m := make(map[string]domain.SessionRef)
	if err := readJSON(s.path(pendingFile), &m); err != nil {
		return nil, err
	}
	out := make([]domain.SessionRef, 0, len(m))
	for _, ref := range m {
		out = append(out, ref)
	}
	return out, nil
}

func (s *FileStore) AddPending(refs ...domain.SessionRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[string]domain.SessionRef)
	if err := readJSON(s.path(pendingFile), &m); err != nil {
		return err
	}
	for _, ref := range refs {
		m[sessionKey(ref.RoomID, ref.SessionID)] = ref
	}
	return writeJSON(s.path(pendingFile), m, 0o600)
}

func (s *FileStore) RemovePending(refs ...domain.SessionRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make(map[string]domain.SessionRef)
	if err := readJSON(s.path(pendingFile), &m); err != nil {
		return err
	}
	for _, ref := range refs {
		delete(m, sessionKey(ref.RoomID, ref.SessionID))
	}
	return writeJSON(s.path(pendingFile), m, 0o600)
}

// MarkAllPending rebuilds the pending set from every locally known session.
// Used after a version rotation: confirmations against the old version do
// not carry over.
func (s *FileStore) MarkAllPending() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make(map[string]domain.InboundGroupSession)
	if err := readJSON(s.path(sessionsFile), &sessions); err != nil {
		return err
	}
	m := make(map[string]domain.SessionRef, len(sessions))
	for key, sess := range sessions {
		m[key] = sess.Ref()
	}
	return writeJSON(s.path(pendingFile), m, 0o600)
}

// ---------- BackupStore ----------

func (s *FileStore) ActiveVersion() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st backupState
	if err := readJSON(s.path(backupFile), &st); err != nil {
		return "", false, err
	}
	return st.ActiveVersion, st.ActiveVersion != "", nil
}

func (s *FileStore) SetActiveVersion(version string) error {
	return s.updateBackup(func(st *backupState) { st.ActiveVersion = version })
}

func (s *FileStore) ClearActiveVersion() error {
	return s.updateBackup(func(st *backupState) { st.ActiveVersion = "" })
}

func (s *FileStore) DecryptionKey() (domain.BackupDecryptionKey, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st backupState
	if err := readJSON(s.path(backupFile), &st); err != nil {
		return domain.BackupDecryptionKey{}, false, err
	}
	if st.DecryptionKey == nil {
		return domain.BackupDecryptionKey{}, false, nil
	}
	return *st.DecryptionKey, true, nil
}

func (s *FileStore) SaveDecryptionKey(key domain.BackupDecryptionKey) error {
	return s.updateBackup(func(st *backupState) { st.DecryptionKey = &key })
}

func (s *FileStore) ClearDecryptionKey() error {
	return s.updateBackup(func(st *backupState) { st.DecryptionKey = nil })
}

func (s *FileStore) updateBackup(mod func(*backupState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st backupState
	if err := readJSON(s.path(backupFile), &st); err != nil {
		return err
	}
	mod(&st)
	return writeJSON(s.path(backupFile), st, 0o600)
}

var (
	_ domain.DeviceStore       = (*FileStore)(nil)
	_ domain.SessionStore      = (*FileStore)(nil)
	_ domain.BackupStore       = (*FileStore)(nil)
	_ domain.CrossSigningStore = (*FileStore)(nil)
)

// ensure the directory exists before first use.
func (s *FileStore) Init() error {
	return os.MkdirAll(s.dir, 0o700)
}
