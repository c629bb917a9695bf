package crosssigning

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"keyward/internal/canonicaljson"
	"keyward/internal/domain"
)

// Service manages the three-key signing hierarchy: bootstrap and
// publication, plus the status queries the rest of the subsystem and the
// CLI rely on.
type Service struct {
	client  domain.ServerClient
	store   domain.CrossSigningStore
	devices domain.DeviceStore
	secrets domain.SecretCache // optional
	engine  domain.CryptoEngine
	log     *zap.Logger
}

// New constructs a Service. secrets may be nil when no secret-storage
// collaborator is configured; log may be nil for a no-op logger.
func New(
	client domain.ServerClient,
	store domain.CrossSigningStore,
	devices domain.DeviceStore,
	secrets domain.SecretCache,
	engine domain.CryptoEngine,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		client:  client,
		store:   store,
		devices: devices,
		secrets: secrets,
		engine:  engine,
		log:     log,
	}
}

// Bootstrap creates and publishes the cross-signing hierarchy if none
// exists yet: master signed by the local device, self-signing and
// user-signing signed by master, uploaded with the opaque auth dictionary,
// and finally a cross-signature proving the local device is signed by the
// self-signing key. A server demand for more auth surfaces as a
// *domain.AuthRequiredError for the caller to retry with updated auth.
func (s *Service) Bootstrap(ctx context.Context, auth json.RawMessage) error {
	account, ok, err := s.store.Account()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNoAccount
	}
	if _, ok, err := s.store.PrivateKeys(); err != nil {
		return err
	} else if ok {
		return nil // hierarchy already exists
	}

	masterPriv, masterPub, err := s.engine.GenerateSigningKey()
	if err != nil {
		return err
	}
	sskPriv, sskPub, err := s.engine.GenerateSigningKey()
	if err != nil {
		return err
	}
	uskPriv, uskPub, err := s.engine.GenerateSigningKey()
	if err != nil {
		return err
	}

	master := domain.CrossSigningKey{
		UserID:     account.UserID,
		Usage:      []string{domain.UsageMaster},
		PublicKey:  masterPub,
		Signatures: domain.Signatures{},
	}
	// The master key is attested by the local device's identity key.
	deviceSig, err := s.signWith(account.SigningKeyPriv, master)
	if err != nil {
		return err
	}
	master.Signatures.Add(account.UserID,
		domain.NewKeyID(domain.KeyAlgorithmEd25519, string(account.DeviceID)), deviceSig)

	ssk, err := s.subordinateKey(account.UserID, domain.UsageSelfSigning, sskPub, master, masterPriv)
	if err != nil {
		return err
	}
	usk, err := s.subordinateKey(account.UserID, domain.UsageUserSigning, uskPub, master, masterPriv)
	if err != nil {
		return err
	}

	if err := s.client.UploadCrossSigningKeys(ctx, domain.CrossSigningUpload{
		MasterKey:      master,
		SelfSigningKey: ssk,
		UserSigningKey: usk,
		Auth:           auth,
	}); err != nil {
		return err
	}

	triplet := domain.CrossSigningKeys{Master: master, SelfSigning: ssk, UserSigning: usk}
	if err := s.devices.SaveCrossSigningKeys(triplet); err != nil {
		return err
	}
	if err := s.store.SavePrivateKeys(domain.CrossSigningPrivateKeys{
		Master:      masterPriv,
		SelfSigning: sskPriv,
		UserSigning: uskPriv,
	}); err != nil {
		return err
	}

	if err := s.signOwnDevice(ctx, account, ssk, sskPriv); err != nil {
		return err
	}
	s.log.Info("cross-signing hierarchy bootstrapped",
		zap.String("user_id", string(account.UserID)),
		zap.String("master_key", masterPub))
	return nil
}

// subordinateKey builds a self-signing or user-signing key signed by the
// master key.
func (s *Service) subordinateKey(
	user domain.UserID,
	usage, pub string,
	master domain.CrossSigningKey,
	masterPriv string,
) (domain.CrossSigningKey, error) {
	key := domain.CrossSigningKey{
		UserID:     user,
		Usage:      []string{usage},
		PublicKey:  pub,
		Signatures: domain.Signatures{},
	}
	sig, err := s.signWith(masterPriv, key)
	if err != nil {
		return domain.CrossSigningKey{}, err
	}
	key.Signatures.Add(user, master.KeyID(), sig)
	return key, nil
}

// signOwnDevice cross-signs the local device with the self-signing key and
// publishes the signature.
func (s *Service) signOwnDevice(ctx context.Context, account domain.Account, ssk domain.CrossSigningKey, sskPriv string) error {
	device, ok, err := s.devices.Device(account.UserID, account.DeviceID)
	if err != nil {
		return err
	}
	if !ok {
		device = domain.DeviceIdentity{
			UserID:      account.UserID,
			DeviceID:    account.DeviceID,
			IdentityKey: account.IdentityKey,
			SigningKey:  account.SigningKey,
			Signatures:  domain.Signatures{},
		}
	}
	if device.Signatures == nil {
		device.Signatures = domain.Signatures{}
	}

	sig, err := s.signWith(sskPriv, device.WireDeviceKeys())
	if err != nil {
		return err
	}
	device.Signatures.Add(account.UserID, ssk.KeyID(), sig)
	if err := s.devices.SaveDevice(device); err != nil {
		return err
	}

	signed, err := json.Marshal(device.WireDeviceKeys())
	if err != nil {
		return err
	}
	return s.client.UploadSignatures(ctx, domain.SignaturesUpload{
		account.UserID: {string(account.DeviceID): signed},
	})
}

func (s *Service) signWith(priv string, obj any) (string, error) {
	payload, err := canonicaljson.SigningPayload(obj)
	if err != nil {
		return "", err
	}
	return s.engine.Sign(priv, payload)
}

// Status reports where the hierarchy's key material currently lives. Each
// boolean is computed independently from local and server state, never
// cached beyond the call.
func (s *Service) Status(ctx context.Context) (domain.CrossSigningStatus, error) {
	var status domain.CrossSigningStatus

	account, ok, err := s.store.Account()
	if err != nil {
		return status, err
	}
	if ok {
		_, onDevice, err := s.devices.CrossSigningKeys(account.UserID)
		if err != nil {
			return status, err
		}
		status.PublicKeysOnDevice = onDevice
	}

	priv, _, err := s.store.PrivateKeys()
	if err != nil {
		return status, err
	}
	status.PrivateKeysCachedLocally = domain.PrivateKeysCachedOn{
		MasterKey:      priv.Master != "",
		SelfSigningKey: priv.SelfSigning != "",
		UserSigningKey: priv.UserSigning != "",
	}

	if s.secrets != nil {
		inStorage, err := s.secrets.HasCrossSigningPrivateKeys(ctx)
		if err != nil {
			return status, fmt.Errorf("secret storage: %w", err)
		}
		status.PrivateKeysInSecretStorage = inStorage
	}
	return status, nil
}

// Ready reports whether cross-signing is usable: public keys present and
// private keys recoverable, either cached locally or via secret storage.
func (s *Service) Ready(ctx context.Context) (bool, error) {
	status, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	cached := status.PrivateKeysCachedLocally
	allCached := cached.MasterKey && cached.SelfSigningKey && cached.UserSigningKey
	return status.PublicKeysOnDevice && (allCached || status.PrivateKeysInSecretStorage), nil
}

// KeyID returns the public key of the requested hierarchy key, or false if
// that key does not exist yet.
func (s *Service) KeyID(keyType domain.CrossSigningKeyType) (string, bool, error) {
	account, ok, err := s.store.Account()
	if err != nil || !ok {
		return "", false, err
	}
	keys, ok, err := s.devices.CrossSigningKeys(account.UserID)
	if err != nil || !ok {
		return "", false, err
	}
	switch keyType {
	case domain.KeyTypeSelfSigning:
		return keys.SelfSigning.PublicKey, keys.SelfSigning.PublicKey != "", nil
	case domain.KeyTypeUserSigning:
		return keys.UserSigning.PublicKey, keys.UserSigning.PublicKey != "", nil
	default:
		return keys.Master.PublicKey, keys.Master.PublicKey != "", nil
	}
}
