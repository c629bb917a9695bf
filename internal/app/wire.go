package app

import (
	"go.uber.org/zap"

	"keyward/internal/crypto"
	"keyward/internal/notify"
	"keyward/internal/relay"
	backupsvc "keyward/internal/services/backup"
	crosssigningsvc "keyward/internal/services/crosssigning"
	"keyward/internal/services/todevice"
	"keyward/internal/services/trust"
	"keyward/internal/store"
)

// Wire bundles the stores, services and clients of the subsystem.
type Wire struct {
	Store        *store.FileStore
	Server       *relay.Client
	Engine       *crypto.Engine
	Trust        *trust.Resolver
	CrossSigning *crosssigningsvc.Service
	Backup       *backupsvc.Service
	ToDevice     *todevice.Service // nil unless Config.Olm is set
	Bus          *notify.Bus
	Log          *zap.Logger
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config) (*Wire, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	fs := store.NewFileStore(cfg.Home)
	if err := fs.Init(); err != nil {
		return nil, err
	}

	server := relay.NewClient(cfg.ServerURL, cfg.HTTP)
	server.AccessToken = cfg.AccessToken

	engine := crypto.New()
	resolver := trust.New(fs, fs, fs, engine)
	bus := notify.NewBus()

	w := &Wire{
		Store:  fs,
		Server: server,
		Engine: engine,
		Trust:  resolver,
		CrossSigning: crosssigningsvc.New(
			server, fs, fs, cfg.Secrets, engine, log.Named("crosssigning")),
		Backup: backupsvc.New(
			server, engine, resolver, fs, fs, bus, log.Named("backup")),
		Bus: bus,
		Log: log,
	}
	if cfg.Olm != nil {
		w.ToDevice = todevice.New(server, fs, cfg.Olm, fs, log.Named("todevice"))
	}
	return w, nil
}
