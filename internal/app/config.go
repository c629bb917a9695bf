package app

import (
	"net/http"

	"go.uber.org/zap"

	"keyward/internal/domain"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home        string       // state directory, e.g. $HOME/.keyward
	ServerURL   string       // homeserver base URL
	AccessToken string       // bearer token for server calls
	HTTP        *http.Client // optional; defaults to http.DefaultClient
	Logger      *zap.Logger  // optional; defaults to a no-op logger

	// Olm, when set, enables the to-device gateway. The double-ratchet
	// implementation is an external capability.
	Olm domain.OlmSessions
	// Secrets, when set, lets cross-signing status consult secret storage.
	Secrets domain.SecretCache
}
