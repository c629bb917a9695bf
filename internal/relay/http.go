package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"keyward/internal/domain"
)

// Client talks JSON over HTTP to the homeserver's key-backup and
// cross-signing endpoints.
type Client struct {
	Base        string
	AccessToken string
	HTTP        *http.Client
}

// NewClient returns a Client for the given base URL.
func NewClient(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{Base: base, HTTP: httpClient}
}

// errorEnvelope is the server's error body.
type errorEnvelope struct {
	ErrCode        string `json:"errcode"`
	Err            string `json:"error"`
	CurrentVersion string `json:"current_version"`
}

func (c *Client) GetBackupInfo(ctx context.Context) (domain.BackupInfo, error) {
	var out domain.BackupInfo
	if err := c.do(ctx, http.MethodGet, "/room_keys/version", nil, &out); err != nil {
		return domain.BackupInfo{}, err
	}
	return out, nil
}

func (c *Client) PutRoomKeys(ctx context.Context, version string, keys domain.RoomKeysBackup) error {
	return c.do(ctx, http.MethodPut, "/room_keys/keys?version="+url.QueryEscape(version), keys, nil)
}

func (c *Client) GetRoomKeys(ctx context.Context, version string) (domain.RoomKeysBackup, error) {
	var out domain.RoomKeysBackup
	err := c.do(ctx, http.MethodGet, "/room_keys/keys?version="+url.QueryEscape(version), nil, &out)
	return out, err
}

func (c *Client) GetRoomKey(ctx context.Context, version string, room domain.RoomID, session domain.SessionID) (domain.BackedUpSessionRecord, error) {
	var out domain.BackedUpSessionRecord
	path := "/room_keys/keys/" + url.PathEscape(string(room)) + "/" +
		url.PathEscape(string(session)) + "?version=" + url.QueryEscape(version)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) UploadCrossSigningKeys(ctx context.Context, up domain.CrossSigningUpload) error {
	return c.do(ctx, http.MethodPost, "/keys/device_signing/upload", up, nil)
}

func (c *Client) UploadSignatures(ctx context.Context, up domain.SignaturesUpload) error {
	return c.do(ctx, http.MethodPost, "/keys/signatures/upload", up, nil)
}

func (c *Client) ClaimOneTimeKey(ctx context.Context, user domain.UserID, device domain.DeviceID) (string, error) {
	req := map[string]any{
		"one_time_keys": map[domain.UserID]map[domain.DeviceID]string{
			user: {device: "signed_curve25519"},
		},
	}
	var resp struct {
		OneTimeKeys map[domain.UserID]map[domain.DeviceID]map[string]string `json:"one_time_keys"`
	}
	if err := c.do(ctx, http.MethodPost, "/keys/claim", req, &resp); err != nil {
		return "", err
	}
	for _, key := range resp.OneTimeKeys[user][device] {
		return key, nil
	}
	return "", fmt.Errorf("claim: no one-time key for %s/%s: %w", user, device, domain.ErrNotFound)
}

func (c *Client) SendToDevice(ctx context.Context, batch domain.ToDeviceBatch) error {
	txn := batch.TxnID
	if txn == "" {
		txn = uuid.NewString()
	}
	path := "/sendToDevice/" + url.PathEscape(batch.EventType) + "/" + url.PathEscape(txn)
	return c.do(ctx, http.MethodPut, path, struct {
		Messages map[domain.UserID]map[domain.DeviceID]domain.EncryptedContent `json:"messages"`
	}{batch.Messages}, nil)
}

// do performs one JSON round trip and maps error envelopes onto the domain
// error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return c.mapError(method, path, resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) mapError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var env errorEnvelope
	_ = json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized:
		return &domain.AuthRequiredError{Params: json.RawMessage(raw)}
	case env.ErrCode == domain.ErrCodeWrongVersion:
		return &domain.VersionConflictError{
			Code:           env.ErrCode,
			CurrentVersion: env.CurrentVersion,
		}
	}
	return fmt.Errorf("%s %s: %s (%s)", method, path, resp.Status, env.ErrCode)
}

var _ domain.ServerClient = (*Client)(nil)
