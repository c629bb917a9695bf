package relay_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"keyward/internal/domain"
	"keyward/internal/relay"
)

func TestGetBackupInfo_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/room_keys/version" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"2","algorithm":"m.megolm_backup.v1.curve25519-aes-sha2","public_key":"pub"}`))
	}))
	defer srv.Close()

	c := relay.NewClient(srv.URL, nil)
	c.AccessToken = "tok"

	info, err := c.GetBackupInfo(context.Background())
	if err != nil {
		t.Fatalf("get backup info: %v", err)
	}
	if info.Version != "2" || info.Algorithm != domain.AlgorithmBackup {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestGetBackupInfo_NoBackup_ErrNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errcode":"M_NOT_FOUND","error":"No backup found"}`))
	}))
	defer srv.Close()

	c := relay.NewClient(srv.URL, nil)
	_, err := c.GetBackupInfo(context.Background())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestPutRoomKeys_StaleVersion_VersionConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method %s", r.Method)
		}
		if got := r.URL.Query().Get("version"); got != "1" {
			t.Errorf("version query %q", got)
		}
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errcode":"M_WRONG_ROOM_KEYS_VERSION","current_version":"2"}`))
	}))
	defer srv.Close()

	c := relay.NewClient(srv.URL, nil)
	err := c.PutRoomKeys(context.Background(), "1", domain.RoomKeysBackup{})

	var conflict *domain.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want VersionConflictError", err)
	}
	if conflict.Code != domain.ErrCodeWrongVersion || conflict.CurrentVersion != "2" {
		t.Fatalf("unexpected conflict: %+v", conflict)
	}
}

func TestUploadCrossSigningKeys_AuthRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"flows":[{"stages":["m.login.password"]}],"session":"xyz"}`))
	}))
	defer srv.Close()

	c := relay.NewClient(srv.URL, nil)
	err := c.UploadCrossSigningKeys(context.Background(), domain.CrossSigningUpload{})

	var authErr *domain.AuthRequiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("got %v, want AuthRequiredError", err)
	}
	if len(authErr.Params) == 0 {
		t.Fatal("auth params not carried through")
	}
}

func TestClaimOneTimeKey_Exhausted_ErrNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"one_time_keys":{}}`))
	}))
	defer srv.Close()

	c := relay.NewClient(srv.URL, nil)
	_, err := c.ClaimOneTimeKey(context.Background(), "@bob:example.org", "BETA")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestGetRoomKey_PathAndPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/room_keys/keys/!room:example.org/sess1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"first_message_index":3,"is_verified":true,"session_data":{"ciphertext":"ct","mac":"m","ephemeral":"e"}}`))
	}))
	defer srv.Close()

	c := relay.NewClient(srv.URL, nil)
	rec, err := c.GetRoomKey(context.Background(), "2", "!room:example.org", "sess1")
	if err != nil {
		t.Fatalf("get room key: %v", err)
	}
	if rec.FirstMessageIndex != 3 || !rec.IsVerified || rec.SessionData.Ciphertext != "ct" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
