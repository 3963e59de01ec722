package oauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/joshp123/thermosync/internal/thermostat"
)

type memoryBlobStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
}

func (m *memoryBlobStore) Load(_ context.Context, provider string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrBlobNotFound
	}
	data, ok := m.data[provider]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memoryBlobStore) Save(_ context.Context, provider string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[provider] = append([]byte(nil), data...)
	m.saves++
	return nil
}

func newTokenServer(t *testing.T, handler func(form url.Values) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		status, body := handler(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExchangePairsDevice(t *testing.T) {
	var got url.Values
	srv := newTokenServer(t, func(form url.Values) (int, string) {
		got = form
		return http.StatusOK, `{"access_token":"tok1","thermostat":"dev1"}`
	})

	decl := ThermoSmartDeclaration(srv.URL, "http://127.0.0.1:8765/pair/callback")
	ex, err := NewExchanger(decl, "client", "secret")
	if err != nil {
		t.Fatalf("NewExchanger: %v", err)
	}
	pairing, err := ex.Exchange(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if pairing.DeviceID != "dev1" || pairing.AccessToken != "tok1" {
		t.Fatalf("unexpected pairing %+v", pairing)
	}

	want := map[string]string{
		"client_id":     "client",
		"client_secret": "secret",
		"code":          "abc",
		"redirect_uri":  "http://127.0.0.1:8765/pair/callback",
		"grant_type":    "authorization_code",
	}
	for k, v := range want {
		if got.Get(k) != v {
			t.Fatalf("form %s = %q, want %q", k, got.Get(k), v)
		}
	}
}

func TestExchangeFailure(t *testing.T) {
	srv := newTokenServer(t, func(url.Values) (int, string) {
		return http.StatusBadRequest, `{"error":"invalid_grant"}`
	})
	ex, _ := NewExchanger(ThermoSmartDeclaration(srv.URL, ""), "client", "secret")
	_, err := ex.Exchange(context.Background(), "abc")
	if !errors.Is(err, ErrAuthExchangeFailed) {
		t.Fatalf("expected ErrAuthExchangeFailed, got %v", err)
	}
}

func TestExchangeMissingThermostat(t *testing.T) {
	srv := newTokenServer(t, func(url.Values) (int, string) {
		return http.StatusOK, `{"access_token":"tok1"}`
	})
	ex, _ := NewExchanger(ThermoSmartDeclaration(srv.URL, ""), "client", "secret")
	if _, err := ex.Exchange(context.Background(), "abc"); !errors.Is(err, ErrAuthExchangeFailed) {
		t.Fatalf("expected ErrAuthExchangeFailed, got %v", err)
	}
	if _, err := ex.Exchange(context.Background(), " "); !errors.Is(err, ErrAuthExchangeFailed) {
		t.Fatalf("expected ErrAuthExchangeFailed for empty code, got %v", err)
	}
}

func TestAuthCodeURL(t *testing.T) {
	ex, _ := NewExchanger(ThermoSmartDeclaration("https://api.thermosmart.com/", "https://example.test/cb"), "client", "secret")
	raw := ex.AuthCodeURL("xyz")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "api.thermosmart.com" || u.Path != "/oauth2/authorize" {
		t.Fatalf("unexpected authorize url %s", raw)
	}
	q := u.Query()
	if q.Get("response_type") != "code" || q.Get("client_id") != "client" || q.Get("redirect_uri") != "https://example.test/cb" || q.Get("state") != "xyz" {
		t.Fatalf("unexpected query %v", q)
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCredentialStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "credentials.json")
	blob := &memoryBlobStore{}
	store, err := NewCredentialStore("thermosmart", path, blob, quiet())
	if err != nil {
		t.Fatalf("NewCredentialStore: %v", err)
	}
	ctx := context.Background()

	creds, err := store.Load(ctx)
	if err != nil || len(creds) != 0 {
		t.Fatalf("expected empty load, got %v, %v", creds, err)
	}
	if err := store.Put(ctx, thermostat.Credentials{DeviceID: "dev2", AccessToken: "tok2"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, thermostat.Credentials{DeviceID: "dev1", AccessToken: "tok1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}

	creds, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(creds) != 2 || creds[0].DeviceID != "dev1" || creds[1].AccessToken != "tok2" {
		t.Fatalf("unexpected creds %+v", creds)
	}

	if err := store.Delete(ctx, "dev2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "missing"); err != nil {
		t.Fatalf("Delete unknown: %v", err)
	}
	if blob.saves != 3 {
		t.Fatalf("expected 3 blob saves, got %d", blob.saves)
	}
	if !strings.Contains(string(blob.data["thermosmart"]), `"dev1"`) || strings.Contains(string(blob.data["thermosmart"]), `"dev2"`) {
		t.Fatalf("blob not mirrored: %s", blob.data["thermosmart"])
	}
}

func TestCredentialStoreRestoresFromBlob(t *testing.T) {
	blob := &memoryBlobStore{data: map[string][]byte{
		"thermosmart": []byte(`{"schema_version":1,"devices":[{"id":"dev1","access_token":"tok1"}]}`),
	}}
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, _ := NewCredentialStore("thermosmart", path, blob, quiet())

	creds, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(creds) != 1 || creds[0].DeviceID != "dev1" {
		t.Fatalf("unexpected creds %+v", creds)
	}
	if _, err := LoadState(path); err != nil {
		t.Fatalf("blob state was not written locally: %v", err)
	}
}

func TestCredentialStoreRejectsLoosePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte(`{"schema_version":1,"devices":[]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, _ := NewCredentialStore("thermosmart", path, nil, quiet())
	if _, err := store.Load(context.Background()); err == nil {
		t.Fatalf("expected permission error")
	}
}

func TestNewCredentialStoreRequiresAbsolutePath(t *testing.T) {
	if _, err := NewCredentialStore("thermosmart", "relative.json", nil, nil); err == nil {
		t.Fatalf("expected error for relative path")
	}
}

func TestStateValidate(t *testing.T) {
	if _, err := DecodeState([]byte(`{"schema_version":1,"devices":[{"id":"dev1"}]}`)); err == nil {
		t.Fatalf("expected missing token error")
	}
	if _, err := DecodeState([]byte(`{"schema_version":2,"devices":[]}`)); err == nil {
		t.Fatalf("expected schema error")
	}
}
