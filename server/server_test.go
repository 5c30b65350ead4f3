package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ebillrelay/blossom"
	"ebillrelay/notification"
	"ebillrelay/notification/email"
	"ebillrelay/proxy"
	"ebillrelay/ratelimit"
	"ebillrelay/relay"
	"ebillrelay/storage"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := storage.New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	host, _ := url.Parse("https://relay.example.com")
	guard := ratelimit.NewGuard()

	staticDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(staticDir, "logo.png"), []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write static file: %v", err)
	}

	return New(Deps{
		Notifications: notification.NewService(store, &email.LogSender{}, guard, host, "relay@example.com"),
		Proxy:         proxy.NewHandler(proxy.NewClient(proxy.NewDNSResolver("192.0.2.1:53")), guard),
		Blobs:         blossom.NewHandler(store, host),
		Relay:         relay.NewEngine(store, relay.NewWritePolicy(ratelimit.NewChainLimiter(6, time.Minute))),
		StaticDir:     staticDir,
	})
}

func TestRelayFeatures(t *testing.T) {
	r := testRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay_features", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var resp struct {
		RelayVersion string `json:"relay_version"`
		Features     []struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"features"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RelayVersion != "0.1.0" || len(resp.Features) != 3 {
		t.Fatalf("unexpected features %+v", resp)
	}
	want := map[string]bool{"file_upload": false, "email_notifications": false, "proxy": false}
	for _, f := range resp.Features {
		want[f.Name] = true
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("missing feature %q", name)
		}
	}
}

func TestCORSHeadersAndPreflight(t *testing.T) {
	r := testRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/relay_features", nil))
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header on normal response")
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/notifications/v1/start", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") != "*" {
		t.Fatal("missing CORS methods header on preflight")
	}
}

func TestStaticFileServing(t *testing.T) {
	r := testRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/logo.png", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "png-bytes" {
		t.Fatalf("status %d body %q", rec.Code, rec.Body.String())
	}
}

func TestNotFoundFallback(t *testing.T) {
	r := testRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/no/such/route", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestBlobUploadThroughRouter(t *testing.T) {
	r := testRouter(t)

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	blob := append(priv.PubKey().SerializeUncompressed(), []byte("ciphertext")...)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/upload", bytes.NewReader(blob)))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status %d body %s", rec.Code, rec.Body.String())
	}
	var desc struct {
		SHA256 string `json:"sha256"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &desc); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+desc.SHA256, nil))
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), blob) {
		t.Fatalf("get status %d", rec.Code)
	}
}

func TestUnimplementedBlossomEndpoints(t *testing.T) {
	r := testRouter(t)
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/list/somepubkey"},
		{http.MethodPut, "/mirror"},
		{http.MethodGet, "/media"},
		{http.MethodPost, "/report"},
		{http.MethodDelete, "/"},
		{http.MethodHead, "/upload"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("%s %s: status %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestNotificationFlowThroughRouter(t *testing.T) {
	r := testRouter(t)

	body := bytes.NewReader([]byte(`{"npub":"npub1notvalid"}`))
	req := httptest.NewRequest(http.MethodPost, "/notifications/v1/start", body)
	req.RemoteAddr = "203.0.113.10:1111"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Msg != "Invalid npub" {
		t.Fatalf("msg %q", resp.Msg)
	}
}
