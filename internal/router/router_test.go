package router

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/auth"
	"github.com/sonroyaalmerol/calendar-server/internal/caldav"
	"github.com/sonroyaalmerol/calendar-server/internal/config"
	"github.com/sonroyaalmerol/calendar-server/internal/store/storetest"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{BasePath: "/caldav", MaxICSBytes: 1 << 20},
		ICS:  config.ICSConfig{CompanyName: "Acme", ProductName: "CalendarServer", Version: "1.0.0", Language: "EN"},
	}
}

func basicHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func TestHealthzReportsStoreAvailability(t *testing.T) {
	fake := storetest.New()
	cfg := testConfig()
	dav := caldav.NewHandlers(cfg, fake, zerolog.Nop())
	authn := auth.NewChain(cfg, fake, zerolog.Nop())
	mux := New(cfg, dav, http.NotFoundHandler(), fake, authn, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestCalDAVRouteRequiresBasicAuth(t *testing.T) {
	fake := storetest.New()
	cfg := testConfig()
	dav := caldav.NewHandlers(cfg, fake, zerolog.Nop())
	authn := auth.NewChain(cfg, fake, zerolog.Nop())
	mux := New(cfg, dav, http.NotFoundHandler(), fake, authn, zerolog.Nop())

	req := httptest.NewRequest("PROPFIND", "/caldav/1/", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without credentials", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate challenge on 401")
	}
}

func TestCalDAVRouteAcceptsValidBasicAuth(t *testing.T) {
	fake := storetest.New()
	if _, err := fake.GetOrCreateUser(context.Background(), 1, "alice", "UTC"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	_, plaintext, err := fake.CreateDevicePassword(context.Background(), 1, "iPhone")
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}

	cfg := testConfig()
	dav := caldav.NewHandlers(cfg, fake, zerolog.Nop())
	authn := auth.NewChain(cfg, fake, zerolog.Nop())
	mux := New(cfg, dav, http.NotFoundHandler(), fake, authn, zerolog.Nop())

	req := httptest.NewRequest("PROPFIND", "/caldav/1/", nil)
	req.Header.Set("Authorization", basicHeader("alice", plaintext))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("status = %d, want 207 with valid credentials, body=%s", rec.Code, rec.Body.String())
	}
}

func TestOptionsBypassesAuth(t *testing.T) {
	fake := storetest.New()
	cfg := testConfig()
	dav := caldav.NewHandlers(cfg, fake, zerolog.Nop())
	authn := auth.NewChain(cfg, fake, zerolog.Nop())
	mux := New(cfg, dav, http.NotFoundHandler(), fake, authn, zerolog.Nop())

	req := httptest.NewRequest(http.MethodOptions, "/caldav/1/", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("OPTIONS status = %d, want 200 without credentials", rec.Code)
	}
}
