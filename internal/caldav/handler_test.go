package caldav

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/auth"
	"github.com/sonroyaalmerol/calendar-server/internal/config"
	"github.com/sonroyaalmerol/calendar-server/internal/store/storetest"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{BasePath: "/caldav", MaxICSBytes: 1 << 20},
		ICS: config.ICSConfig{
			CompanyName: "Acme", ProductName: "CalendarServer", Version: "1.0.0", Language: "EN",
		},
	}
}

// withPrincipal wraps a request with the principal the router attaches
// after Basic auth succeeds, since these tests exercise the engine directly.
func withPrincipal(req *http.Request, userID int64, handle string) *http.Request {
	ctx := auth.WithPrincipal(req.Context(), &auth.Principal{UserID: userID, Handle: handle})
	return req.WithContext(ctx)
}

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//test//EN
BEGIN:VEVENT
UID:event-1
DTSTART:20260901T100000Z
DTEND:20260901T110000Z
SUMMARY:Kickoff
END:VEVENT
END:VCALENDAR
`

func newTestHandlers(t *testing.T) (*Handlers, int64) {
	t.Helper()
	fake := storetest.New()
	if _, err := fake.GetOrCreateUser(context.Background(), 1, "alice", "UTC"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return NewHandlers(testConfig(), fake, zerolog.Nop()), 1
}

func TestPutThenGetRoundTrip(t *testing.T) {
	h, userID := newTestHandlers(t)

	putReq := withPrincipal(httptest.NewRequest(http.MethodPut, "/caldav/1/event-1.ics", strings.NewReader(sampleICS)), userID, "alice")
	putRec := httptest.NewRecorder()
	h.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusCreated {
		t.Fatalf("PUT status = %d, want 201, body=%s", putRec.Code, putRec.Body.String())
	}
	etag := putRec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("PUT response missing ETag")
	}

	getReq := withPrincipal(httptest.NewRequest(http.MethodGet, "/caldav/1/event-1.ics", nil), userID, "alice")
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200, body=%s", getRec.Code, getRec.Body.String())
	}
	if !strings.Contains(getRec.Body.String(), "Kickoff") {
		t.Fatalf("GET body missing SUMMARY: %s", getRec.Body.String())
	}
}

func TestPutRejectsUidMismatch(t *testing.T) {
	h, userID := newTestHandlers(t)
	req := withPrincipal(httptest.NewRequest(http.MethodPut, "/caldav/1/other-uid.ics", strings.NewReader(sampleICS)), userID, "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for body/path UID mismatch", rec.Code)
	}
}

func TestPutIfNoneMatchRejectsExisting(t *testing.T) {
	h, userID := newTestHandlers(t)

	first := withPrincipal(httptest.NewRequest(http.MethodPut, "/caldav/1/event-1.ics", strings.NewReader(sampleICS)), userID, "alice")
	h.ServeHTTP(httptest.NewRecorder(), first)

	second := withPrincipal(httptest.NewRequest(http.MethodPut, "/caldav/1/event-1.ics", strings.NewReader(sampleICS)), userID, "alice")
	second.Header.Set("If-None-Match", "*")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, second)
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412 for If-None-Match:* on an existing resource", rec.Code)
	}
}

func TestPutIfMatchRejectsStaleEtag(t *testing.T) {
	h, userID := newTestHandlers(t)
	create := withPrincipal(httptest.NewRequest(http.MethodPut, "/caldav/1/event-1.ics", strings.NewReader(sampleICS)), userID, "alice")
	h.ServeHTTP(httptest.NewRecorder(), create)

	update := withPrincipal(httptest.NewRequest(http.MethodPut, "/caldav/1/event-1.ics", strings.NewReader(sampleICS)), userID, "alice")
	update.Header.Set("If-Match", `"stale-etag"`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, update)
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412 for a stale If-Match etag", rec.Code)
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	h, userID := newTestHandlers(t)
	create := withPrincipal(httptest.NewRequest(http.MethodPut, "/caldav/1/event-1.ics", strings.NewReader(sampleICS)), userID, "alice")
	h.ServeHTTP(httptest.NewRecorder(), create)

	del := withPrincipal(httptest.NewRequest(http.MethodDelete, "/caldav/1/event-1.ics", nil), userID, "alice")
	delRec := httptest.NewRecorder()
	h.ServeHTTP(delRec, del)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", delRec.Code)
	}

	get := withPrincipal(httptest.NewRequest(http.MethodGet, "/caldav/1/event-1.ics", nil), userID, "alice")
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, get)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("GET after delete status = %d, want 404", getRec.Code)
	}
}

func TestCrossUserAccessForbidden(t *testing.T) {
	h, _ := newTestHandlers(t)
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/caldav/1/event-1.ics", nil), 999, "eve")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for cross-user access", rec.Code)
	}
}

func TestPropfindCollectionDepth1(t *testing.T) {
	h, userID := newTestHandlers(t)
	create := withPrincipal(httptest.NewRequest(http.MethodPut, "/caldav/1/event-1.ics", strings.NewReader(sampleICS)), userID, "alice")
	h.ServeHTTP(httptest.NewRecorder(), create)

	req := withPrincipal(httptest.NewRequest("PROPFIND", "/caldav/1/", nil), userID, "alice")
	req.Header.Set("Depth", "1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("PROPFIND status = %d, want 207, body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "event-1.ics") {
		t.Fatalf("PROPFIND multistatus missing the member resource: %s", rec.Body.String())
	}
}

func TestReportSyncCollectionInvalidToken(t *testing.T) {
	h, userID := newTestHandlers(t)
	body := `<?xml version="1.0"?><sync-collection xmlns="DAV:"><sync-token>bogus</sync-token></sync-collection>`
	req := withPrincipal(httptest.NewRequest("REPORT", "/caldav/1/", strings.NewReader(body)), userID, "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for an invalid sync-token", rec.Code)
	}
}

func TestReportSyncCollectionFromScratch(t *testing.T) {
	h, userID := newTestHandlers(t)
	create := withPrincipal(httptest.NewRequest(http.MethodPut, "/caldav/1/event-1.ics", strings.NewReader(sampleICS)), userID, "alice")
	h.ServeHTTP(httptest.NewRecorder(), create)

	body := `<?xml version="1.0"?><sync-collection xmlns="DAV:"><sync-token/></sync-collection>`
	req := withPrincipal(httptest.NewRequest("REPORT", "/caldav/1/", strings.NewReader(body)), userID, "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("REPORT status = %d, want 207, body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "event-1.ics") {
		t.Fatalf("sync-collection response missing the new resource: %s", rec.Body.String())
	}
}

func TestOptionsAdvertisesCalendarAccess(t *testing.T) {
	h, _ := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodOptions, "/caldav/1/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("OPTIONS status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("DAV"), "calendar-access") {
		t.Fatalf("DAV header missing calendar-access: %q", rec.Header().Get("DAV"))
	}
}
