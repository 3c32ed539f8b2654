// Package integration drives a real calendar-server binary end to end
// against a live Postgres instance: set DATABASE_URL (and build/install the
// calendar-server binary onto PATH) before running, e.g.
//
//	go build -o /usr/local/bin/calendar-server ./cmd/calendar-server
//	DATABASE_URL=postgres://... go test ./test/integration/...
//
// Skipped by default since there is no database to reach in a plain
// `go test ./...` run.
package integration

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"
)

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// signInitData builds a Telegram initData query string signed the way the
// real client does: secret_key = HMAC-SHA256("WebAppData", botToken), then
// HMAC-SHA256(secret_key, sorted "key=value" fields joined by "\n").
func signInitData(botToken string, fields map[string]string) string {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	var secret [32]byte
	copy(secret[:], mac.Sum(nil))

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(fields[k])
	}
	sigMAC := hmac.New(sha256.New, secret[:])
	sigMAC.Write([]byte(sb.String()))
	hash := hex.EncodeToString(sigMAC.Sum(nil))

	v := url.Values{}
	for k, val := range fields {
		v.Set(k, val)
	}
	v.Set("hash", hash)
	return v.Encode()
}

func TestIntegration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8090"
		os.Setenv("HTTP_ADDR", httpAddr)
	}
	hostPort := "127.0.0.1" + httpAddr
	baseURL := "http://" + hostPort
	basePath := os.Getenv("HTTP_BASE_PATH")
	if basePath == "" {
		basePath = "/caldav"
	}
	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		botToken = "test-bot-token"
		os.Setenv("TELEGRAM_BOT_TOKEN", botToken)
	}

	cmd := exec.Command("calendar-server")
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	time.Sleep(200 * time.Millisecond)
	waitPort(t, hostPort, 10*time.Second)

	client := &http.Client{Timeout: 10 * time.Second}

	initData := signInitData(botToken, map[string]string{
		"auth_date": strconv.FormatInt(time.Now().Unix(), 10),
		"user":      `{"id":4242,"first_name":"Ada","username":"ada"}`,
	})

	var devicePlaintext string
	t.Run("CreateDevicePassword", func(t *testing.T) {
		devicePlaintext = testCreateDevicePassword(t, client, baseURL, initData)
	})

	authz := basicAuth("ada", devicePlaintext)

	t.Run("Options", func(t *testing.T) {
		testOptions(t, client, baseURL, basePath)
	})

	t.Run("BasicEventOperations", func(t *testing.T) {
		testBasicEventOperations(t, client, baseURL, basePath, authz)
	})

	t.Run("PropfindCollection", func(t *testing.T) {
		testPropfindCollection(t, client, baseURL, basePath, authz)
	})

	t.Run("SyncCollection", func(t *testing.T) {
		testSyncCollection(t, client, baseURL, basePath, authz)
	})

	t.Run("JSONAPIRoundTrip", func(t *testing.T) {
		testJSONAPIRoundTrip(t, client, baseURL, initData)
	})
}

func testCreateDevicePassword(t *testing.T, client *http.Client, baseURL, initData string) string {
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/devices", bytes.NewReader([]byte(`{"display_name":"integration-test"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Telegram-Init-Data", initData)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("create device password: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, body)
	}
	var dev struct {
		Plaintext string `json:"password"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dev); err != nil {
		t.Fatalf("decode device response: %v", err)
	}
	if dev.Plaintext == "" {
		t.Fatal("device creation response missing the plaintext password")
	}
	return dev.Plaintext
}

func testOptions(t *testing.T, client *http.Client, baseURL, basePath string) {
	req, _ := http.NewRequest(http.MethodOptions, baseURL+basePath+"/1/", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("OPTIONS status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("DAV"), "calendar-access") {
		t.Fatalf("DAV header missing calendar-access: %q", resp.Header.Get("DAV"))
	}
}

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//integration-test//EN
BEGIN:VEVENT
UID:integration-event-1
DTSTART:20260901T100000Z
DTEND:20260901T110000Z
SUMMARY:Integration Kickoff
END:VEVENT
END:VCALENDAR
`

func testBasicEventOperations(t *testing.T, client *http.Client, baseURL, basePath, authz string) {
	href := baseURL + basePath + "/ada/integration-event-1.ics"

	putReq, _ := http.NewRequest(http.MethodPut, href, strings.NewReader(sampleICS))
	putReq.Header.Set("Authorization", authz)
	putReq.Header.Set("Content-Type", "text/calendar")
	putResp, err := client.Do(putReq)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	defer putResp.Body.Close()
	if putResp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(putResp.Body)
		t.Fatalf("PUT status = %d, want 201, body=%s", putResp.StatusCode, body)
	}

	getReq, _ := http.NewRequest(http.MethodGet, href, nil)
	getReq.Header.Set("Authorization", authz)
	getResp, err := client.Do(getReq)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	body, _ := io.ReadAll(getResp.Body)
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want 200, body=%s", getResp.StatusCode, body)
	}
	if !strings.Contains(string(body), "Integration Kickoff") {
		t.Fatalf("GET body missing SUMMARY: %s", body)
	}

	delReq, _ := http.NewRequest(http.MethodDelete, href, nil)
	delReq.Header.Set("Authorization", authz)
	delResp, err := client.Do(delReq)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", delResp.StatusCode)
	}

	// recreate for the later subtests that expect the resource to exist
	putReq2, _ := http.NewRequest(http.MethodPut, href, strings.NewReader(sampleICS))
	putReq2.Header.Set("Authorization", authz)
	putResp2, err := client.Do(putReq2)
	if err != nil {
		t.Fatalf("PUT (recreate): %v", err)
	}
	putResp2.Body.Close()
}

func testPropfindCollection(t *testing.T, client *http.Client, baseURL, basePath, authz string) {
	req, _ := http.NewRequest("PROPFIND", baseURL+basePath+"/ada/", nil)
	req.Header.Set("Authorization", authz)
	req.Header.Set("Depth", "1")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("PROPFIND: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusMultiStatus {
		t.Fatalf("PROPFIND status = %d, want 207, body=%s", resp.StatusCode, body)
	}
	ms, err := parseMultiStatus(body)
	if err != nil {
		t.Fatalf("parse multistatus: %v", err)
	}
	found := false
	for _, r := range ms.Responses {
		if !strings.Contains(r.Href, "integration-event-1.ics") {
			continue
		}
		found = true
		// Requesting every property on a resource mixes a 200 propstat
		// (getetag, calendar-data, ...) with a 404 one for collection-only
		// properties (displayname, getctag, ...); at least one must be 200.
		anyOK := false
		for _, ps := range r.PropStat {
			if statusOK(ps.Status) {
				anyOK = true
			}
		}
		if !anyOK {
			t.Errorf("propstat for %s has no 200 entry", r.Href)
		}
	}
	if !found {
		t.Fatalf("PROPFIND response missing the event member: %s", body)
	}
}

func testSyncCollection(t *testing.T, client *http.Client, baseURL, basePath, authz string) {
	reqBody := `<?xml version="1.0"?><sync-collection xmlns="DAV:"><sync-token/></sync-collection>`
	req, _ := http.NewRequest("REPORT", baseURL+basePath+"/ada/", strings.NewReader(reqBody))
	req.Header.Set("Authorization", authz)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("REPORT sync-collection: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusMultiStatus {
		t.Fatalf("sync-collection status = %d, want 207, body=%s", resp.StatusCode, body)
	}
	ms, err := parseMultiStatus(body)
	if err != nil {
		t.Fatalf("parse multistatus: %v", err)
	}
	if ms.SyncToken == "" {
		t.Fatal("sync-collection response missing a sync-token")
	}

	// An unrecognized token is a 403 DAV:valid-sync-token precondition failure.
	staleBody := fmt.Sprintf(`<?xml version="1.0"?><sync-collection xmlns="DAV:"><sync-token>%s-bogus</sync-token></sync-collection>`, ms.SyncToken)
	staleReq, _ := http.NewRequest("REPORT", baseURL+basePath+"/ada/", strings.NewReader(staleBody))
	staleReq.Header.Set("Authorization", authz)
	staleResp, err := client.Do(staleReq)
	if err != nil {
		t.Fatalf("REPORT sync-collection (stale token): %v", err)
	}
	defer staleResp.Body.Close()
	if staleResp.StatusCode != http.StatusForbidden {
		t.Fatalf("stale sync-token status = %d, want 403", staleResp.StatusCode)
	}
}

func testJSONAPIRoundTrip(t *testing.T, client *http.Client, baseURL, initData string) {
	meReq, _ := http.NewRequest(http.MethodGet, baseURL+"/api/me", nil)
	meReq.Header.Set("X-Telegram-Init-Data", initData)
	meResp, err := client.Do(meReq)
	if err != nil {
		t.Fatalf("GET /api/me: %v", err)
	}
	defer meResp.Body.Close()
	if meResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(meResp.Body)
		t.Fatalf("/api/me status = %d, want 200, body=%s", meResp.StatusCode, body)
	}

	createBody := `{"summary":"API Event","start":"2026-09-02T10:00:00Z","end":"2026-09-02T11:00:00Z"}`
	createReq, _ := http.NewRequest(http.MethodPost, baseURL+"/api/events", strings.NewReader(createBody))
	createReq.Header.Set("Content-Type", "application/json")
	createReq.Header.Set("X-Telegram-Init-Data", initData)
	createResp, err := client.Do(createReq)
	if err != nil {
		t.Fatalf("POST /api/events: %v", err)
	}
	defer createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(createResp.Body)
		t.Fatalf("create event status = %d, want 201, body=%s", createResp.StatusCode, body)
	}

	listReq, _ := http.NewRequest(http.MethodGet, baseURL+"/api/events", nil)
	listReq.Header.Set("X-Telegram-Init-Data", initData)
	listResp, err := client.Do(listReq)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer listResp.Body.Close()
	body, _ := io.ReadAll(listResp.Body)
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("list events status = %d, want 200, body=%s", listResp.StatusCode, body)
	}
	if !strings.Contains(string(body), "API Event") {
		t.Fatalf("event list missing the created event: %s", body)
	}
}
