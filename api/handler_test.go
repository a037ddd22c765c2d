package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/api"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/store/memory"
)

const (
	internalToken = "internal-secret"
	adminToken    = "admin-secret"
)

// testServer creates a Handler backed by a memory store and returns the test server.
// The relay is not started, so jobs stay queued for inspection.
func testServer(t *testing.T) (*httptest.Server, *hookrelay.Relay, *memory.Store) {
	t.Helper()

	s := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := hookrelay.New(
		hookrelay.WithStore(s),
		hookrelay.WithLogger(logger),
		hookrelay.WithEventSchema("order.created", json.RawMessage(`{
			"type": "object",
			"required": ["orderId"]
		}`)),
	)
	if err != nil {
		t.Fatal(err)
	}

	h := api.NewHandler(r, api.Config{InternalToken: internalToken, AdminToken: adminToken}, logger)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, r, s
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func internal() map[string]string { return map[string]string{api.HeaderInternalToken: internalToken} }
func admin() map[string]string    { return map[string]string{api.HeaderAdminToken: adminToken} }

func registerWebhook(t *testing.T, srv *httptest.Server, eventType string) map[string]any {
	t.Helper()
	resp := doJSON(t, "POST", srv.URL+"/api/webhooks/register", map[string]any{
		"clientName": "acme",
		"eventType":  eventType,
		"targetUrl":  "https://example.com/hooks",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	var body struct {
		Message string         `json:"message"`
		Webhook map[string]any `json:"webhook"`
	}
	decodeBody(t, resp, &body)
	if body.Message != "Webhook registered" {
		t.Fatalf("unexpected message %q", body.Message)
	}
	return body.Webhook
}

// --- Auth ---

func TestAuth_TokensRequired(t *testing.T) {
	srv, _, _ := testServer(t)

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
	}{
		{"ingest without token", "POST", "/api/events", nil},
		{"ingest with admin token", "POST", "/api/events", admin()},
		{"stats without token", "GET", "/api/admin/stats", nil},
		{"stats with internal token", "GET", "/api/admin/stats", internal()},
		{"deliveries with wrong token", "GET", "/api/deliveries", map[string]string{api.HeaderAdminToken: "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.method, srv.URL+tt.path, map[string]any{}, tt.headers)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
		})
	}
}

func TestAuth_EmptyTokenDisablesCheck(t *testing.T) {
	r, err := hookrelay.New(hookrelay.WithStore(memory.New()))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.NewHandler(r, api.Config{}, nil))
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/api/admin/stats", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

// --- Webhooks ---

func TestWebhooks_Register(t *testing.T) {
	srv, _, _ := testServer(t)

	wh := registerWebhook(t, srv, "order.created")
	if secret, _ := wh["secret"].(string); len(secret) != 64 {
		t.Fatalf("expected 64-char secret, got %q", secret)
	}
	if active, _ := wh["isActive"].(bool); !active {
		t.Fatal("new webhook should be active")
	}

	// The secret never appears in listings.
	resp := doJSON(t, "GET", srv.URL+"/api/webhooks", nil, admin())
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 webhook, got %d", len(list))
	}
	if _, ok := list[0]["secret"]; ok {
		t.Fatal("secret must not be listed")
	}
}

func TestWebhooks_RegisterValidation(t *testing.T) {
	srv, _, _ := testServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing client name", map[string]any{"eventType": "a", "targetUrl": "https://x.test"}},
		{"missing event type", map[string]any{"clientName": "a", "targetUrl": "https://x.test"}},
		{"ftp target", map[string]any{"clientName": "a", "eventType": "a", "targetUrl": "ftp://x.test"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, "POST", srv.URL+"/api/webhooks/register", tt.body, nil)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestWebhooks_UpdateAndDelete(t *testing.T) {
	srv, _, _ := testServer(t)
	wh := registerWebhook(t, srv, "order.created")
	path := srv.URL + "/api/webhooks/" + wh["id"].(string)

	resp := doJSON(t, "PATCH", path, map[string]any{"isActive": false}, admin())
	var updated map[string]any
	decodeBody(t, resp, &updated)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	if active, _ := updated["isActive"].(bool); active {
		t.Fatal("expected webhook to be deactivated")
	}

	resp = doJSON(t, "PATCH", path, map[string]any{}, admin())
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("update without isActive: expected 400, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "DELETE", path, nil, admin())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "DELETE", path, nil, admin())
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", resp.StatusCode)
	}
}

// --- Events ---

func TestEvents_Ingest(t *testing.T) {
	srv, _, s := testServer(t)
	registerWebhook(t, srv, "order.created")
	registerWebhook(t, srv, "order.created")

	resp := doJSON(t, "POST", srv.URL+"/api/events", map[string]any{
		"eventType": "order.created",
		"payload":   map[string]any{"orderId": "ord_1"},
	}, internal())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest: expected 201, got %d", resp.StatusCode)
	}
	var body struct {
		Success bool   `json:"success"`
		EventID string `json:"eventId"`
	}
	decodeBody(t, resp, &body)
	if !body.Success {
		t.Fatal("expected success")
	}
	if _, err := id.ParseEventID(body.EventID); err != nil {
		t.Fatalf("invalid event id %q: %v", body.EventID, err)
	}
	if n := len(s.Jobs()); n != 2 {
		t.Fatalf("expected 2 jobs, got %d", n)
	}

	resp = doJSON(t, "GET", srv.URL+"/api/events/"+body.EventID, nil, admin())
	var evt map[string]any
	decodeBody(t, resp, &evt)
	if evt["status"] != "PENDING" {
		t.Fatalf("expected PENDING, got %v", evt["status"])
	}
	if evt["eventType"] != "order.created" {
		t.Fatalf("unexpected event type %v", evt["eventType"])
	}
}

func TestEvents_IngestValidation(t *testing.T) {
	srv, _, _ := testServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing event type", map[string]any{"payload": map[string]any{}}},
		{"missing payload", map[string]any{"eventType": "user.created"}},
		{"scalar payload", map[string]any{"eventType": "user.created", "payload": 42}},
		{"schema violation", map[string]any{"eventType": "order.created", "payload": map[string]any{"total": 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, "POST", srv.URL+"/api/events", tt.body, internal())
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestEvents_GetNotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	for _, path := range []string{"/api/events/" + id.NewEventID().String(), "/api/events/garbage"} {
		resp := doJSON(t, "GET", srv.URL+path, nil, admin())
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestEventTypes_List(t *testing.T) {
	srv, _, _ := testServer(t)

	resp := doJSON(t, "GET", srv.URL+"/api/event-types", nil, admin())
	var body struct {
		EventTypes []string `json:"eventTypes"`
	}
	decodeBody(t, resp, &body)
	if len(body.EventTypes) != 1 || body.EventTypes[0] != "order.created" {
		t.Fatalf("unexpected event types %v", body.EventTypes)
	}
}

// --- Deliveries ---

func seedRecord(t *testing.T, s *memory.Store, terminal bool, at time.Time) *delivery.Record {
	t.Helper()
	job := delivery.NewJob(id.NewEventID(), id.NewSubscriptionID(), false, at)
	job.Attempt = 5
	rec := delivery.NewRecord(job, delivery.Failure{Message: "unexpected status code 500"}, terminal)
	rec.CreatedAt = at
	if err := s.AppendRecord(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestDeliveries_Retry(t *testing.T) {
	srv, _, s := testServer(t)
	rec := seedRecord(t, s, true, time.Now().UTC())

	resp := doJSON(t, "POST", srv.URL+"/api/deliveries/"+rec.ID.String()+"/retry", nil, admin())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("retry: expected 202, got %d", resp.StatusCode)
	}
	var body struct {
		Message string `json:"message"`
		JobID   string `json:"jobId"`
	}
	decodeBody(t, resp, &body)
	if body.JobID == "" {
		t.Fatal("expected job id")
	}

	jobs := s.Jobs()
	if len(jobs) != 1 || !jobs[0].IsRetry || jobs[0].Attempt != 1 {
		t.Fatalf("unexpected queue %+v", jobs)
	}

	resp = doJSON(t, "POST", srv.URL+"/api/deliveries/"+id.NewRecordID().String()+"/retry", nil, admin())
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown record: expected 404, got %d", resp.StatusCode)
	}
}

func TestDeliveries_ListFilters(t *testing.T) {
	srv, _, s := testServer(t)
	now := time.Now().UTC()
	seedRecord(t, s, false, now.Add(-time.Minute))
	dead := seedRecord(t, s, true, now)

	resp := doJSON(t, "GET", srv.URL+"/api/deliveries?terminal=true", nil, admin())
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 || list[0]["id"] != dead.ID.String() {
		t.Fatalf("expected only the terminal record, got %v", list)
	}

	resp = doJSON(t, "GET", srv.URL+"/api/deliveries?from=yesterday", nil, admin())
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad from: expected 400, got %d", resp.StatusCode)
	}
}

// --- Dead letters ---

func TestDeadLetters_ListAndBulkRetry(t *testing.T) {
	srv, _, s := testServer(t)
	now := time.Now().UTC()
	seedRecord(t, s, true, now.Add(-2*time.Hour))
	seedRecord(t, s, true, now.Add(-10*time.Minute))
	seedRecord(t, s, false, now.Add(-5*time.Minute))

	resp := doJSON(t, "GET", srv.URL+"/api/deadletters", nil, admin())
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 dead letters, got %d", len(list))
	}

	resp = doJSON(t, "POST", srv.URL+"/api/deadletters/retry", map[string]any{
		"from": now.Add(-time.Hour),
		"to":   now,
	}, admin())
	var body struct {
		Retried int64 `json:"retried"`
	}
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("bulk retry: expected 202, got %d", resp.StatusCode)
	}
	if body.Retried != 1 {
		t.Fatalf("expected 1 retry, got %d", body.Retried)
	}

	resp = doJSON(t, "POST", srv.URL+"/api/deadletters/retry", map[string]any{
		"from": now,
		"to":   now.Add(-time.Hour),
	}, admin())
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("inverted window: expected 400, got %d", resp.StatusCode)
	}
}

// --- Admin ---

func TestAdmin_Stats(t *testing.T) {
	srv, _, s := testServer(t)
	registerWebhook(t, srv, "user.created")
	resp := doJSON(t, "POST", srv.URL+"/api/events", map[string]any{
		"eventType": "user.created",
		"payload":   map[string]any{"id": 1},
	}, internal())
	resp.Body.Close()
	seedRecord(t, s, true, time.Now().UTC())

	resp = doJSON(t, "GET", srv.URL+"/api/admin/stats", nil, admin())
	var stats hookrelay.Stats
	decodeBody(t, resp, &stats)
	if stats.TotalEvents != 1 || stats.PendingJobs != 1 || stats.TotalDeliveries != 1 || stats.DeadLetters != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestAdmin_Health(t *testing.T) {
	srv, _, s := testServer(t)

	resp := doJSON(t, "GET", srv.URL+"/api/admin/health", nil, nil)
	var body map[string]string
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "OK" {
		t.Fatalf("expected OK, got %d %v", resp.StatusCode, body)
	}

	_ = s.Close()
	resp = doJSON(t, "GET", srv.URL+"/api/admin/health", nil, nil)
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusInternalServerError || body["status"] != "DB ERROR" {
		t.Fatalf("expected DB ERROR, got %d %v", resp.StatusCode, body)
	}
}

func TestRequestID(t *testing.T) {
	srv, _, _ := testServer(t)

	resp := doJSON(t, "GET", srv.URL+"/api/admin/health", nil, nil)
	resp.Body.Close()
	if resp.Header.Get(api.HeaderRequestID) == "" {
		t.Fatal("expected generated request id")
	}

	resp = doJSON(t, "GET", srv.URL+"/api/admin/health", nil, map[string]string{api.HeaderRequestID: "req-123"})
	resp.Body.Close()
	if got := resp.Header.Get(api.HeaderRequestID); got != "req-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}
