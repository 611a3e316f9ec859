package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/WessleyAI/kitchensink/engine/subscription"
)

const testDirectory = `
current: alice
discoverability: true
users:
  - record_id: alice
    given_name: Alice
    family_name: Liddell
  - record_id: bob
    given_name: Bob
    discoverable: true
`

func testConfig(t *testing.T) config {
	t.Helper()
	dir := t.TempDir()
	users := filepath.Join(dir, "users.yaml")
	if err := os.WriteFile(users, []byte(testDirectory), 0o644); err != nil {
		t.Fatal(err)
	}
	return config{
		Backend:      "memory",
		PageSize:     2,
		AssetBackend: "disk",
		AssetDir:     filepath.Join(dir, "assets"),
		Directory:    users,
		Prefs:        filepath.Join(dir, "prefs.yaml"),
		CORSOrigin:   "*",
	}
}

func newTestServer(t *testing.T, cfg config) (*httptest.Server, *services) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := openServices(context.Background(), cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(newHandler(svc, cfg, logger))
	t.Cleanup(func() {
		ts.Close()
		svc.Close()
	})
	return ts, svc
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(t))
	resp := do(t, "GET", ts.URL+"/api/health", nil)
	expectStatus(t, resp, http.StatusOK)
	h := decode[healthBody](t, resp)
	if h.Status != "ok" || h.Breaker != "closed" || h.Activity {
		t.Fatalf("health = %+v", h)
	}
}

func TestRecordLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(t))

	movie := record.NewMovie("Heat")
	movie.ID = ""
	resp := do(t, "POST", ts.URL+"/api/records", movie)
	expectStatus(t, resp, http.StatusCreated)
	saved := decode[record.Record](t, resp)
	if saved.ID == "" || saved.Version != 1 {
		t.Fatalf("saved = %+v", saved)
	}

	saved.Set("rating", record.IntValue(5))
	resp = do(t, "POST", ts.URL+"/api/records", saved)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[record.Record](t, resp); got.Version != 2 {
		t.Fatalf("version = %d", got.Version)
	}

	resp = do(t, "GET", ts.URL+"/api/records/"+string(saved.ID), nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[record.Record](t, resp); got.Text("title") != "Heat" {
		t.Fatalf("fetched = %+v", got)
	}

	resp = do(t, "GET", ts.URL+"/api/types", nil)
	expectStatus(t, resp, http.StatusOK)
	if types := decode[[]string](t, resp); len(types) != 1 || types[0] != record.MovieType {
		t.Fatalf("types = %v", types)
	}

	expectStatus(t, do(t, "DELETE", ts.URL+"/api/records/"+string(saved.ID), nil), http.StatusNoContent)
	expectStatus(t, do(t, "GET", ts.URL+"/api/records/"+string(saved.ID), nil), http.StatusNotFound)
	expectStatus(t, do(t, "DELETE", ts.URL+"/api/records/"+string(saved.ID), nil), http.StatusNotFound)
}

func TestSaveRecordValidation(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(t))
	expectStatus(t, do(t, "POST", ts.URL+"/api/records", []byte("{not json")), http.StatusBadRequest)
	expectStatus(t, do(t, "POST", ts.URL+"/api/records", record.New("bad type")), http.StatusBadRequest)
}

func TestQueryEndpoint(t *testing.T) {
	ts, svc := newTestServer(t, testConfig(t))
	seedMovies(t, svc.db, "Star Wars", "Alien", "Lone Star", "Stardust", "Heat")

	resp := do(t, "POST", ts.URL+"/api/query", map[string]any{
		"filter": record.Contains("title", "STAR"),
	})
	expectStatus(t, resp, http.StatusOK)
	got := decode[queryResponse](t, resp)
	if len(got.Records) != 3 || got.Error != "" {
		t.Fatalf("query = %+v", got)
	}

	resp = do(t, "POST", ts.URL+"/api/query", map[string]any{})
	expectStatus(t, resp, http.StatusOK)
	if got := decode[queryResponse](t, resp); len(got.Records) != 5 {
		t.Fatalf("match all returned %d records", len(got.Records))
	}

	resp = do(t, "POST", ts.URL+"/api/query", map[string]any{"record_type": "Book"})
	expectStatus(t, resp, http.StatusOK)
	if got := decode[queryResponse](t, resp); got.Records == nil || len(got.Records) != 0 {
		t.Fatalf("expected empty record list, got %+v", got)
	}
}

func TestQueryEndpointRejectsInvalidFilter(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(t))
	resp := do(t, "POST", ts.URL+"/api/query", []byte(`{"filter":{"kind":"text","text":"  "}}`))
	expectStatus(t, resp, http.StatusBadRequest)
	resp = do(t, "POST", ts.URL+"/api/query", []byte(`{"filter":{"kind":"near"}}`))
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestSubscriptionEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(t))

	resp := do(t, "POST", ts.URL+"/api/subscriptions", nil)
	expectStatus(t, resp, http.StatusCreated)
	created := decode[subscription.Subscription](t, resp)
	if created.ID == "" || created.Notification.AlertKey != subscription.MovieAlertKey {
		t.Fatalf("created = %+v", created)
	}

	custom := subscription.DefaultMovie()
	custom.Filter = record.Contains("title", "star")
	resp = do(t, "POST", ts.URL+"/api/subscriptions", custom)
	expectStatus(t, resp, http.StatusCreated)

	resp = do(t, "GET", ts.URL+"/api/subscriptions", nil)
	expectStatus(t, resp, http.StatusOK)
	if subs := decode[[]subscription.Subscription](t, resp); len(subs) != 2 {
		t.Fatalf("listed %d subscriptions", len(subs))
	}

	expectStatus(t, do(t, "DELETE", ts.URL+"/api/subscriptions/"+created.ID, nil), http.StatusNoContent)
	expectStatus(t, do(t, "DELETE", ts.URL+"/api/subscriptions/"+created.ID, nil), http.StatusNotFound)

	bad := subscription.DefaultMovie()
	bad.Fires = nil
	expectStatus(t, do(t, "POST", ts.URL+"/api/subscriptions", bad), http.StatusBadRequest)
}

func TestSubscriptionRecordsAreProtected(t *testing.T) {
	ts, svc := newTestServer(t, testConfig(t))

	movie, err := svc.db.Save(context.Background(), record.NewMovie("Heat"))
	if err != nil {
		t.Fatal(err)
	}
	hijack := subscription.DefaultMovie()
	hijack.ID = string(movie.ID)
	expectStatus(t, do(t, "POST", ts.URL+"/api/subscriptions", hijack), http.StatusBadRequest)

	resp := do(t, "GET", ts.URL+"/api/records/"+string(movie.ID), nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[record.Record](t, resp); got.Type != record.MovieType {
		t.Fatalf("movie replaced by %+v", got)
	}

	expectStatus(t, do(t, "POST", ts.URL+"/api/records", record.New(subscription.RecordType)), http.StatusBadRequest)

	resp = do(t, "POST", ts.URL+"/api/subscriptions", nil)
	expectStatus(t, resp, http.StatusCreated)
	created := decode[subscription.Subscription](t, resp)
	over := record.NewMovie("Alien")
	over.ID = record.ID(created.ID)
	expectStatus(t, do(t, "POST", ts.URL+"/api/records", over), http.StatusBadRequest)

	resp = do(t, "GET", ts.URL+"/api/subscriptions", nil)
	expectStatus(t, resp, http.StatusOK)
	if subs := decode[[]subscription.Subscription](t, resp); len(subs) != 1 || subs[0].ID != created.ID {
		t.Fatalf("subscriptions = %+v", subs)
	}
}

func TestUserEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, testConfig(t))

	resp := do(t, "GET", ts.URL+"/api/users/me", nil)
	expectStatus(t, resp, http.StatusOK)
	me := decode[whoami](t, resp)
	if me.Status != "available" || me.UserRecordID != "alice" || me.Name != "Alice Liddell" || me.Avatar != nil {
		t.Fatalf("me = %+v", me)
	}

	resp = do(t, "GET", ts.URL+"/api/users", nil)
	expectStatus(t, resp, http.StatusOK)
	if ids := decode[[]map[string]any](t, resp); len(ids) != 1 || ids[0]["user_record_id"] != "bob" {
		t.Fatalf("discovered = %v", ids)
	}

	var img bytes.Buffer
	if err := png.Encode(&img, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatal(err)
	}
	resp = do(t, "PUT", ts.URL+"/api/users/me/avatar", img.Bytes())
	expectStatus(t, resp, http.StatusOK)
	up := decode[avatarResponse](t, resp)
	if up.Avatar.Key == "" || up.Error != "" {
		t.Fatalf("avatar = %+v", up)
	}

	resp = do(t, "GET", ts.URL+"/api/assets/"+up.Avatar.Key, nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	if data, _ := io.ReadAll(resp.Body); !bytes.Equal(data, img.Bytes()) {
		t.Fatal("served avatar differs from upload")
	}

	resp = do(t, "PUT", ts.URL+"/api/users/me/avatar", []byte("not an image"))
	expectStatus(t, resp, http.StatusBadRequest)
	if failed := decode[avatarResponse](t, resp); failed.Avatar.Key != up.Avatar.Key {
		t.Fatalf("failed update must report the previous avatar, got %+v", failed)
	}

	resp = do(t, "GET", ts.URL+"/api/users/me", nil)
	expectStatus(t, resp, http.StatusOK)
	if me := decode[whoami](t, resp); me.Avatar == nil || me.Avatar.Key != up.Avatar.Key {
		t.Fatalf("me after avatar = %+v", me)
	}
}

func TestUserWithoutAccount(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(cfg.Directory, []byte("users: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ts, _ := newTestServer(t, cfg)

	resp := do(t, "GET", ts.URL+"/api/users/me", nil)
	expectStatus(t, resp, http.StatusOK)
	if me := decode[whoami](t, resp); me.Status != "no_account" || me.UserRecordID != "" {
		t.Fatalf("me = %+v", me)
	}
	expectStatus(t, do(t, "GET", ts.URL+"/api/users", nil), http.StatusUnauthorized)
}

func TestRateLimitAndMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rate, cfg.Burst = 0.001, 2
	ts, _ := newTestServer(t, cfg)

	expectStatus(t, do(t, "GET", ts.URL+"/api/health", nil), http.StatusOK)
	expectStatus(t, do(t, "GET", ts.URL+"/api/health", nil), http.StatusOK)
	expectStatus(t, do(t, "GET", ts.URL+"/api/health", nil), http.StatusTooManyRequests)

	// An unlimited server exports the request counter.
	cfg.Rate = 0
	ts2, _ := newTestServer(t, cfg)
	expectStatus(t, do(t, "GET", ts2.URL+"/api/health", nil), http.StatusOK)
	resp := do(t, "GET", ts2.URL+"/metrics", nil)
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `kitchensink_http_requests_total{method="GET",status="200"}`) {
		t.Fatalf("missing request counter:\n%s", body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{record.NewValidationError("x", "", record.ErrInvalidValue), http.StatusBadRequest},
		{subscription.ErrNotFound, http.StatusNotFound},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
