package ddnsrelay_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Travis-Britz/ddnsrelay"
	"github.com/cloudflare/cloudflare-go"
)

// fakeCloudflare serves the handful of v4 API endpoints the provider uses.
type fakeCloudflare struct {
	mu      sync.Mutex
	zones   map[string]string
	records []map[string]any
	last    *http.Request
	body    map[string]any
	reject  bool
	// outage answers record writes with this 5xx status; outagePage sends HTML instead of JSON
	outage     int
	outagePage bool
	posts      int
}

func (f *fakeCloudflare) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /zones", func(w http.ResponseWriter, r *http.Request) {
		f.capture(r)
		var result []map[string]any
		if id, ok := f.zones[r.URL.Query().Get("name")]; ok {
			result = append(result, map[string]any{"id": id, "name": r.URL.Query().Get("name")})
		}
		writeResult(w, result, len(result))
	})
	mux.HandleFunc("GET /zones/{zone}/dns_records", func(w http.ResponseWriter, r *http.Request) {
		f.capture(r)
		if f.reject {
			writeErrors(w, http.StatusForbidden, 10000, "Authentication error")
			return
		}
		var result []map[string]any
		for _, rec := range f.records {
			if rec["name"] == r.URL.Query().Get("name") && rec["type"] == r.URL.Query().Get("type") {
				result = append(result, rec)
			}
		}
		writeResult(w, result, len(result))
	})
	mux.HandleFunc("POST /zones/{zone}/dns_records", func(w http.ResponseWriter, r *http.Request) {
		f.capture(r)
		f.mu.Lock()
		f.posts++
		f.mu.Unlock()
		if f.outage != 0 {
			f.writeOutage(w)
			return
		}
		if f.reject {
			writeErrors(w, http.StatusBadRequest, 81057, "Record already exists.")
			return
		}
		rec := f.body
		rec["id"] = "rec-new"
		writeResult(w, rec, 1)
	})
	mux.HandleFunc("PUT /zones/{zone}/dns_records/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.capture(r)
		rec := f.body
		rec["id"] = r.PathValue("id")
		writeResult(w, rec, 1)
	})
	return mux
}

func (f *fakeCloudflare) capture(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = r
	f.body = map[string]any{}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&f.body)
	}
}

func (f *fakeCloudflare) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts
}

func (f *fakeCloudflare) writeOutage(w http.ResponseWriter) {
	if f.outagePage {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(f.outage)
		w.Write([]byte("<html><body>bad gateway</body></html>"))
		return
	}
	writeErrors(w, f.outage, 1000, "upstream down")
}

func writeResult(w http.ResponseWriter, result any, count int) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"errors":   []any{},
		"messages": []any{},
		"result":   result,
		"result_info": map[string]int{
			"page": 1, "per_page": 5, "count": count, "total_count": count, "total_pages": 1,
		},
	})
}

func writeErrors(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success":  false,
		"errors":   []map[string]any{{"code": code, "message": message}},
		"messages": []any{},
		"result":   nil,
	})
}

func newTestCloudflare(t *testing.T, f *fakeCloudflare) ddnsrelay.Provider {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	p, err := ddnsrelay.NewCloudflare("test-token",
		cloudflare.BaseURL(srv.URL),
		cloudflare.UsingRateLimit(1000),
	)
	if err != nil {
		t.Fatalf("NewCloudflare failed: %s", err)
	}
	return p
}

func TestCloudflareZoneID(t *testing.T) {
	f := &fakeCloudflare{zones: map[string]string{"example.com": "zone1"}}
	p := newTestCloudflare(t, f)

	id, err := p.ZoneID(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("ZoneID failed: %s", err)
	}
	if id != "zone1" {
		t.Fatalf("Expected %q; got %q", "zone1", id)
	}
	if expected, got := "Bearer test-token", f.last.Header.Get("Authorization"); expected != got {
		t.Fatalf("Expected %q; got %q", expected, got)
	}

	_, err = p.ZoneID(context.Background(), "missing.net")
	if !errors.Is(err, ddnsrelay.ErrZoneNotFound) {
		t.Fatalf("Expected ErrZoneNotFound; got %v", err)
	}
}

func TestCloudflareFindRecord(t *testing.T) {
	f := &fakeCloudflare{records: []map[string]any{
		{"id": "rec123", "type": "A", "name": "home.example.com", "content": "198.51.100.1", "ttl": 300, "proxied": true},
	}}
	p := newTestCloudflare(t, f)

	rec, err := p.FindRecord(context.Background(), "zone1", "home.example.com", "A")
	if err != nil {
		t.Fatalf("FindRecord failed: %s", err)
	}
	if rec == nil || rec.ID != "rec123" || rec.ZoneID != "zone1" || rec.Content != "198.51.100.1" || !rec.Proxied {
		t.Fatalf("Unexpected record: %+v", rec)
	}
	if expected, got := "/zones/zone1/dns_records", f.last.URL.Path; expected != got {
		t.Fatalf("Expected %q; got %q", expected, got)
	}

	rec, err = p.FindRecord(context.Background(), "zone1", "home.example.com", "AAAA")
	if err != nil {
		t.Fatalf("FindRecord failed: %s", err)
	}
	if rec != nil {
		t.Fatalf("Expected no record; got %+v", rec)
	}
}

func TestCloudflareCreateRecord(t *testing.T) {
	f := &fakeCloudflare{}
	p := newTestCloudflare(t, f)

	rec, err := p.CreateRecord(context.Background(), "zone1", ddnsrelay.Record{Type: "A", Name: "home.example.com", Content: "203.0.113.7", TTL: 1})
	if err != nil {
		t.Fatalf("CreateRecord failed: %s", err)
	}
	if rec.ID != "rec-new" || rec.Content != "203.0.113.7" {
		t.Fatalf("Unexpected record: %+v", rec)
	}
	if f.last.Method != http.MethodPost {
		t.Fatalf("Expected POST; got %s", f.last.Method)
	}
	if f.body["type"] != "A" || f.body["name"] != "home.example.com" || f.body["content"] != "203.0.113.7" || f.body["ttl"] != float64(1) {
		t.Fatalf("Unexpected request body: %+v", f.body)
	}
	if proxied, ok := f.body["proxied"].(bool); !ok || proxied {
		t.Fatalf("Expected proxied to be sent as false; got %v", f.body["proxied"])
	}
	if _, ok := f.body["comment"]; ok {
		t.Fatalf("Expected no comment on a created record; got %+v", f.body)
	}
}

func TestCloudflareUpdateRecord(t *testing.T) {
	f := &fakeCloudflare{}
	p := newTestCloudflare(t, f)

	rec, err := p.UpdateRecord(context.Background(), "zone1", ddnsrelay.Record{ID: "rec123", Type: "AAAA", Name: "home.example.com", Content: "2001:db8::7", TTL: 120})
	if err != nil {
		t.Fatalf("UpdateRecord failed: %s", err)
	}
	if rec.ID != "rec123" {
		t.Fatalf("Expected %q; got %q", "rec123", rec.ID)
	}
	if f.last.Method != http.MethodPut || f.last.URL.Path != "/zones/zone1/dns_records/rec123" {
		t.Fatalf("Unexpected request: %s %s", f.last.Method, f.last.URL.Path)
	}
	if f.body["type"] != "AAAA" || f.body["content"] != "2001:db8::7" || f.body["ttl"] != float64(120) || f.body["proxied"] != false {
		t.Fatalf("Unexpected request body: %+v", f.body)
	}
	if _, ok := f.body["comment"]; ok {
		t.Fatalf("Expected no comment for a record without one; got %+v", f.body)
	}

	if _, err := p.UpdateRecord(context.Background(), "zone1", ddnsrelay.Record{Type: "A"}); err == nil {
		t.Fatalf("Expected an error for a record without an ID")
	}
}

func TestCloudflareErrors(t *testing.T) {
	f := &fakeCloudflare{reject: true}
	p := newTestCloudflare(t, f)

	_, err := p.CreateRecord(context.Background(), "zone1", ddnsrelay.Record{Type: "A", Name: "home.example.com", Content: "203.0.113.7", TTL: 1})
	var pe *ddnsrelay.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected a *ddnsrelay.ProviderError; got %v", err)
	}
	if len(pe.Messages) != 1 || pe.Messages[0].Code != 81057 || pe.Messages[0].Message != "Record already exists." {
		t.Fatalf("Expected the cloudflare error list; got %+v", pe.Messages)
	}

	relay, err := ddnsrelay.New(secret, ddnsrelay.UsingProvider(p), ddnsrelay.WithZone("example.com", "zone1"))
	if err != nil {
		t.Fatalf("ddnsrelay.New failed: %s", err)
	}
	res := handle(relay, `{"prefix":"home","ip":"203.0.113.7"}`)
	if res.Status != http.StatusBadGateway {
		t.Fatalf("Expected 502; got %d %+v", res.Status, res.Body)
	}
	if len(res.Body.Errors) != 1 || res.Body.Errors[0].Code != 10000 {
		t.Fatalf("Expected the cloudflare error list in the response; got %+v", res.Body.Errors)
	}
}

func TestCloudflareServiceUnavailable(t *testing.T) {
	f := &fakeCloudflare{outage: http.StatusServiceUnavailable}
	p := newTestCloudflare(t, f)

	start := time.Now()
	_, err := p.CreateRecord(context.Background(), "zone1", ddnsrelay.Record{Type: "A", Name: "home.example.com", Content: "203.0.113.7", TTL: 1})
	var pe *ddnsrelay.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected a *ddnsrelay.ProviderError; got %v", err)
	}
	if f.postCount() != 1 {
		t.Fatalf("Expected the create to be sent once; got %d POSTs", f.postCount())
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Fatalf("Expected no retry backoff; took %s", elapsed)
	}
	if len(pe.Messages) != 1 || pe.Messages[0].Code != 1000 || pe.Messages[0].Message != "upstream down" {
		t.Fatalf("Expected the cloudflare error list; got %+v", pe.Messages)
	}

	relay, err := ddnsrelay.New(secret, ddnsrelay.UsingProvider(p), ddnsrelay.WithZone("example.com", "zone1"))
	if err != nil {
		t.Fatalf("ddnsrelay.New failed: %s", err)
	}
	res := handle(relay, `{"prefix":"home","ip":"203.0.113.7"}`)
	if res.Status != http.StatusBadGateway {
		t.Fatalf("Expected 502; got %d %+v", res.Status, res.Body)
	}
	if len(res.Body.Errors) != 1 || res.Body.Errors[0].Code != 1000 {
		t.Fatalf("Expected the cloudflare error list in the response; got %+v", res.Body.Errors)
	}
	if f.postCount() != 2 {
		t.Fatalf("Expected one more POST from the relay; got %d in total", f.postCount())
	}
}

func TestCloudflareServiceUnavailablePage(t *testing.T) {
	f := &fakeCloudflare{outage: http.StatusBadGateway, outagePage: true}
	p := newTestCloudflare(t, f)

	_, err := p.CreateRecord(context.Background(), "zone1", ddnsrelay.Record{Type: "A", Name: "home.example.com", Content: "203.0.113.7", TTL: 1})
	var pe *ddnsrelay.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected a *ddnsrelay.ProviderError; got %v", err)
	}
	if len(pe.Messages) != 0 {
		t.Fatalf("Expected no error list from an HTML page; got %+v", pe.Messages)
	}
	if f.postCount() != 1 {
		t.Fatalf("Expected the create to be sent once; got %d POSTs", f.postCount())
	}
}
