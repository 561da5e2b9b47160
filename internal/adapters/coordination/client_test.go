package coordination

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ghalamif/SoundMap/internal/domain"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("McGill:45.504812985241564,-73.57715606689453")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if target.Tag != "McGill" || target.Location.Latitude != 45.504812985241564 || target.Location.Longitude != -73.57715606689453 {
		t.Fatalf("unexpected target %+v", target)
	}

	target, err = ParseTarget("  Lab:45.5048,-73.5772\n")
	if err != nil || target.Tag != "Lab" || !near(target.Location.Longitude, -73.5772) {
		t.Fatalf("padded line: target %+v err %v", target, err)
	}
}

func TestParseTargetMalformed(t *testing.T) {
	for _, line := range []string{"", "NoColonHere", "Tag:onlylat", ":1,2", "Tag:1,2,3", "Tag:x,2",
		"X:NaN,NaN", "X:Inf,0", "X:0,-Infinity", "X:91,0", "X:0,180.5"} {
		if _, err := ParseTarget(line); !errors.Is(err, domain.ErrMalformed) {
			t.Fatalf("ParseTarget(%q) err=%v, want ErrMalformed", line, err)
		}
	}
}

func TestParsePeers(t *testing.T) {
	peers := ParsePeers("Foo:45.50,-73.57;Bar:45.55,-73.23")
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}
	if peers[0].Name != "Foo" || peers[1].Name != "Bar" {
		t.Fatalf("unexpected order %+v", peers)
	}
	if !near(peers[0].Location.Latitude, 45.50) || !near(peers[0].Location.Longitude, -73.57) {
		t.Fatalf("Foo location %+v", peers[0].Location)
	}
	if !near(peers[1].Location.Latitude, 45.55) || !near(peers[1].Location.Longitude, -73.23) {
		t.Fatalf("Bar location %+v", peers[1].Location)
	}
}

func TestParsePeersSkipsBadEntries(t *testing.T) {
	peers := ParsePeers("alice:45.5,-73.6;garbage;:1,2;dave:NaN,0;carol:1,2;")
	if len(peers) != 2 || peers[0].Name != "alice" || peers[1].Name != "carol" {
		t.Fatalf("unexpected roster %+v", peers)
	}
	if got := ParsePeers("Tag:onlylat"); got == nil || len(got) != 0 {
		t.Fatalf("single malformed entry should give empty roster, got %#v", got)
	}
	if got := ParsePeers(""); got == nil || len(got) != 0 {
		t.Fatalf("empty body should give empty roster, got %#v", got)
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:        url,
		WaitInterval:   5 * time.Millisecond,
		MaxWaitRetries: 3,
		RequestTimeout: time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestRequestTargetSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/location" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("username") != "jo" || r.Header.Get("lat") != "45.5" || r.Header.Get("lng") != "-73.57" {
			http.Error(w, "bad headers", http.StatusBadRequest)
			return
		}
		w.Write([]byte("McGill:45.5048,-73.5772\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	target, err := c.RequestTarget(context.Background(), "jo", domain.GeoPoint{Latitude: 45.5, Longitude: -73.57})
	if err != nil {
		t.Fatalf("request target: %v", err)
	}
	if target.Tag != "McGill" {
		t.Fatalf("unexpected tag %q", target.Tag)
	}
}

func TestWaitRetriesSameRequest(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []http.Header
		hits []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Clone())
		hits = append(hits, time.Now())
		n := len(seen)
		mu.Unlock()
		if r.URL.Path != "/location" {
			http.NotFound(w, r)
			return
		}
		if n == 1 {
			w.Write([]byte("Wait"))
			return
		}
		w.Write([]byte("McGill:45.5048,-73.5772"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	target, err := c.RequestTarget(context.Background(), "jo", domain.GeoPoint{Latitude: 45.5, Longitude: -73.57})
	if err != nil {
		t.Fatalf("request target: %v", err)
	}
	if target.Tag != "McGill" {
		t.Fatalf("unexpected tag %q", target.Tag)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", len(seen))
	}
	if gap := hits[1].Sub(hits[0]); gap < c.cfg.WaitInterval {
		t.Fatalf("retry came %s after the wait reply, want at least %s", gap, c.cfg.WaitInterval)
	}
	for _, key := range []string{"username", "lat", "lng"} {
		if first, retry := seen[0].Get(key), seen[1].Get(key); first == "" || first != retry {
			t.Fatalf("header %s changed across the retry: %q then %q", key, first, retry)
		}
	}
}

func TestWaitExhaustionTimesOut(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("Wait"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.RequestTarget(context.Background(), "jo", domain.GeoPoint{})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("expected 1 request plus 3 retries, got %d", got)
	}
}

func TestMalformedTargetResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("NoColonHere"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.RequestTarget(context.Background(), "jo", domain.GeoPoint{}); !errors.Is(err, domain.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	if _, err := c.RequestPeers(context.Background()); !errors.Is(err, domain.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestNon2xxIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.RequestTarget(context.Background(), "jo", domain.GeoPoint{}); !errors.Is(err, domain.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Fatal("expected error for missing base_url")
	}
	if _, err := NewClient(Config{BaseURL: "ftp://x"}, nil); err == nil {
		t.Fatal("expected error for non-http base_url")
	}
}
