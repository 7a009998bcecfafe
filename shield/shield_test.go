package shield

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/emosketch/dbopen"
	"github.com/hazyhaar/emosketch/kit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func newTestLimiter(t *testing.T, rules ...Rule) *RateLimiter {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := SeedRules(context.Background(), db, rules); err != nil {
		t.Fatal(err)
	}
	return NewRateLimiter(db)
}

// WHAT: The limiter blocks the request past max_requests with a JSON 429.
// WHY: save-drawing writes to disk; a runaway client must not fill it.
func TestRateLimiter_Blocks(t *testing.T) {
	rl := newTestLimiter(t, Rule{Endpoint: "POST /save-drawing", MaxRequests: 2, WindowSeconds: 60, Enabled: true})
	h := rl.Middleware(okHandler)

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodPost, "/save-drawing", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[i] = rec.Code
		if rec.Code == http.StatusTooManyRequests {
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("429 Content-Type = %q", ct)
			}
		}
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != 429 {
		t.Fatalf("codes = %v, want [200 200 429]", codes)
	}

	// Other clients and other endpoints are unaffected.
	req := httptest.NewRequest(http.MethodPost, "/save-drawing", nil)
	req.RemoteAddr = "192.0.2.2:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Errorf("other ip: %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/X.npy", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Errorf("unlimited endpoint: %d", rec.Code)
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := newTestLimiter(t, Rule{Endpoint: "GET /prepare", MaxRequests: 1, WindowSeconds: 10, Enabled: true})
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.allow("ip", "GET /prepare") || rl.allow("ip", "GET /prepare") {
		t.Fatal("expected allow then block")
	}
	now = now.Add(11 * time.Second)
	if !rl.allow("ip", "GET /prepare") {
		t.Fatal("window did not reset")
	}
	now = now.Add(time.Hour)
	rl.gc()
	if _, ok := rl.buckets.Load("ip GET /prepare"); ok {
		t.Error("expired bucket not collected")
	}
}

func TestRateLimiter_DisabledRule(t *testing.T) {
	rl := newTestLimiter(t, Rule{Endpoint: "GET /stats", MaxRequests: 0, WindowSeconds: 60, Enabled: false})
	for i := 0; i < 5; i++ {
		if !rl.allow("ip", "GET /stats") {
			t.Fatal("disabled rule limited a request")
		}
	}
}

func TestSeedRules_Upsert(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx := context.Background()
	SeedRules(ctx, db, []Rule{{Endpoint: "GET /x", MaxRequests: 1, WindowSeconds: 1, Enabled: true}})
	SeedRules(ctx, db, []Rule{{Endpoint: "GET /x", MaxRequests: 9, WindowSeconds: 1, Enabled: true}})
	rl := NewRateLimiter(db)
	if rl.rules["GET /x"].MaxRequests != 9 {
		t.Errorf("rule = %+v", rl.rules["GET /x"])
	}
}

func TestTraceID(t *testing.T) {
	var traceID string
	var hasLogger bool
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = kit.GetTraceID(r.Context())
		_, hasLogger = r.Context().Value(LoggerKey).(*slog.Logger)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if len(traceID) != 8 || rec.Header().Get("X-Trace-ID") != traceID {
		t.Fatalf("trace id %q, header %q", traceID, rec.Header().Get("X-Trace-ID"))
	}
	if !hasLogger {
		t.Error("no request logger")
	}
}

func TestDefaultStack(t *testing.T) {
	var h http.Handler = okHandler
	stack := DefaultStack(nil, 10)
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/health", nil))
	if rec.Code != 200 {
		t.Fatalf("HEAD: %d", rec.Code)
	}
	for _, hdr := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "X-Trace-ID"} {
		if rec.Header().Get(hdr) == "" {
			t.Errorf("missing %s", hdr)
		}
	}
}

func TestMaxJSONBody(t *testing.T) {
	var readErr error
	h := MaxJSONBody(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 16)
		_, readErr = r.Body.Read(buf)
		for readErr == nil {
			_, readErr = r.Body.Read(buf)
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/save-drawing", strings.NewReader("0123456789")))
	if readErr == nil || readErr.Error() == "EOF" {
		t.Fatalf("read err = %v, want body too large", readErr)
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.9:555"
	if ip := ExtractIP(req); ip != "192.0.2.9" {
		t.Errorf("ip = %q", ip)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if ip := ExtractIP(req); ip != "203.0.113.5" {
		t.Errorf("xff ip = %q", ip)
	}
}
