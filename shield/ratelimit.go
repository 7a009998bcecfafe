package shield

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Schema is the rate_limits table read by RateLimiter. Endpoints are keyed
// as "METHOD /path", e.g. "POST /save-drawing".
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);
`

// Rule is the limit for one endpoint.
type Rule struct {
	Endpoint      string `yaml:"endpoint"`
	MaxRequests   int    `yaml:"max_requests"`
	WindowSeconds int    `yaml:"window_seconds"`
	Enabled       bool   `yaml:"enabled"`
}

// SeedRules creates the table and upserts rules into it.
func SeedRules(ctx context.Context, db *sql.DB, rules []Rule) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("shield: schema: %w", err)
	}
	for _, r := range rules {
		enabled := 0
		if r.Enabled {
			enabled = 1
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(endpoint) DO UPDATE SET
				max_requests = excluded.max_requests,
				window_seconds = excluded.window_seconds,
				enabled = excluded.enabled`,
			r.Endpoint, r.MaxRequests, r.WindowSeconds, enabled)
		if err != nil {
			return fmt.Errorf("shield: seed %q: %w", r.Endpoint, err)
		}
	}
	return nil
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window per-IP, per-endpoint limiter with rules
// loaded from the rate_limits table. Endpoints without an enabled rule are
// not limited.
type RateLimiter struct {
	db      *sql.DB
	mu      sync.RWMutex
	rules   map[string]Rule
	buckets sync.Map // ip + " " + endpoint -> *bucket
	now     func() time.Time
}

// NewRateLimiter loads rules from db. Call StartReloader for periodic
// refresh and bucket GC.
func NewRateLimiter(db *sql.DB) *RateLimiter {
	rl := &RateLimiter{db: db, rules: map[string]Rule{}, now: time.Now}
	rl.Reload()
	return rl
}

// StartReloader reloads rules every minute and drops expired buckets every
// five, until ctx is done.
func (rl *RateLimiter) StartReloader(ctx context.Context) {
	reloadTick := time.NewTicker(time.Minute)
	gcTick := time.NewTicker(5 * time.Minute)
	go func() {
		defer reloadTick.Stop()
		defer gcTick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-reloadTick.C:
				rl.Reload()
			case <-gcTick.C:
				rl.gc()
			}
		}
	}()
}

// Reload re-reads the rules. On error the previous rules stay active.
func (rl *RateLimiter) Reload() {
	rows, err := rl.db.Query(`SELECT endpoint, max_requests, window_seconds, enabled FROM rate_limits`)
	if err != nil {
		slog.Warn("ratelimit: failed to reload rules", "error", err)
		return
	}
	defer rows.Close()

	rules := make(map[string]Rule)
	for rows.Next() {
		var r Rule
		var enabled int
		if err := rows.Scan(&r.Endpoint, &r.MaxRequests, &r.WindowSeconds, &enabled); err != nil {
			continue
		}
		r.Enabled = enabled == 1
		rules[r.Endpoint] = r
	}

	rl.mu.Lock()
	rl.rules = rules
	rl.mu.Unlock()
	slog.Debug("ratelimit: rules reloaded", "count", len(rules))
}

func (rl *RateLimiter) gc() {
	now := rl.now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) allow(ip, endpoint string) bool {
	rl.mu.RLock()
	rule, ok := rl.rules[endpoint]
	rl.mu.RUnlock()
	if !ok || !rule.Enabled {
		return true
	}

	now := rl.now()
	window := time.Duration(rule.WindowSeconds) * time.Second
	val, _ := rl.buckets.LoadOrStore(ip+" "+endpoint, &bucket{resetAt: now.Add(window)})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(window)
	}
	b.count++
	return b.count <= rule.MaxRequests
}

// Middleware answers 429 with a JSON error once a client exceeds the rule
// for "METHOD /path".
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)
		if rl.allow(ip, endpoint) {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)
		w.Header().Set("Retry-After", "60")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
