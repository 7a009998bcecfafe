// Package shield is the HTTP middleware stack in front of the collector:
// security headers, JSON body limits, request tracing and per-IP rate
// limiting.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(rl, 8<<20) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the collector middleware stack in order:
// HeadToGet, SecurityHeaders, MaxJSONBody, TraceID, then rl when non-nil.
func DefaultStack(rl *RateLimiter, maxBody int64) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(maxBody),
		TraceID,
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}
