// Package middleware wraps the HTTP client used for the request layer.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// RoundTripperFunc adapts a function to http.RoundTripper
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip calls f(r)
func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Logging wraps next so every request is logged with its outcome. A nil
// next uses http.DefaultTransport. Headers are never logged since they
// carry bearer tokens.
func Logging(logger *slog.Logger, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()

		resp, err := next.RoundTrip(r)

		duration := time.Since(start)

		if err != nil {
			logger.Warn("http request failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
			)
			return resp, err
		}

		level := slog.LevelDebug
		if resp.StatusCode >= 500 {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", resp.StatusCode),
			slog.Int64("size", resp.ContentLength),
			slog.Duration("duration", duration),
		)
		return resp, nil
	})
}
