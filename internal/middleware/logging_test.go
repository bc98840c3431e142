package middleware

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingRecordsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := &http.Client{Transport: Logging(logger, nil)}

	req, err := http.NewRequest(http.MethodGet, server.URL+"/game/AB12C", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	out := buf.String()
	assert.Contains(t, out, `"path":"/game/AB12C"`)
	assert.Contains(t, out, `"status":418`)
	assert.NotContains(t, out, "secret-token")
}

func TestLoggingRecordsFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	failing := RoundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial refused")
	})
	client := &http.Client{Transport: Logging(logger, failing)}

	_, err := client.Get("http://example.invalid/auth/refresh")
	require.Error(t, err)

	assert.Contains(t, buf.String(), "http request failed")
	assert.Contains(t, buf.String(), "dial refused")
}
