package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/account-ledger/internal/logger"
)

func TestChain_RequestIDAndLogging(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	var seenID string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestIDFromContext(r.Context())
		reqLog := logger.FromContext(r.Context())
		reqLog.Info().Msg("inside handler")
		WriteJSON(w, http.StatusCreated, map[string]string{"ok": "yes"})
	}), log)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-42", seenID)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var access map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[1], &access))
	assert.Equal(t, "req-42", access["request_id"])
	assert.Equal(t, float64(http.StatusCreated), access["status"])
	assert.Contains(t, string(lines[0]), `"request_id":"req-42"`)
}

func TestRequestID_Generated(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, RequestIDFromContext(r.Context()))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/accounts", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWriteErrorCode(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorCode(rec, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "account not found")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"account not found","code":"ACCOUNT_NOT_FOUND"}`, rec.Body.String())
}
