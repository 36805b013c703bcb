package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TrTueTah/ventidole-core/pkg/auth"
	apperrors "github.com/TrTueTah/ventidole-core/pkg/errors"
	"github.com/TrTueTah/ventidole-core/pkg/response"
)

func newTestHandler() http.Handler {
	api := NewAPI(nil, auth.NewVerifier("test-secret", 1), nil, slog.Default())
	mux := http.NewServeMux()
	api.Routes(mux)
	return CORSMiddleware(mux)
}

// Every protected endpoint sends Authorization, which always triggers a
// browser preflight. The preflight must be answered with the CORS
// headers before method dispatch can 405 it.
func TestPreflightAnsweredBeforeMethodDispatch(t *testing.T) {
	handler := newTestHandler()

	for _, path := range []string{"/login", "/chat/channels", "/chat/messages", "/chat/channels/read"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Authorization")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost, path)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization", path)
	}
}

func TestCORSHeadersOnActualRequests(t *testing.T) {
	handler := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/chat/channels", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	handler := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/chat/channels", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, apperrors.CodeUnauthenticated, env.ErrorCode)
	assert.Nil(t, env.Data)
}
