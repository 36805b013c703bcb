package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/TrTueTah/ventidole-core/pkg/errors"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[apperrors.Code]int{
		apperrors.CodeUnauthenticated:  http.StatusUnauthorized,
		apperrors.CodeUnauthorized:     http.StatusForbidden,
		apperrors.CodePermissionDenied: http.StatusForbidden,
		apperrors.CodeNotFound:         http.StatusNotFound,
		apperrors.CodeInvalidArgument:  http.StatusBadRequest,
		apperrors.CodeConflict:         http.StatusConflict,
		apperrors.CodeAlreadyExists:    http.StatusConflict,
		apperrors.CodeInternal:         http.StatusInternalServerError,
		apperrors.CodeUnknown:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), "code %s", code)
	}
}

func TestWriteData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, map[string]string{"token": "abc"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusOK, env.StatusCode)
	assert.Equal(t, "OK", env.Message)
	assert.Empty(t, env.ErrorCode)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, apperrors.ErrNotAParticipant)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusForbidden, env.StatusCode)
	assert.Equal(t, "not a participant of this channel", env.Message)
	assert.Equal(t, apperrors.CodeUnauthorized, env.ErrorCode)
	assert.Nil(t, env.Data)
}

func TestCreatedEnvelope(t *testing.T) {
	env := Created("x")
	assert.Equal(t, http.StatusCreated, env.StatusCode)
	assert.Equal(t, "CREATED", env.Message)
}
