package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/TrTueTah/ventidole-core/pkg/errors"
)

func TestTokenRoundTrip(t *testing.T) {
	verifier := NewVerifier("test-secret", 1)
	userID := uuid.NewString()

	token, err := verifier.GenerateToken(userID, "member")
	require.NoError(t, err)

	claims, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "member", claims.Role)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewVerifier("secret-a", 1).GenerateToken(uuid.NewString(), "")
	require.NoError(t, err)

	_, err = NewVerifier("secret-b", 1).Verify(token)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	verifier := NewVerifier("test-secret", 1)
	_, err := verifier.Verify("not.a.token")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))
}

func TestStripBearer(t *testing.T) {
	assert.Equal(t, "abc", StripBearer("Bearer abc"))
	assert.Equal(t, "abc", StripBearer("abc"))
	assert.Equal(t, "", StripBearer(""))
}
