package messagestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/TrTueTah/ventidole-core/pkg/errors"
)

func TestCursorRoundTrip(t *testing.T) {
	for _, id := range []int64{1, 42, 1234567890123456789} {
		decoded, err := DecodeCursor(EncodeCursor(id))
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}
}

func TestCursorIsOpaque(t *testing.T) {
	assert.NotContains(t, EncodeCursor(123456), "123456")
}

func TestDecodeCursorMalformed(t *testing.T) {
	for _, cursor := range []string{"!!!", "bm90LWEtbnVtYmVy", "====", "         "} {
		_, err := DecodeCursor(cursor)
		require.Error(t, err, "cursor %q", cursor)
		assert.Equal(t, apperrors.CodeInvalidArgument, apperrors.CodeOf(err))
	}
}
