package messagestore

import (
	"encoding/base64"
	"strconv"

	apperrors "github.com/TrTueTah/ventidole-core/pkg/errors"
)

// Cursors are opaque to clients: the snowflake id of the last scanned
// row, base64-encoded. Ids are unique and time-ordered, so paging with
// `id < cursor` never repeats or skips a message.

func EncodeCursor(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

func DecodeCursor(cursor string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, apperrors.InvalidArg("malformed cursor")
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, apperrors.InvalidArg("malformed cursor")
	}
	return id, nil
}
