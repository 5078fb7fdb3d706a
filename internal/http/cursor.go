package httpx

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/hmellak/aistudio/internal/domain"
)

var errBadCursor = errors.New("malformed cursor")

// encodeCursor renders a continuation cursor as an opaque token. Callers
// hand the token back unmodified on the next list request.
func encodeCursor(cursor domain.Cursor) string {
	if cursor.Zero() {
		return ""
	}
	raw := cursor.At.UTC().Format(time.RFC3339Nano) + "|" + cursor.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(token string) (domain.Cursor, error) {
	if token == "" {
		return domain.Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return domain.Cursor{}, errBadCursor
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return domain.Cursor{}, errBadCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return domain.Cursor{}, errBadCursor
	}
	return domain.Cursor{At: ts, ID: id}, nil
}
