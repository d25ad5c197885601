// Package pagination implements the opaque cursors used by the hold,
// dispute, and transaction listing endpoints.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor reports a cursor string that cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is a decoded position in a listing, ordered by creation time
// with the id breaking ties.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode packs a (timestamp, id) position into an opaque string.
func Encode(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode unpacks a cursor produced by Encode. An empty string decodes
// to nil, meaning start from the beginning.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	stamp, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ComputePage trims a limit+1 fetch down to the page. When the extra
// row is present there is a next page, and the cursor points at the
// last returned item via extractKey.
func ComputePage[T any](items []T, limit int, extractKey func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := extractKey(items[len(items)-1])
	return items, Encode(createdAt, id), true
}
