package feed

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/charlesng35/smallworld/internal/models"
	apperrors "github.com/charlesng35/smallworld/pkg/errors"
)

// ErrInvalidCursor is returned for cursors that were not produced by Encode.
var ErrInvalidCursor = apperrors.NewBadRequest("invalid feed cursor")

// Cursor is the keyset position of the last post on a page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// IsZero reports whether the cursor marks the start of the feed.
func (c Cursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

// CursorFor returns the keyset position of post.
func CursorFor(post models.Post) Cursor {
	return Cursor{CreatedAt: models.NormalizeTime(post.CreatedAt), ID: post.ID}
}

// Encode renders the cursor as an opaque URL-safe token. The zero cursor encodes to "".
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := strconv.FormatInt(c.CreatedAt.UnixMicro(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a token produced by Encode. An empty token is the zero cursor.
func Decode(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, ErrInvalidCursor.WithInternal(err)
	}

	micros, id, ok := strings.Cut(string(raw), "|")
	if !ok || strings.TrimSpace(id) == "" {
		return Cursor{}, ErrInvalidCursor
	}
	value, err := strconv.ParseInt(micros, 10, 64)
	if err != nil || value <= 0 {
		return Cursor{}, ErrInvalidCursor
	}

	return Cursor{CreatedAt: time.UnixMicro(value).UTC(), ID: id}, nil
}

// Before reports whether post sorts strictly after the cursor in (created_at DESC, id ASC) order,
// i.e. whether it belongs on a later page.
func (c Cursor) Before(post models.Post) bool {
	if c.IsZero() {
		return true
	}
	created := models.NormalizeTime(post.CreatedAt)
	if created.Before(c.CreatedAt) {
		return true
	}
	return created.Equal(c.CreatedAt) && post.ID > c.ID
}
