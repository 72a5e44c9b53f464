package feed

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/smallworld/internal/models"
	apperrors "github.com/charlesng35/smallworld/pkg/errors"
)

func post(id string, at time.Time) models.Post {
	return models.Post{BaseModel: models.BaseModel{ID: id, CreatedAt: at}}
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 123456789, time.FixedZone("X", 3600))
	cursor := CursorFor(post("b", at))

	token := cursor.Encode()
	require.NotEmpty(t, token)
	require.NotContains(t, token, "=")

	decoded, err := Decode(token)
	require.NoError(t, err)
	require.Equal(t, "b", decoded.ID)
	require.True(t, decoded.CreatedAt.Equal(at.Truncate(time.Microsecond)))
}

func TestDecodeEmptyAndInvalid(t *testing.T) {
	cursor, err := Decode("")
	require.NoError(t, err)
	require.True(t, cursor.IsZero())
	require.Equal(t, "", cursor.Encode())

	for _, token := range []string{
		"!!!",
		base64.RawURLEncoding.EncodeToString([]byte("no-separator")),
		base64.RawURLEncoding.EncodeToString([]byte("abc|id")),
		base64.RawURLEncoding.EncodeToString([]byte("123|")),
		base64.RawURLEncoding.EncodeToString([]byte("-5|id")),
	} {
		_, err := Decode(token)
		require.ErrorIs(t, err, apperrors.ErrBadRequest, "token %q", token)
	}
}

func TestCursorBefore(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cursor := CursorFor(post("m", at))

	require.True(t, cursor.Before(post("a", at.Add(-time.Second))))
	require.True(t, cursor.Before(post("z", at)))
	require.False(t, cursor.Before(post("m", at)))
	require.False(t, cursor.Before(post("a", at)))
	require.False(t, cursor.Before(post("z", at.Add(time.Second))))
	require.True(t, Cursor{}.Before(post("x", at)))
}

func TestMergeOrdersDeduplicatesAndLimits(t *testing.T) {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	world := []models.Post{post("w2", base.Add(2 * time.Minute)), post("w1", base)}
	friends := []models.Post{post("f1", base.Add(time.Minute)), post("a-tie", base)}
	public := []models.Post{post("w1", base), post("p0", base.Add(-time.Minute))}

	merged, hasMore := Merge(4, world, friends, public)
	require.True(t, hasMore)
	ids := make([]string, 0, len(merged))
	for _, p := range merged {
		ids = append(ids, p.ID)
	}
	require.Equal(t, []string{"w2", "f1", "a-tie", "w1"}, ids)

	merged, hasMore = Merge(10, world, friends, public)
	require.False(t, hasMore)
	require.Len(t, merged, 5)

	merged, hasMore = Merge(5, world, friends, public)
	require.False(t, hasMore)
	require.Len(t, merged, 5)
}
