package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	heldAt := time.Date(2026, 8, 12, 9, 15, 0, 0, time.UTC)

	encoded := Encode(heldAt, "hold_7f3a")
	assert.NotEmpty(t, encoded)

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, heldAt, cursor.CreatedAt)
	assert.Equal(t, "hold_7f3a", cursor.ID)
}

func TestDecode_EmptyMeansFirstPage(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := Decode("not-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	// Valid base64 without the separator.
	_, err = Decode("aG9sZF83ZjNh")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	// Separator present but the timestamp is not numeric.
	_, err = Decode("eWVzdGVyZGF5fGhvbGRfMQ==")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestComputePage_LastPage(t *testing.T) {
	holds := []string{"hold_1", "hold_2", "hold_3"}
	page, cursor, hasMore := ComputePage(holds, 5, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Len(t, page, 3)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestComputePage_ExtraRowSignalsMore(t *testing.T) {
	holds := []string{"hold_1", "hold_2", "hold_3", "hold_4"}
	page, cursor, hasMore := ComputePage(holds, 3, func(s string) (time.Time, string) {
		return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), s
	})
	assert.Len(t, page, 3)
	assert.True(t, hasMore)

	// The cursor points at the last item actually returned, not the
	// trimmed sentinel row.
	c, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, "hold_3", c.ID)
}

func TestComputePage_ExactlyLimit(t *testing.T) {
	holds := []string{"hold_1", "hold_2", "hold_3"}
	page, cursor, hasMore := ComputePage(holds, 3, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Len(t, page, 3)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}
