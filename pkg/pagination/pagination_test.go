package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, 10, NormalizeLimit(10))
}

func TestParseCursor(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 123, time.UTC), ID: uuid.New()}
	got, err := ParseCursor(EncodeCursor(want))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, want.ID, got.ID)

	empty, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)

	for _, bad := range []string{"not-base64!", EncodeCursor(Cursor{})[:4]} {
		_, err = ParseCursor(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}

type row struct {
	at time.Time
	id uuid.UUID
}

func TestTrim(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]row, 4)
	for i := range rows {
		rows[i] = row{at: base.Add(-time.Duration(i) * time.Minute), id: uuid.New()}
	}
	position := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page, next := Trim(rows, 3, position)
	assert.Len(t, page, 3)
	require.NotEmpty(t, next)
	cursor, err := ParseCursor(next)
	require.NoError(t, err)
	assert.Equal(t, rows[2].id, cursor.ID)

	page, next = Trim(rows[:3], 3, position)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
}

func TestKeysetRejectsBadCursor(t *testing.T) {
	_, err := Keyset(Params{Cursor: "%%%"})
	assert.ErrorIs(t, err, ErrInvalidCursor)

	scope, err := Keyset(Params{Limit: 5})
	require.NoError(t, err)
	assert.NotNil(t, scope)
}

func TestPageOffset(t *testing.T) {
	assert.Equal(t, 0, Page{}.Offset())
	assert.Equal(t, 40, Page{Page: 3, Limit: 20}.Offset())
	n := Page{Page: -2, Limit: 1000}.Normalize()
	assert.Equal(t, 1, n.Page)
	assert.Equal(t, MaxLimit, n.Limit)
}
