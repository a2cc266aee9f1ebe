package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct{ id string }

func TestBuildCursorPageInfoTrimsExtraRow(t *testing.T) {
	rows := []*row{{"1"}, {"2"}, {"3"}}
	page, info := BuildCursorPageInfo(rows, 2, func(r *row) string { return r.id })

	require.Len(t, page, 2)
	assert.True(t, info.HasMore)
	assert.Equal(t, "2", info.NextPageToken)

	page, info = BuildCursorPageInfo(rows, 3, func(r *row) string { return r.id })
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestCursorTokens(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", Seq: 7})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "42", cursor.ID)
	assert.Equal(t, int64(7), cursor.Seq)

	cursor, err = DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	_, err = DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Limit())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Limit())
	assert.Equal(t, 5, Pagination{PageSize: 5}.Limit())
}
