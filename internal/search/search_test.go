package search

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPrefix(t *testing.T) {
	p, rest := SplitPrefix("ge2021-05-25")
	assert.Equal(t, Ge, p)
	assert.Equal(t, "2021-05-25", rest)

	p, rest = SplitPrefix("2021-05-25")
	assert.Equal(t, Eq, p)
	assert.Equal(t, "2021-05-25", rest)
}

func TestMatchesDate(t *testing.T) {
	ref := time.Date(2021, 5, 25, 0, 0, 0, 0, time.UTC)
	before := ref.Add(-48 * time.Hour)
	after := ref.Add(48 * time.Hour)

	assert.True(t, MatchesDate(Eq, ref, ref))
	assert.True(t, MatchesDate(Ne, before, ref))
	assert.True(t, MatchesDate(Gt, after, ref))
	assert.True(t, MatchesDate(Lt, before, ref))
	assert.True(t, MatchesDate(Ge, ref, ref))
	assert.True(t, MatchesDate(Le, ref, ref))
	assert.True(t, MatchesDate(Ap, ref.Add(time.Hour), ref))
	assert.False(t, MatchesDate(Ap, after, ref))
}

func TestParseSort(t *testing.T) {
	fields := ParseSort("-date,agent")
	require.Len(t, fields, 2)
	assert.Equal(t, SortField{Name: "date", Desc: true}, fields[0])
	assert.Equal(t, SortField{Name: "agent", Desc: false}, fields[1])

	assert.Nil(t, ParseSort(""))
}

func TestParseCount(t *testing.T) {
	n, err := ParseCount("", 20, 100)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = ParseCount("500", 20, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	_, err = ParseCount("not-a-number", 20, 100)
	assert.Error(t, err)

	_, err = ParseCount("-5", 20, 100)
	assert.Error(t, err)
}

func TestPageIDRoundTrip(t *testing.T) {
	token := EncodePageID("2021-05-25T00:00:00Z", "abc-123")
	key, id, err := DecodePageID(token)
	require.NoError(t, err)
	assert.Equal(t, "2021-05-25T00:00:00Z", key)
	assert.Equal(t, "abc-123", id)

	key, id, err = DecodePageID("")
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Empty(t, id)

	_, _, err = DecodePageID("not-valid-base64!!")
	assert.Error(t, err)
}

type item struct {
	id  string
	key string
}

func (i item) SortKey() string { return i.key }
func (i item) ID() string      { return i.id }

func TestPagePaginatesInOrder(t *testing.T) {
	items := []item{
		{id: "c", key: "2021-01-03"},
		{id: "a", key: "2021-01-01"},
		{id: "b", key: "2021-01-02"},
		{id: "d", key: "2021-01-04"},
	}

	page1, next1, err := Page(items, false, 2, "")
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "a", page1[0].id)
	assert.Equal(t, "b", page1[1].id)
	assert.NotEmpty(t, next1)

	page2, next2, err := Page(items, false, 2, next1)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "c", page2[0].id)
	assert.Equal(t, "d", page2[1].id)
	assert.Empty(t, next2)
}

func TestPageDescending(t *testing.T) {
	items := []item{
		{id: "a", key: "2021-01-01"},
		{id: "b", key: "2021-01-02"},
	}

	page, _, err := Page(items, true, 10, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].id)
	assert.Equal(t, "a", page[1].id)
}

func TestPageRejectsMalformedCursor(t *testing.T) {
	_, _, err := Page([]item{{id: "a", key: "k"}}, false, 10, "not-valid-base64!!")
	assert.Error(t, err)
}

func TestPageWithSharedSortKeyTiebreaksByID(t *testing.T) {
	items := []item{
		{id: "z", key: "same"},
		{id: "a", key: "same"},
	}
	page, _, err := Page(items, false, 10, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].id)
	assert.Equal(t, "z", page[1].id)
}

func ExamplePage() {
	items := []item{{id: "1", key: "k1"}, {id: "2", key: "k2"}}
	page, _, _ := Page(items, false, 1, "")
	fmt.Println(page[0].id)
	// Output: 1
}
