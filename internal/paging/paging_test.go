package paging

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numbers(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func intKey(i int) string { return strconv.Itoa(i) }

func TestNewRequest(t *testing.T) {
	tests := []struct {
		name    string
		offset  int
		limit   int
		want    Request
		wantErr bool
	}{
		{"first page", 0, 10, Request{Offset: 0, Limit: 10}, false},
		{"third page", 20, 10, Request{Offset: 20, Limit: 10}, false},
		{"default limit", 0, 0, Request{Offset: 0, Limit: DefaultLimit}, false},
		{"offset not aligned", 15, 10, Request{}, true},
		{"negative offset", -10, 10, Request{}, true},
		{"negative limit", 0, -1, Request{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewRequest(tt.offset, tt.limit)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPageRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubList(t *testing.T) {
	all := numbers(25)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, SubList(all, 0, 10))
	assert.Equal(t, []int{21, 22, 23, 24, 25}, SubList(all, 2, 10))
	assert.Empty(t, SubList(all, 3, 10))
}

func TestListToPageByOffset(t *testing.T) {
	all := numbers(25)
	req, err := NewRequest(10, 10)
	require.NoError(t, err)

	page, err := ListToPage(all, req, intKey)
	require.NoError(t, err)

	assert.Equal(t, numbers(20)[10:], page.Items)
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 10, page.Offset)
	assert.NotEmpty(t, page.SearchAfter)
}

func TestListToPageSearchAfterWalksEveryItemOnce(t *testing.T) {
	all := numbers(23)
	req, err := NewRequest(0, 5)
	require.NoError(t, err)

	var seen []int
	for {
		page, err := ListToPage(all, req, intKey)
		require.NoError(t, err)
		seen = append(seen, page.Items...)
		if page.SearchAfter == "" {
			break
		}
		req = req.WithSearchAfter(page.SearchAfter)
	}

	assert.Equal(t, all, seen)
}

func TestListToPageUnknownSearchAfter(t *testing.T) {
	req := Request{Limit: 5, SearchAfter: EncodeToken("999")}

	page, err := ListToPage(numbers(10), req, intKey)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.Total)
}

func TestListToPageMalformedToken(t *testing.T) {
	_, err := ListToPage(numbers(10), Request{Limit: 5, SearchAfter: "%%%"}, intKey)
	assert.ErrorIs(t, err, ErrInvalidPageRequest)
}
