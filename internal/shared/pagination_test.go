package shared

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePage(t *testing.T) {
	cases := []struct {
		name              string
		page, limit       int
		wantPage, wantLim int
	}{
		{"defaults", 0, 0, 1, DefaultPageLimit},
		{"negative", -3, -1, 1, DefaultPageLimit},
		{"limit capped", 2, 1000, 2, MaxPageLimit},
		{"page capped", math.MaxInt, 10, MaxPage, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, limit := NormalizePage(tc.page, tc.limit)
			assert.Equal(t, tc.wantPage, page)
			assert.Equal(t, tc.wantLim, limit)
		})
	}
}

func TestOffsetNeverOverflows(t *testing.T) {
	assert.Equal(t, 0, Offset(1, 10))
	assert.Equal(t, 20, Offset(3, 10))
	assert.Equal(t, (MaxPage-1)*MaxPageLimit, Offset(1<<62, MaxPageLimit))
	assert.Positive(t, Offset(math.MaxInt, math.MaxInt))
}

func TestNewPaginationPages(t *testing.T) {
	p := NewPagination(2, 10, 25)
	assert.Equal(t, Pagination{Page: 2, Limit: 10, Total: 25, Pages: 3}, p)
	assert.Zero(t, NewPagination(1, 10, -5).Total)
}
