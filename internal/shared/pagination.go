package shared

import "math"

const (
	// DefaultPageLimit applies when a caller omits the limit.
	DefaultPageLimit = 20
	// MaxPageLimit caps the rows returned by one page.
	MaxPageLimit = 100
	// MaxPage caps the page number so offsets stay far from int overflow.
	MaxPage = 1_000_000
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NormalizePage clamps page and limit to their accepted ranges.
func NormalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if page <= 0 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	return page, limit
}

// Offset returns the number of rows preceding the page.
func Offset(page, limit int) int {
	page, limit = NormalizePage(page, limit)
	return (page - 1) * limit
}

// NewPagination computes pagination metadata.
func NewPagination(page, limit, total int) Pagination {
	page, limit = NormalizePage(page, limit)
	if total < 0 {
		total = 0
	}
	pages := int(math.Ceil(float64(total) / float64(limit)))
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}
