package v1

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/helixml/folio/infrastructure/api/jsonapi"
)

// PaginationParams holds pagination parameters parsed from query strings.
type PaginationParams struct {
	page     int
	pageSize int
}

// DefaultPageSize is the default number of items per page.
const DefaultPageSize = 20

// MaxPageSize is the maximum allowed page size.
const MaxPageSize = 100

// NewPaginationParams creates pagination params with defaults.
func NewPaginationParams() PaginationParams {
	return PaginationParams{
		page:     1,
		pageSize: DefaultPageSize,
	}
}

// ParsePagination parses page and page_size from the query string.
// Invalid values keep the defaults; page_size is capped at MaxPageSize.
func ParsePagination(r *http.Request) PaginationParams {
	params := NewPaginationParams()

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if page, err := strconv.Atoi(pageStr); err == nil && page >= 1 {
			params.page = page
		}
	}

	if sizeStr := r.URL.Query().Get("page_size"); sizeStr != "" {
		if size, err := strconv.Atoi(sizeStr); err == nil && size >= 1 {
			params.pageSize = min(size, MaxPageSize)
		}
	}

	return params
}

// Page returns the page number (1-indexed).
func (p PaginationParams) Page() int { return p.page }

// PageSize returns the page size.
func (p PaginationParams) PageSize() int { return p.pageSize }

// Offset returns the index of the first item on the page.
func (p PaginationParams) Offset() int {
	return (p.page - 1) * p.pageSize
}

// Bounds returns the half-open slice bounds of the page within total items.
func (p PaginationParams) Bounds(total int) (lo, hi int) {
	lo = min(p.Offset(), total)
	hi = min(lo+p.pageSize, total)
	return lo, hi
}

func (p PaginationParams) totalPages(total int) int {
	if p.pageSize <= 0 {
		return 0
	}
	return (total + p.pageSize - 1) / p.pageSize
}

// PaginationMeta builds a JSON:API meta object from pagination params and total count.
func PaginationMeta(params PaginationParams, total int) *jsonapi.Meta {
	return &jsonapi.Meta{
		"page":        params.Page(),
		"page_size":   params.PageSize(),
		"total_count": total,
		"total_pages": params.totalPages(total),
	}
}

// PaginationLinks builds JSON:API links from the request, params, and total count.
func PaginationLinks(r *http.Request, params PaginationParams, total int) *jsonapi.Links {
	totalPages := params.totalPages(total)

	buildURL := func(page int) string {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(params.PageSize()))
		return fmt.Sprintf("%s?%s", r.URL.Path, q.Encode())
	}

	links := jsonapi.Links{
		Self:  buildURL(params.Page()),
		First: buildURL(1),
	}
	if totalPages > 0 {
		links.Last = buildURL(totalPages)
	}
	if params.Page() > 1 {
		links.Prev = buildURL(params.Page() - 1)
	}
	if params.Page() < totalPages {
		links.Next = buildURL(params.Page() + 1)
	}

	return &links
}
