package handler

import (
	"net/http"
	"strconv"

	"github.com/openclaw/visitor-analytics-go/internal/service"
)

type PaginationParams struct {
	Page    int
	PerPage int
}

// ParsePagination reads page and per_page; unparsable values fall back to
// the defaults and per_page is clamped to service.MaxPerPage.
func ParsePagination(r *http.Request) PaginationParams {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	page, perPage = service.NormalizePagination(page, perPage)
	return PaginationParams{
		Page:    page,
		PerPage: perPage,
	}
}

type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
