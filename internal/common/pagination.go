package common

import (
	"net/http"
	"strconv"
)

const maxPageSize = 100

// Page is a 1-based page request parsed from ?page=&limit=.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"limit"`
}

// PageFromQuery reads page and limit, falling back to page 1 and defaultSize.
// Sizes above 100 are clamped.
func PageFromQuery(r *http.Request, defaultSize int) Page {
	q := r.URL.Query()
	p := Page{Number: 1, Size: defaultSize}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		p.Number = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		p.Size = n
	}
	p.Size = min(p.Size, maxPageSize)
	return p
}

// WritePage renders a list response with pagination metadata and the
// X-Total-Count header.
func WritePage(w http.ResponseWriter, items any, p Page, total int) {
	pages := 0
	if p.Size > 0 {
		pages = (total + p.Size - 1) / p.Size
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	JSON(w, http.StatusOK, map[string]any{
		"data": items,
		"pagination": map[string]int{
			"page":       p.Number,
			"limit":      p.Size,
			"total":      total,
			"totalPages": pages,
		},
	})
}
