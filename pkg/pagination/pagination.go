package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Params holds page-number pagination extracted from a request.
type Params struct {
	Page     int
	PageSize int
}

// FromContext extracts pagination parameters from the echo context.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page <= 0 {
		page = 1
	}

	size, _ := strconv.Atoi(c.QueryParam("page_size"))
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	return Params{Page: page, PageSize: size}
}

// Limit returns the row limit for the page.
func (p Params) Limit() int { return p.PageSize }

// Offset returns the row offset for the page.
func (p Params) Offset() int { return (p.Page - 1) * p.PageSize }

// Response wraps a paginated API response.
type Response struct {
	Count       int         `json:"count"`
	TotalPages  int         `json:"total_pages"`
	CurrentPage int         `json:"current_page"`
	PageSize    int         `json:"page_size"`
	Next        *string     `json:"next"`
	Previous    *string     `json:"previous"`
	Results     interface{} `json:"results"`
}

// NewResponse builds the envelope for one page of results. basePath is the
// request path used to build next/previous links.
func NewResponse(results interface{}, total int, p Params, basePath string) *Response {
	totalPages := (total + p.PageSize - 1) / p.PageSize
	if totalPages < 1 {
		totalPages = 1
	}

	resp := &Response{
		Count:       total,
		TotalPages:  totalPages,
		CurrentPage: p.Page,
		PageSize:    p.PageSize,
		Results:     results,
	}

	if p.Page < totalPages {
		next := pageURL(basePath, p.Page+1, p.PageSize)
		resp.Next = &next
	}
	if p.Page > 1 {
		prev := pageURL(basePath, p.Page-1, p.PageSize)
		resp.Previous = &prev
	}

	return resp
}

func pageURL(basePath string, page, size int) string {
	return fmt.Sprintf("%s?page=%d&page_size=%d", basePath, page, size)
}
