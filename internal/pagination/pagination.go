// Package pagination turns loosely specified page requests into bounded,
// canonical ones and computes page metadata and navigation links.
//
// Every function here is total: bad input is clamped or defaulted, never rejected.
package pagination

import (
	"fmt"
	"math"
	"net/url"
)

const (
	MinPageSize     = 1
	MaxPageSize     = 100
	DefaultPageSize = 20
	DefaultPage     = 1
	DefaultSortBy   = "createdAt"

	// MaxPageNumber keeps Offset within 32 bits for every page size.
	MaxPageNumber = math.MaxInt32 / MaxPageSize

	// ContinuationTokenHeader carries the continuation token on HTTP requests and responses.
	ContinuationTokenHeader = "X-Continuation-Token"
)

// SortOrder is the direction of the result ordering.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// DefaultSortOrder is used when the request leaves the order unset or invalid.
const DefaultSortOrder = Desc

// Options is a loosely specified page request. Zero values mean "unset".
type Options struct {
	PageSize          int
	PageNumber        int
	SortBy            string
	SortOrder         SortOrder
	Filter            map[string]any
	ContinuationToken string
}

// Normalized is the canonical, bounded form of Options.
type Normalized struct {
	PageSize   int
	PageNumber int
	SortBy     string
	SortOrder  SortOrder
}

// Offset is the number of items skipped before the page starts.
func (n Normalized) Offset() int {
	return (n.PageNumber - 1) * n.PageSize
}

// Meta describes where a page sits in the full result set.
type Meta struct {
	CurrentPage     int   `json:"currentPage"`
	PageSize        int   `json:"pageSize"`
	TotalPages      int   `json:"totalPages"`
	TotalCount      int64 `json:"totalCount"`
	HasNextPage     bool  `json:"hasNextPage"`
	HasPreviousPage bool  `json:"hasPreviousPage"`
}

// Links are navigation URLs for a page. Next and Prev are empty when there is no such page.
type Links struct {
	Self  string `json:"self"`
	First string `json:"first"`
	Last  string `json:"last"`
	Next  string `json:"next,omitempty"`
	Prev  string `json:"prev,omitempty"`
}

// Result is one page of items plus its metadata.
type Result[T any] struct {
	Items             []T    `json:"items"`
	Meta              Meta   `json:"meta"`
	Links             Links  `json:"links"`
	ContinuationToken string `json:"continuationToken,omitempty"`
}

// Normalize returns the canonical form of opts.
// A valid continuation token takes precedence over the page fields it encodes.
func Normalize(opts Options) Normalized {
	if opts.ContinuationToken != "" {
		if tok, ok := DecodeToken(opts.ContinuationToken); ok {
			opts.PageSize = tok.PageSize
			opts.PageNumber = tok.PageNumber
			opts.SortBy = tok.SortBy
			opts.SortOrder = tok.SortOrder
		}
	}

	n := Normalized{
		PageSize:   opts.PageSize,
		PageNumber: opts.PageNumber,
		SortBy:     opts.SortBy,
		SortOrder:  opts.SortOrder,
	}

	if n.PageSize == 0 {
		n.PageSize = DefaultPageSize
	}
	n.PageSize = min(max(n.PageSize, MinPageSize), MaxPageSize)

	if n.PageNumber == 0 {
		n.PageNumber = DefaultPage
	}
	n.PageNumber = min(max(n.PageNumber, DefaultPage), MaxPageNumber)

	if n.SortBy == "" {
		n.SortBy = DefaultSortBy
	}

	switch n.SortOrder {
	case Asc, Desc:
	default:
		n.SortOrder = DefaultSortOrder
	}

	return n
}

// ParseSortOrder maps free text to a SortOrder, leaving unknown values for Normalize to default.
func ParseSortOrder(s string) SortOrder {
	switch s {
	case "asc", "ASC", "Asc":
		return Asc
	case "desc", "DESC", "Desc":
		return Desc
	default:
		return SortOrder(s)
	}
}

// ComputeMeta derives page metadata from the total item count.
func ComputeMeta(totalCount int64, n Normalized) Meta {
	totalPages := 0
	if totalCount > 0 {
		totalPages = int((totalCount + int64(n.PageSize) - 1) / int64(n.PageSize))
	}
	currentPage := min(n.PageNumber, max(totalPages, 1))

	return Meta{
		CurrentPage:     currentPage,
		PageSize:        n.PageSize,
		TotalPages:      totalPages,
		TotalCount:      totalCount,
		HasNextPage:     currentPage < totalPages,
		HasPreviousPage: currentPage > 1,
	}
}

// BuildLinks renders self/first/last and, when they exist, next/prev links.
func BuildLinks(baseURL string, meta Meta, n Normalized) Links {
	build := func(page int) string {
		return fmt.Sprintf("%s?pageSize=%d&pageNumber=%d&sortBy=%s&sortOrder=%s",
			baseURL, n.PageSize, page, url.QueryEscape(n.SortBy), n.SortOrder)
	}

	links := Links{
		Self:  build(meta.CurrentPage),
		First: build(1),
		Last:  build(max(meta.TotalPages, 1)),
	}
	if meta.HasNextPage {
		links.Next = build(meta.CurrentPage + 1)
	}
	if meta.HasPreviousPage {
		links.Prev = build(meta.CurrentPage - 1)
	}
	return links
}

// NewResult assembles a page result, attaching a continuation token when more pages follow.
func NewResult[T any](items []T, totalCount int64, n Normalized, baseURL string) *Result[T] {
	if items == nil {
		items = []T{}
	}
	meta := ComputeMeta(totalCount, n)
	res := &Result[T]{
		Items: items,
		Meta:  meta,
		Links: BuildLinks(baseURL, meta, n),
	}
	if meta.HasNextPage {
		res.ContinuationToken = EncodeToken(Token{
			PageSize:   n.PageSize,
			PageNumber: meta.CurrentPage + 1,
			SortBy:     n.SortBy,
			SortOrder:  n.SortOrder,
		})
	}
	return res
}
