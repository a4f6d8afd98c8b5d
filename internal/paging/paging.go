// Package paging provides offset and search-after pagination over ordered result lists.
package paging

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// DefaultLimit is the page size used when a request does not set one.
const DefaultLimit = 50

// ErrInvalidPageRequest indicates an offset/limit pair that does not address a page.
var ErrInvalidPageRequest = errors.New("invalid page request")

// Request addresses one page of an ordered result list.
// SearchAfter, when set, takes precedence over Offset.
type Request struct {
	Offset      int
	Limit       int
	SearchAfter string
}

// NewRequest validates an offset/limit pair.
// The offset must be a multiple of the limit so that it names a page boundary.
func NewRequest(offset, limit int) (Request, error) {
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 0 {
		return Request{}, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidPageRequest, limit)
	}
	if offset < 0 {
		return Request{}, fmt.Errorf("%w: offset must not be negative, got %d", ErrInvalidPageRequest, offset)
	}
	if offset%limit != 0 {
		return Request{}, fmt.Errorf("%w: offset %d must be a multiple of limit %d", ErrInvalidPageRequest, offset, limit)
	}
	return Request{Offset: offset, Limit: limit}, nil
}

// WithSearchAfter returns a copy of r continuing after the given token.
func (r Request) WithSearchAfter(token string) Request {
	r.SearchAfter = token
	return r
}

// PageNumber returns the zero-based page index of the request.
func (r Request) PageNumber() int {
	if r.Limit <= 0 {
		return 0
	}
	return r.Offset / r.Limit
}

// Page is one page of results with the total size of the underlying list.
type Page[T any] struct {
	Items       []T    `json:"items"`
	Total       int    `json:"total"`
	Limit       int    `json:"limit"`
	Offset      int    `json:"offset"`
	SearchAfter string `json:"searchAfter,omitempty"`
}

// SubList returns the pageNumber-th slice of pageSize items, or an empty slice past the end.
func SubList[T any](all []T, pageNumber, pageSize int) []T {
	start := pageNumber * pageSize
	end := (pageNumber + 1) * pageSize
	if start >= len(all) || pageSize <= 0 {
		return []T{}
	}
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

// ListToPage cuts one page from an ordered list.
// key identifies an item for search-after paging and must be stable for the list's order.
func ListToPage[T any](all []T, req Request, key func(T) string) (Page[T], error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	if req.SearchAfter == "" {
		items := SubList(all, req.PageNumber(), limit)
		page := Page[T]{Items: items, Total: len(all), Limit: limit, Offset: req.PageNumber() * limit}
		if key != nil && len(items) > 0 && page.Offset+len(items) < len(all) {
			page.SearchAfter = EncodeToken(key(items[len(items)-1]))
		}
		return page, nil
	}

	after, err := DecodeToken(req.SearchAfter)
	if err != nil {
		return Page[T]{}, err
	}
	if key == nil {
		return Page[T]{}, fmt.Errorf("%w: search after needs a key", ErrInvalidPageRequest)
	}

	start := -1
	for i, item := range all {
		if key(item) == after {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return Page[T]{Items: []T{}, Total: 0, Limit: limit}, nil
	}

	end := min(start+limit, len(all))
	items := all[start:end]
	page := Page[T]{Items: items, Total: len(all), Limit: limit, Offset: start}
	if len(items) > 0 && end < len(all) {
		page.SearchAfter = EncodeToken(key(items[len(items)-1]))
	}
	return page, nil
}

// EncodeToken produces an opaque search-after token for a key.
func EncodeToken(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// DecodeToken reverses EncodeToken.
func DecodeToken(token string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: malformed search after token", ErrInvalidPageRequest)
	}
	return string(b), nil
}
