// Package pager follows continuation links across paginated JSON listings.
package pager

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
)

// DefaultMaxPages bounds a listing when the caller sets no limit.
const DefaultMaxPages = 1000

// Page is one decoded response: its items plus the next link, empty on the last page.
type Page[T any] struct {
	Items []T
	Next  string
}

// Decoder turns one response body into a Page.
type Decoder[T any] func(body []byte) (Page[T], error)

// Result is the concatenation of every page fetched before the walk stopped.
// Err is set when the walk ended on a failure rather than an empty next link;
// Items still holds everything collected up to that point.
type Result[T any] struct {
	Items     []T
	Pages     int
	Truncated bool
	Err       error
}

// Follower walks a listing page by page.
type Follower[T any] struct {
	Getter   pricedb.Getter
	Decode   Decoder[T]
	MaxPages int
}

// Follow GETs start, then every next link in turn, appending items in page order.
// Headers from start are sent with every page.
func (f Follower[T]) Follow(ctx context.Context, start pricedb.Request) Result[T] {
	maxPages := f.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var res Result[T]
	seen := make(map[string]struct{})
	next := start.URL
	for next != "" {
		if err := ctx.Err(); err != nil {
			return res.fail(fmt.Errorf("page %d: %w", res.Pages+1, err))
		}
		if res.Pages >= maxPages {
			return res.fail(fmt.Errorf("stopped after %d pages", maxPages))
		}
		if _, dup := seen[next]; dup {
			return res.fail(fmt.Errorf("page %d: next link repeats %s", res.Pages+1, next))
		}
		seen[next] = struct{}{}

		resp, err := f.Getter.Get(ctx, pricedb.Request{URL: next, Headers: start.Headers})
		if err != nil {
			return res.fail(fmt.Errorf("page %d: %w", res.Pages+1, err))
		}
		if len(resp.Body) == 0 {
			return res.fail(fmt.Errorf("page %d: %w", res.Pages+1, pricedb.ErrEmptyBody))
		}
		page, err := f.Decode(resp.Body)
		if err != nil {
			return res.fail(fmt.Errorf("page %d: decode: %w", res.Pages+1, err))
		}
		res.Pages++
		res.Items = append(res.Items, page.Items...)
		next = page.Next
	}
	return res
}

// Follow is a convenience wrapper around Follower.Follow.
func Follow[T any](ctx context.Context, getter pricedb.Getter, start pricedb.Request, decode Decoder[T], maxPages int) Result[T] {
	return Follower[T]{Getter: getter, Decode: decode, MaxPages: maxPages}.Follow(ctx, start)
}

func (r Result[T]) fail(err error) Result[T] {
	r.Err = err
	r.Truncated = r.Pages > 0
	return r
}

// Literal renders v as an OData string literal, doubling embedded quotes.
func Literal(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// EscapeFilter percent-encodes an OData $filter expression, spaces as %20.
func EscapeFilter(filter string) string {
	return strings.ReplaceAll(url.QueryEscape(filter), "+", "%20")
}
