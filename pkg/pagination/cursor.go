package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "graph_pages_fetched_total",
	Help: "Total result pages fetched by pagination cursors",
})

// Default Graph field names.
const (
	DefaultItemsField    = "value"
	DefaultNextLinkField = "@odata.nextLink"
)

// ErrNoItem is returned by Decode when the cursor is not positioned on an item.
var ErrNoItem = errors.New("cursor has no current item")

// Page is one decoded page of a listing.
type Page struct {
	Items    []json.RawMessage
	NextLink string
}

// PageFetcher fetches and decodes a single page. params is nil when url is a
// next link.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string, params url.Values) (*Page, error)
}

// ParsePage decodes a Graph listing body using the default field names.
func ParsePage(body []byte) (*Page, error) {
	return ParsePageFields(body, DefaultItemsField, DefaultNextLinkField)
}

// ParsePageFields decodes a listing body whose items live under itemsField and
// whose continuation link lives under nextField. A missing items field yields
// an empty page.
func ParsePageFields(body []byte, itemsField, nextField string) (*Page, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	page := &Page{}
	if items, ok := raw[itemsField]; ok && string(items) != "null" {
		if err := json.Unmarshal(items, &page.Items); err != nil {
			return nil, fmt.Errorf("decode page %q: %w", itemsField, err)
		}
	}
	if next, ok := raw[nextField]; ok && string(next) != "null" {
		if err := json.Unmarshal(next, &page.NextLink); err != nil {
			return nil, fmt.Errorf("decode page %q: %w", nextField, err)
		}
	}
	return page, nil
}

// Cursor is a single-use, forward-only iterator over a paged listing.
type Cursor struct {
	fetcher PageFetcher
	logger  zerolog.Logger

	nextURL string
	params  url.Values
	started bool
	done    bool

	buffered []json.RawMessage
	current  json.RawMessage
	err      error
	pages    int
}

// New creates a cursor. Nothing is fetched until the first call to Next.
func New(fetcher PageFetcher, initialURL string, params url.Values) *Cursor {
	return &Cursor{
		fetcher: fetcher,
		logger:  zerolog.Nop(),
		nextURL: initialURL,
		params:  params,
	}
}

// WithLogger sets the logger used for page-level debug output.
func (c *Cursor) WithLogger(logger zerolog.Logger) *Cursor {
	c.logger = logger
	return c
}

// Next advances to the next item, fetching the next page when needed. It
// returns false when the listing is exhausted or a fetch failed; check Err.
func (c *Cursor) Next(ctx context.Context) bool {
	c.current = nil
	for {
		if len(c.buffered) > 0 {
			c.current = c.buffered[0]
			c.buffered = c.buffered[1:]
			return true
		}
		if c.done || c.err != nil {
			return false
		}
		if err := c.fetch(ctx); err != nil {
			c.err = err
			return false
		}
	}
}

func (c *Cursor) fetch(ctx context.Context) error {
	var params url.Values
	if !c.started {
		params = c.params
	}
	c.started = true

	page, err := c.fetcher.FetchPage(ctx, c.nextURL, params)
	if err != nil {
		return fmt.Errorf("fetch page %d: %w", c.pages+1, err)
	}
	c.pages++
	pagesFetchedTotal.Inc()

	c.logger.Debug().
		Int("page", c.pages).
		Int("items", len(page.Items)).
		Bool("has_next", page.NextLink != "").
		Msg("Fetched page")

	c.buffered = page.Items
	if page.NextLink == "" {
		c.done = true
	} else {
		c.nextURL = page.NextLink
	}
	return nil
}

// Item returns the current raw item.
func (c *Cursor) Item() json.RawMessage { return c.current }

// Decode unmarshals the current item into v.
func (c *Cursor) Decode(v any) error {
	if c.current == nil {
		return ErrNoItem
	}
	return json.Unmarshal(c.current, v)
}

// Err returns the fetch error that stopped the cursor, if any.
func (c *Cursor) Err() error { return c.err }

// Pages returns how many pages have been fetched so far.
func (c *Cursor) Pages() int { return c.pages }

// All adapts the cursor to a range-over-func sequence. A fetch error is
// yielded once as the final pair.
func (c *Cursor) All(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for c.Next(ctx) {
			if !yield(c.current, nil) {
				return
			}
		}
		if c.err != nil {
			yield(nil, c.err)
		}
	}
}

// Collect drains the cursor into a slice. On a fetch error the items read
// so far are returned with it.
func (c *Cursor) Collect(ctx context.Context) ([]json.RawMessage, error) {
	var items []json.RawMessage
	for c.Next(ctx) {
		items = append(items, c.current)
	}
	return items, c.err
}
