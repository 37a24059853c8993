// Package ingest lands RAWG catalog data in the bronze layer: the
// Paginator walks the paged games endpoint, the Normalizer flattens the
// loosely shaped records into column-stable rows, and the Ingestor writes
// them idempotently.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rawglake/rawglake/rawg"
)

const (
	DefaultPageSize = 20
	DefaultMaxPages = 5
	DefaultThrottle = 600 * time.Millisecond
)

// ErrNoRecords signals that the requested range produced no records at
// all. Callers treat it as a clean empty run, not a failure.
var ErrNoRecords = errors.New("no records in requested range")

// Paginator fetches the games endpoint page by page, most recently
// released first, pausing between requests to stay friendly to the API.
type Paginator struct {
	fetcher  rawg.Fetcher
	clock    clockwork.Clock
	logger   *slog.Logger
	pageSize int
	maxPages int
	throttle time.Duration
}

type PaginatorOption func(*Paginator)

func WithMaxPages(n int) PaginatorOption {
	return func(p *Paginator) { p.maxPages = n }
}

func WithPageSize(n int) PaginatorOption {
	return func(p *Paginator) { p.pageSize = n }
}

func WithThrottle(d time.Duration) PaginatorOption {
	return func(p *Paginator) { p.throttle = d }
}

func NewPaginator(fetcher rawg.Fetcher, clock clockwork.Clock, logger *slog.Logger, opts ...PaginatorOption) *Paginator {
	p := &Paginator{
		fetcher:  fetcher,
		clock:    clock,
		logger:   logger,
		pageSize: DefaultPageSize,
		maxPages: DefaultMaxPages,
		throttle: DefaultThrottle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FetchGames accumulates the records of all pages for games released in
// [start, end], both calendar dates. Pagination stops at the page cap, at
// the last page, at an empty page, or at a fetch failure. On failure the
// records fetched so far are returned together with the error, so a
// nearly complete run is not wasted.
func (p *Paginator) FetchGames(ctx context.Context, start, end string) ([]rawg.RawRecord, error) {
	records := make([]rawg.RawRecord, 0, p.maxPages*p.pageSize)

	for page := 1; page <= p.maxPages; page++ {
		if p.throttle > 0 {
			p.clock.Sleep(p.throttle)
		}

		p.logger.Info("fetching page", "page", page, "max_pages", p.maxPages)
		params := url.Values{
			"dates":     {fmt.Sprintf("%s,%s", start, end)},
			"page":      {strconv.Itoa(page)},
			"page_size": {strconv.Itoa(p.pageSize)},
			"ordering":  {"-released"},
		}

		resp, err := p.fetcher.Fetch(ctx, "games", params)
		if err != nil {
			if len(records) == 0 {
				return nil, fmt.Errorf("fetching page %d: %w", page, err)
			}
			return records, fmt.Errorf("fetching page %d: %w", page, err)
		}

		if len(resp.Results) == 0 {
			break
		}
		records = append(records, resp.Results...)

		if resp.Next == nil {
			break
		}
	}

	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}
