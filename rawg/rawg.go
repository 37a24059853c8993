// Package rawg is a small client for the RAWG video games catalog API
// (https://api.rawg.io/docs). It exposes the paged list endpoints the
// ingestion pipeline consumes and retries the request failures that are
// worth retrying.
package rawg

import (
	"context"
	"net/url"
)

// RawRecord is one catalog entry exactly as the API returned it. The API
// omits fields freely, so no struct shape is imposed here; normalization
// happens downstream.
type RawRecord map[string]any

// Page is one page of a paged list response.
type Page struct {
	// Total number of results across all pages.
	Count int64 `json:"count"`
	// URL of the next page, nil on the last page.
	Next *string `json:"next,omitempty"`
	// The records of this page.
	Results []RawRecord `json:"results"`
}

// Fetcher fetches one page of an API list endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string, params url.Values) (*Page, error)
}
