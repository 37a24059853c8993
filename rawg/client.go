package rawg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
)

const (
	userAgent      = "RawgDataPipeline/1.0 (Educational Project)"
	requestTimeout = 10 * time.Second
	maxRetries     = 3
)

// Client is an http implementation of Fetcher. It injects the API key
// into every request and retries transient failures with exponential
// backoff.
type Client struct {
	baseUrl string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger

	// newBackOff produces the retry policy for one Fetch call.
	newBackOff func() backoff.BackOff
}

var _ Fetcher = &Client{}

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func WithBackOff(f func() backoff.BackOff) ClientOption {
	return func(c *Client) { c.newBackOff = f }
}

func NewClient(baseUrl, apiKey string, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		baseUrl: strings.TrimRight(baseUrl, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch gets one page of the endpoint. Transient failures are retried up
// to maxRetries times; a permanent failure or retry exhaustion returns a
// *FetchError.
func (c *Client) Fetch(ctx context.Context, endpoint string, params url.Values) (*Page, error) {
	query := url.Values{}
	for k, vs := range params {
		query[k] = vs
	}
	query.Set("key", c.apiKey)

	requestUrl := fmt.Sprintf("%s/%s?%s", c.baseUrl, endpoint, query.Encode())

	var page *Page
	operation := func() error {
		p, err := c.fetchOnce(ctx, endpoint, requestUrl)
		if err != nil {
			var permanent *backoff.PermanentError
			if errors.As(err, &permanent) {
				return err
			}
			var fe *FetchError
			if errors.As(err, &fe) && !fe.Transient() {
				return backoff.Permanent(err)
			}
			c.logger.Warn("request failed, retrying", "endpoint", endpoint, "error", err)
			return err
		}
		page = p
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) fetchOnce(ctx context.Context, endpoint, requestUrl string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestUrl, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("unable to build request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Endpoint: endpoint, Inner: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &FetchError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	var page Page
	if err := jsoniter.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &FetchError{Endpoint: endpoint, Inner: fmt.Errorf("unable to decode response: %w", err)}
	}
	return &page, nil
}
