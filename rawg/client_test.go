package rawg

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noWaitBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxRetries)
}

func newTestClient(serverUrl string) *Client {
	return NewClient(serverUrl, "test-key", testLogger(), WithBackOff(noWaitBackOff))
}

func TestFetchDecodesPage(t *testing.T) {
	var gotRequest *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequest = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"count": 42,
			"next": "https://api.rawg.io/api/games?page=2",
			"results": [{"id": 1, "name": "Portal", "rating": 4.5}]
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	page, err := client.Fetch(context.Background(), "games", url.Values{"page": {"1"}})
	require.NoError(t, err)

	assert.EqualValues(t, 42, page.Count)
	require.NotNil(t, page.Next)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Portal", page.Results[0]["name"])

	require.NotNil(t, gotRequest)
	assert.Equal(t, "test-key", gotRequest.URL.Query().Get("key"))
	assert.Equal(t, "1", gotRequest.URL.Query().Get("page"))
	assert.Equal(t, userAgent, gotRequest.Header.Get("User-Agent"))
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"count": 0, "results": []}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	page, err := client.Fetch(context.Background(), "games", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Empty(t, page.Results)
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Fetch(context.Background(), "games", nil)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.False(t, fetchErr.Transient())
	assert.Equal(t, 1, calls)
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Fetch(context.Background(), "games", nil)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.True(t, fetchErr.Transient())
	assert.Equal(t, 1+maxRetries, calls)
}

type countingBackOff struct {
	nextCalls int
}

func (b *countingBackOff) NextBackOff() time.Duration {
	b.nextCalls++
	return 0
}

func (b *countingBackOff) Reset() {}

func TestFetchBadRequestFailsWithoutRetryLog(t *testing.T) {
	var logBuf bytes.Buffer
	policy := &countingBackOff{}
	client := NewClient("http://invalid\nhost", "test-key",
		slog.New(slog.NewTextHandler(&logBuf, nil)),
		WithBackOff(func() backoff.BackOff { return policy }))

	_, err := client.Fetch(context.Background(), "games", nil)

	require.ErrorContains(t, err, "unable to build request")
	assert.Zero(t, policy.nextCalls)
	assert.NotContains(t, logBuf.String(), "retrying")
}

func TestFetchErrorTransient(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{0, true},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, tc := range cases {
		e := &FetchError{Endpoint: "games", StatusCode: tc.status}
		assert.Equal(t, tc.transient, e.Transient(), "status %d", tc.status)
	}
}
