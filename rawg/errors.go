package rawg

import "fmt"

// FetchError describes a failed request to the API. StatusCode is zero
// when the request never produced a response.
type FetchError struct {
	Endpoint   string
	StatusCode int
	Inner      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: unexpected status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.Endpoint, e.Inner)
}

func (e *FetchError) Unwrap() error {
	return e.Inner
}

// Transient reports whether the failure is worth retrying: transport
// errors and timeouts, rate limiting, and server-side errors. Any other
// client error is permanent.
func (e *FetchError) Transient() bool {
	if e.StatusCode == 0 {
		return true
	}
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
