package fetch

import (
	"io"
	"net/http"
)

// statusTransport sets the User-Agent, turns non-2xx responses into *Error
// and records every classified failure into the request's Failure slot.
type statusTransport struct {
	agent      string
	base       http.RoundTripper
	onResponse func(*http.Response)
}

// RoundTrip implements http.RoundTripper.
func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.agent != "" {
		req.Header.Set("User-Agent", t.agent)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	url := req.URL.String()
	resp, err := base.RoundTrip(req)
	if err != nil {
		ferr := FromTransport(url, err)
		record(req.Context(), ferr)
		return nil, ferr
	}
	if t.onResponse != nil {
		t.onResponse(resp)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		ferr := FromStatus(url, resp.StatusCode, resp.Header, body)
		record(req.Context(), ferr)
		return nil, ferr
	}
	return resp, nil
}
