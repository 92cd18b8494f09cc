package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Options configures a Client.
type Options struct {
	// Timeout bounds one request, connect through body read.
	Timeout   time.Duration
	UserAgent string
	// Transport is the underlying round tripper; http.DefaultTransport
	// when nil.
	Transport http.RoundTripper
	// OnResponse sees every response before status classification.
	OnResponse func(*http.Response)
}

// Client performs single GET requests. It never retries.
type Client struct {
	hc      *http.Client
	timeout time.Duration
}

// Response is a fully read 2xx response.
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

func New(opts Options) *Client {
	return &Client{
		hc: &http.Client{
			Transport: statusTransport{
				agent:      opts.UserAgent,
				base:       opts.Transport,
				onResponse: opts.OnResponse,
			},
		},
		timeout: opts.Timeout,
	}
}

// HTTPClient exposes the classifying http.Client so SDK clients can share
// the transport.
func (c *Client) HTTPClient() *http.Client { return c.hc }

// CallContext derives the per-call context carrying the request timeout.
func (c *Client) CallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Get issues one GET. query is appended to rawURL; header values are added
// to the request.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values, header http.Header) (*Response, error) {
	callCtx, cancel := c.CallContext(ctx)
	defer cancel()

	full := rawURL
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		full = rawURL + sep + query.Encode()
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, full, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, URL: full, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, Classify(ctx, full, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(ctx, full, err)
	}
	return &Response{URL: full, Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Classify maps err from a request made under parent to the value callers
// should see: the parent's own error when it was cancelled, otherwise a
// typed *Error.
func Classify(parent context.Context, rawURL string, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	return FromTransport(rawURL, err)
}

// DecodeJSON decodes the response body into v.
func DecodeJSON(resp *Response, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return Malformed(resp.URL, err)
	}
	return nil
}
