package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultMaxBody caps how much of a response body is read.
const DefaultMaxBody = 32 << 20

var defaultHTTPTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 15 * time.Second,
	ExpectContinueTimeout: time.Second,
}

// HTTPTransport sends requests with net/http. Timeouts come from the
// request context, not http.Client.Timeout.
type HTTPTransport struct {
	Client  *http.Client // nil => shared client on a tuned transport
	MaxBody int64        // <= 0 => DefaultMaxBody
}

var _ Transport = (*HTTPTransport)(nil)

var sharedHTTPClient = &http.Client{Transport: defaultHTTPTransport}

func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.method(), req.URL, body)
	if err != nil {
		return nil, Permanent(err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}

	hc := t.Client
	if hc == nil {
		hc = sharedHTTPClient
	}
	resp, err := hc.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	max := t.MaxBody
	if max <= 0 {
		max = DefaultMaxBody
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, Permanent(fmt.Errorf("request: response body exceeds %d bytes", max))
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: b}, nil
}
