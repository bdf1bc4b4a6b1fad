package request

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
)

// Request is an outgoing API call.
type Request struct {
	Method string // "" => GET
	URL    string
	Header http.Header
	Body   []byte
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// Response is a fully read API response. Responses returned from a shared
// (de-duplicated) call are delivered to every waiter; treat them as read-only.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport performs a single HTTP exchange.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// Credential is what every API call is authenticated with.
type Credential struct {
	Token        string
	Organization string
}

// Credentials supplies the current credential; called once per attempt so
// rotated tokens are picked up on retry.
type Credentials interface {
	Credential(ctx context.Context) (Credential, error)
}

// StaticCredentials always returns itself.
type StaticCredentials Credential

func (s StaticCredentials) Credential(context.Context) (Credential, error) {
	return Credential(s), nil
}

// CredentialsFunc adapts a function to Credentials.
type CredentialsFunc func(ctx context.Context) (Credential, error)

func (f CredentialsFunc) Credential(ctx context.Context) (Credential, error) { return f(ctx) }

const (
	DefaultOrgHeader = "X-Organization-ID"
	RequestIDHeader  = "X-Request-ID"
)

var ErrNoTransport = errors.New("request: nil transport")

type ClientOptions struct {
	Transport    Transport     // required
	Credentials  Credentials   // nil => unauthenticated
	Orchestrator *Orchestrator // nil => New(DefaultPolicy())
	OrgHeader    string        // "" => X-Organization-ID
}

// Client authenticates, classifies and orchestrates API calls.
type Client struct {
	transport Transport
	creds     Credentials
	orch      *Orchestrator
	orgHeader string
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	c := &Client{
		transport: opts.Transport,
		creds:     opts.Credentials,
		orch:      opts.Orchestrator,
		orgHeader: opts.OrgHeader,
	}
	if c.orch == nil {
		c.orch = New(DefaultPolicy())
	}
	if c.orgHeader == "" {
		c.orgHeader = DefaultOrgHeader
	}
	return c, nil
}

func (c *Client) Orchestrator() *Orchestrator { return c.orch }

// Attempt performs exactly one exchange. Non-2xx/3xx statuses come back as a
// *Error alongside the response so callers can still read the body.
func (c *Client) Attempt(ctx context.Context, req *Request) (*Response, error) {
	method := req.method()
	out := &Request{Method: method, URL: req.URL, Body: req.Body, Header: req.Header.Clone()}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if c.creds != nil {
		cred, err := c.creds.Credential(ctx)
		if err != nil {
			return nil, Permanent(err)
		}
		if cred.Token != "" {
			out.Header.Set("Authorization", "Bearer "+cred.Token)
		}
		if cred.Organization != "" {
			out.Header.Set(c.orgHeader, cred.Organization)
		}
	}
	if out.Header.Get(RequestIDHeader) == "" {
		out.Header.Set(RequestIDHeader, uuid.NewString())
	}

	resp, err := c.transport.RoundTrip(ctx, out)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		kind, ok := Classify(err)
		if !ok {
			kind = KindNetwork
		}
		return nil, &Error{Kind: kind, Method: method, URL: req.URL, Err: err}
	}
	if kind, bad := StatusKind(resp.Status); bad {
		return resp, &Error{Kind: kind, Status: resp.Status, Method: method, URL: req.URL}
	}
	return resp, nil
}

// Fetch runs the request through the orchestrator. Safe methods (GET, HEAD)
// are de-duplicated by method and URL and retried; other methods get a single
// attempt bounded by the policy timeout.
func (c *Client) Fetch(ctx context.Context, req *Request) (*Response, error) {
	attempt := func(ctx context.Context) (*Response, error) {
		return c.Attempt(ctx, req)
	}
	switch req.method() {
	case http.MethodGet, http.MethodHead:
		return Do(ctx, c.orch, req.method()+" "+req.URL, attempt)
	default:
		return WithTimeout(ctx, c.orch.policy.Timeout, attempt)
	}
}

// Fetcher returns a single-attempt fetch of req's body, for callers (the SWR
// reader) that run their own orchestration.
func (c *Client) Fetcher(req Request) func(context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		resp, err := c.Attempt(ctx, &req)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}
}
