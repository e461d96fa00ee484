package gateway

import (
	"context"
	"net"
	"net/http"
)

// forwardedHeaders are copied from the client request to the backend.
var forwardedHeaders = []string{
	"Content-Type",
	"Idempotency-Key",
	"X-Actor-Role",
}

type ServiceProxy struct {
	baseURL string
	client  *http.Client
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		baseURL: baseURL,
		client:  client,
	}
}

// ForwardRequest replays r against path on the backend, keeping the query
// string and the headers the storefront services read. X-Forwarded-For is
// always replaced with the caller's address, since backends rate limit on it.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		req.Header.Set("X-Forwarded-For", host)
	} else if r.RemoteAddr != "" {
		req.Header.Set("X-Forwarded-For", r.RemoteAddr)
	}

	return p.client.Do(req)
}
