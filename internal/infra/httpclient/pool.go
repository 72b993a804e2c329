package httpclient

import (
	"net/http"
	"time"
)

// sharedTransport is reused by every gateway client (embedder, generator,
// vector store) so calls to the same host reuse keep-alive connections.
var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        32,
	MaxIdleConnsPerHost: 16,
	IdleConnTimeout:     120 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
}

// NewPooledClient creates an http.Client on the shared transport.
// A zero timeout leaves deadlines to the request context.
func NewPooledClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}
