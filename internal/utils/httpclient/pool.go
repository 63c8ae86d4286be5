package httpclient

import (
	"net/http"
	"sync"
	"time"
)

// DefaultTimeout bounds a whole request when the caller sets no timeout
const DefaultTimeout = 30 * time.Second

// HTTPClientPool hands out HTTP clients that share a single keep-alive
// transport, so pooled clients reuse the same connections.
type HTTPClientPool struct {
	clients   chan *http.Client
	transport *http.Transport
	timeout   time.Duration
	mu        sync.RWMutex
	closed    bool
}

// NewHTTPClientPool creates a pool of maxClients clients with the given
// per-request timeout.
func NewHTTPClientPool(maxClients int, timeout time.Duration) *HTTPClientPool {
	if maxClients < 1 {
		maxClients = 1
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pool := &HTTPClientPool{
		clients: make(chan *http.Client, maxClients),
		transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		timeout: timeout,
	}

	for i := 0; i < maxClients; i++ {
		pool.clients <- pool.newClient()
	}

	return pool
}

func (p *HTTPClientPool) newClient() *http.Client {
	return &http.Client{
		Timeout:   p.timeout,
		Transport: p.transport,
	}
}

// Timeout returns the per-request timeout of pooled clients
func (p *HTTPClientPool) Timeout() time.Duration {
	return p.timeout
}

// Get retrieves an HTTP client from the pool
func (p *HTTPClientPool) Get() *http.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return p.newClient()
	}

	select {
	case client := <-p.clients:
		return client
	default:
		// Pool is empty, create a new client
		return p.newClient()
	}
}

// Put returns an HTTP client to the pool
func (p *HTTPClientPool) Put(client *http.Client) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	select {
	case p.clients <- client:
	default:
		// Pool is full, discard the client
	}
}

// Close drains the pool and drops idle connections
func (p *HTTPClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.clients)
	p.transport.CloseIdleConnections()
}
