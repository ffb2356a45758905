package router

import (
	"context"
	"sync"

	"github.com/agentfabric/fabric/pkg/a2a"
)

// Transport sends one message to a peer endpoint. Implemented by
// *a2a.Client in production and by fakes in tests.
type Transport interface {
	SendMessage(ctx context.Context, params *a2a.MessageSendParams) (*a2a.SendMessageResult, error)
	Close() error
}

// TransportFactory builds a transport for an endpoint URL.
type TransportFactory func(endpoint string) Transport

func defaultTransportFactory(endpoint string) Transport {
	return a2a.NewClient(endpoint, nil)
}

// clientPool caches transports by endpoint URL. Mutation is confined to the
// router's dispatch stream plus shutdown.
type clientPool struct {
	mu      sync.Mutex
	factory TransportFactory
	clients map[string]Transport
	closed  bool
}

func newClientPool(factory TransportFactory) *clientPool {
	if factory == nil {
		factory = defaultTransportFactory
	}
	return &clientPool{factory: factory, clients: make(map[string]Transport)}
}

func (p *clientPool) get(endpoint string) (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, a2a.ErrShutdown()
	}
	if t, ok := p.clients[endpoint]; ok {
		return t, nil
	}
	t := p.factory(endpoint)
	p.clients[endpoint] = t
	return t, nil
}

func (p *clientPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, t := range p.clients {
		_ = t.Close()
	}
	p.clients = make(map[string]Transport)
}

func (p *clientPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
