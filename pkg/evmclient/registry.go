package evmclient

import "sync"

// Registry holds the live quorum client for every configured chain.
// Admin calls replace entries at runtime while the finalization
// engine and transaction builder read them, so access is guarded.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Get returns the client registered for chain, if any.
func (r *Registry) Get(chain string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[chain]
	return c, ok
}

// Set registers client for chain, closing any client it replaces.
func (r *Registry) Set(chain string, client *Client) {
	r.mu.Lock()
	old := r.clients[chain]
	r.clients[chain] = client
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Chains returns the names of every registered chain.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	return out
}

// Close disconnects every registered client.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		c.Close()
	}
	r.clients = make(map[string]*Client)
}
