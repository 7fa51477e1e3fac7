package cachefacade

import (
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/goatkit/chimesgate/internal/config"
)

// Manager lazily opens and caches one Facade per namespace, keyed by the
// namespace's own redis_url, mirroring dbengine.PoolManager's shape for SQL
// pools.
type Manager struct {
	mu      sync.Mutex
	facades map[string]*Facade
	clients map[string]*redis.Client
}

// NewManager returns an empty cache-facade manager.
func NewManager() *Manager {
	return &Manager{
		facades: make(map[string]*Facade),
		clients: make(map[string]*redis.Client),
	}
}

// Facade returns the namespace's cache facade, opening its redis client on
// first use. A namespace with no redis_url gets a permanently no-op facade.
func (m *Manager) Facade(ns *config.Namespace) (*Facade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.facades[ns.Name]; ok {
		return f, nil
	}
	if ns.RedisURL == "" {
		f := New(nil)
		m.facades[ns.Name] = f
		return f, nil
	}
	opts, err := redis.ParseURL(ns.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("cachefacade: parsing redis_url for namespace %q: %w", ns.Name, err)
	}
	client := redis.NewClient(opts)
	f := New(client)
	m.clients[ns.Name] = client
	m.facades[ns.Name] = f
	return f, nil
}

// CloseAll closes every opened redis client.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, client := range m.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cachefacade: closing client for namespace %q: %w", name, err)
		}
	}
	m.clients = make(map[string]*redis.Client)
	m.facades = make(map[string]*Facade)
	return firstErr
}
