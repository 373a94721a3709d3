package store

import (
	"context"
	"sync"
)

// MemoryGateway is the default gateway: mutex-guarded maps, one per
// collection. Tests instantiate independent instances of it.
type MemoryGateway struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{data: make(map[string]map[string][]byte)}
}

var _ Gateway = (*MemoryGateway)(nil)

func (g *MemoryGateway) Get(_ context.Context, collection, id string) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	doc, ok := g.data[collection][id]
	if !ok {
		return nil, ErrNoRecord
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

func (g *MemoryGateway) Set(_ context.Context, collection, id string, doc []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	coll, ok := g.data[collection]
	if !ok {
		coll = make(map[string][]byte)
		g.data[collection] = coll
	}
	cp := make([]byte, len(doc))
	copy(cp, doc)
	coll[id] = cp
	return nil
}

func (g *MemoryGateway) Delete(_ context.Context, collection, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.data[collection], id)
	return nil
}

func (g *MemoryGateway) List(_ context.Context, collection string) (map[string][]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string][]byte, len(g.data[collection]))
	for id, doc := range g.data[collection] {
		cp := make([]byte, len(doc))
		copy(cp, doc)
		out[id] = cp
	}
	return out, nil
}

func (g *MemoryGateway) Close() {}
