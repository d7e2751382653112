package sdk

import (
	"context"
	"sort"
	"sync"
)

// SessionStore is the in-memory session storage shared by all mini-apps of
// a process. Each mini-app sees only its own partition. Nothing survives a
// restart.
type SessionStore struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{data: make(map[string]map[string]string)}
}

// Reset drops every partition.
func (s *SessionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]map[string]string)
}

// Drop removes the partition of miniAppID.
func (s *SessionStore) Drop(miniAppID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, miniAppID)
}

func (s *SessionStore) partition(miniAppID string) *sessionPartition {
	return &sessionPartition{store: s, id: miniAppID}
}

type sessionPartition struct {
	store *SessionStore
	id    string
}

func (p *sessionPartition) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()
	v, ok := p.store.data[p.id][key]
	return v, ok, nil
}

func (p *sessionPartition) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	m, ok := p.store.data[p.id]
	if !ok {
		m = make(map[string]string)
		p.store.data[p.id] = m
	}
	m[key] = value
	return nil
}

func (p *sessionPartition) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	delete(p.store.data[p.id], key)
	return nil
}

func (p *sessionPartition) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()
	keys := make([]string, 0, len(p.store.data[p.id]))
	for k := range p.store.data[p.id] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (p *sessionPartition) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.store.Drop(p.id)
	return nil
}
