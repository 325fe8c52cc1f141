package composer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	gwerrors "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/redis"
)

// SDLStore caches the last SDL successfully fetched from each subgraph. It is
// consulted when an UP subgraph fails to serve its schema.
type SDLStore interface {
	Get(ctx context.Context, subgraph string) (string, bool, error)
	Put(ctx context.Context, subgraph, sdl string) error
	Purge(ctx context.Context) (int64, error)
}

// MemoryStore is a process-local SDLStore.
type MemoryStore struct {
	mu   sync.RWMutex
	sdls map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sdls: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, subgraph string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sdl, ok := s.sdls[subgraph]
	return sdl, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, subgraph, sdl string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sdls[subgraph] = sdl
	return nil
}

func (s *MemoryStore) Purge(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.sdls))
	s.sdls = make(map[string]string)
	return n, nil
}

const sdlKeyPrefix = "gateway:sdl:"

// RedisStore shares cached SDL between gateway replicas.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, subgraph string) (string, bool, error) {
	sdl, err := s.client.Get(ctx, sdlKeyPrefix+subgraph)
	if err != nil {
		if redis.IsNilError(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading cached SDL for %s: %w", subgraph, err)
	}
	return sdl, true, nil
}

func (s *RedisStore) Put(ctx context.Context, subgraph, sdl string) error {
	if err := s.client.Set(ctx, sdlKeyPrefix+subgraph, sdl, s.ttl); err != nil {
		return fmt.Errorf("caching SDL for %s: %w", subgraph, err)
	}
	return nil
}

func (s *RedisStore) Purge(ctx context.Context) (int64, error) {
	n, err := s.client.FlushByPattern(ctx, sdlKeyPrefix+"*")
	if err != nil {
		return n, gwerrors.New(gwerrors.ErrServiceDegraded, http.StatusBadGateway, "redis purge failed: "+err.Error())
	}
	return n, nil
}
