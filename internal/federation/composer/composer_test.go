package composer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/subgraph"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/history"
)

type fakeHealth struct {
	mu      sync.Mutex
	snap    *subgraph.Snapshot
	changes chan struct{}
}

func newFakeHealth(descriptors []subgraph.Descriptor) *fakeHealth {
	return &fakeHealth{snap: subgraph.NewSnapshot(descriptors), changes: make(chan struct{}, 1)}
}

func (f *fakeHealth) Snapshot() *subgraph.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeHealth) Changes() <-chan struct{} { return f.changes }

func (f *fakeHealth) set(states map[string]subgraph.State) {
	f.mu.Lock()
	next := &subgraph.Snapshot{Statuses: make(map[string]subgraph.HealthStatus), TakenAt: time.Now()}
	for name, st := range f.snap.Statuses {
		if s, ok := states[name]; ok {
			st.State = s
		}
		next.Statuses[name] = st
	}
	f.snap = next
	f.mu.Unlock()
	select {
	case f.changes <- struct{}{}:
	default:
	}
}

// sdlServer serves a subgraph's _service query; failing makes it answer 500
// and delay holds every answer back.
type sdlServer struct {
	*httptest.Server
	sdl     atomic.Value
	failing atomic.Bool
	delay   atomic.Int64
}

func newSDLServer(sdl string) *sdlServer {
	s := &sdlServer{}
	s.sdl.Store(sdl)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := time.Duration(s.delay.Load()); d > 0 {
			time.Sleep(d)
		}
		if s.failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"_service": map[string]any{"sdl": s.sdl.Load().(string)}},
		})
	}))
	return s
}

type recordingTracker struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingTracker) Track(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingTracker) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	composer *Composer
	health   *fakeHealth
	servers  map[string]*sdlServer
	tracker  *recordingTracker
	history  *history.MemoryStore
	observed []*ComposedSchema
}

func newHarness(t *testing.T, sdls map[string]string) *harness {
	t.Helper()
	h := &harness{servers: make(map[string]*sdlServer), tracker: &recordingTracker{}, history: history.NewMemoryStore(10)}
	var descriptors []subgraph.Descriptor
	for name, sdl := range sdls {
		srv := newSDLServer(sdl)
		t.Cleanup(srv.Close)
		h.servers[name] = srv
		descriptors = append(descriptors, subgraph.Descriptor{
			Name:        name,
			BaseURL:     srv.URL,
			SchemaPath:  "/graphql",
			GraphQLPath: "/graphql",
		})
	}
	h.health = newFakeHealth(descriptors)
	fetcher := NewFetcher(nil, time.Second, 1, NewMemoryStore())
	h.composer = New(descriptors, h.health, fetcher, Config{
		Events:     h.tracker,
		History:    h.history,
		OnComposed: func(s *ComposedSchema) { h.observed = append(h.observed, s) },
	})
	return h
}

func TestComposeIncludesOnlyUpSubgraphs(t *testing.T) {
	h := newHarness(t, map[string]string{"products": productsSDL, "users": usersSDL})
	ctx := context.Background()

	h.health.set(map[string]subgraph.State{"products": subgraph.StateUp, "users": subgraph.StateDown})
	out := h.composer.Compose(ctx, "test")
	assert.Equal(t, OutcomePublished, out.Result)

	active := h.composer.Active()
	require.NotNil(t, active)
	assert.EqualValues(t, 1, active.Version)
	assert.Equal(t, []string{"products"}, active.IncludedSubgraphs)
	assert.Nil(t, active.Schema.Query.Fields.ForName("me"))

	h.health.set(map[string]subgraph.State{"users": subgraph.StateUp})
	out = h.composer.Compose(ctx, "test")
	assert.Equal(t, OutcomePublished, out.Result)

	next := h.composer.Active()
	assert.EqualValues(t, 2, next.Version)
	assert.Equal(t, []string{"products", "users"}, next.IncludedSubgraphs)
	assert.NotNil(t, next.Schema.Query.Fields.ForName("me"))

	assert.Nil(t, active.Schema.Query.Fields.ForName("me"), "published versions are never mutated")
	require.Len(t, h.observed, 2)
	assert.Same(t, next, h.observed[1])
}

func TestComposeUnchangedKeepsVersion(t *testing.T) {
	h := newHarness(t, map[string]string{"products": productsSDL})
	h.health.set(map[string]subgraph.State{"products": subgraph.StateUp})

	h.composer.Compose(context.Background(), "first")
	out := h.composer.Compose(context.Background(), "second")

	assert.Equal(t, OutcomeUnchanged, out.Result)
	assert.EqualValues(t, 1, h.composer.Active().Version)

	records, err := h.history.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, records, 1, "unchanged passes are not recorded")
}

func TestComposeWithdrawsWhenNothingEligible(t *testing.T) {
	h := newHarness(t, map[string]string{"products": productsSDL})
	h.health.set(map[string]subgraph.State{"products": subgraph.StateUp})
	h.composer.Compose(context.Background(), "up")
	require.NotNil(t, h.composer.Active())

	h.health.set(map[string]subgraph.State{"products": subgraph.StateDown})
	out := h.composer.Compose(context.Background(), "down")

	assert.Equal(t, OutcomeWithdrawn, out.Result)
	assert.Nil(t, h.composer.Active())
	assert.Nil(t, h.observed[len(h.observed)-1])
	assert.Contains(t, h.tracker.types(), events.SchemaWithdrawn)
}

func TestComposeRetainsLastKnownGood(t *testing.T) {
	h := newHarness(t, map[string]string{"products": productsSDL, "broken": "type Query {"})
	h.health.set(map[string]subgraph.State{"products": subgraph.StateUp})
	h.composer.Compose(context.Background(), "up")
	good := h.composer.Active()
	require.NotNil(t, good)

	h.health.set(map[string]subgraph.State{"products": subgraph.StateDown, "broken": subgraph.StateUp})
	out := h.composer.Compose(context.Background(), "swap")

	assert.Equal(t, OutcomeRetained, out.Result)
	assert.Same(t, good, h.composer.Active())
	assert.Contains(t, out.Excluded["broken"], "invalid SDL")
	assert.Contains(t, h.tracker.types(), events.SubgraphExcluded)
}

func TestComposeUnavailableWithoutPriorSchema(t *testing.T) {
	h := newHarness(t, map[string]string{"products": productsSDL})
	out := h.composer.Compose(context.Background(), "startup")

	assert.Equal(t, OutcomeUnavailable, out.Result)
	assert.Nil(t, h.composer.Active())
}

func TestComposeFallsBackToCachedSDL(t *testing.T) {
	h := newHarness(t, map[string]string{"products": productsSDL})
	h.health.set(map[string]subgraph.State{"products": subgraph.StateUp})
	h.composer.Compose(context.Background(), "up")

	h.servers["products"].failing.Store(true)
	out := h.composer.Compose(context.Background(), "revalidation")

	assert.Equal(t, OutcomeUnchanged, out.Result)
	assert.Empty(t, out.Excluded)
}

func TestComposeExcludesSubgraphWithoutCachedSDL(t *testing.T) {
	h := newHarness(t, map[string]string{"products": productsSDL, "users": usersSDL})
	h.servers["users"].failing.Store(true)
	h.health.set(map[string]subgraph.State{"products": subgraph.StateUp, "users": subgraph.StateUp})

	out := h.composer.Compose(context.Background(), "up")
	assert.Equal(t, OutcomePublished, out.Result)
	assert.Equal(t, []string{"products"}, out.Included)
	assert.Contains(t, out.Excluded, "users")
}

func TestRunRecomposesOnEligibilityChange(t *testing.T) {
	h := newHarness(t, map[string]string{"products": productsSDL})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.composer.Run(ctx)

	h.health.set(map[string]subgraph.State{"products": subgraph.StateUp})
	require.Eventually(t, func() bool { return h.composer.Active() != nil }, 2*time.Second, 10*time.Millisecond)

	h.servers["products"].sdl.Store(productsSDL + "\nextend type Query { featured: Product }\n")
	h.composer.Trigger("schema change announced")
	require.Eventually(t, func() bool {
		a := h.composer.Active()
		return a != nil && a.Version == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestComposeOutlivesCallerDeadline(t *testing.T) {
	h := newHarness(t, map[string]string{"products": productsSDL, "users": usersSDL})
	h.servers["products"].delay.Store(int64(150 * time.Millisecond))
	h.health.set(map[string]subgraph.State{"products": subgraph.StateUp, "users": subgraph.StateUp})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out := h.composer.Compose(ctx, "admin request")
	assert.Equal(t, OutcomePending, out.Result)

	require.Eventually(t, func() bool { return h.composer.Active() != nil }, 2*time.Second, 10*time.Millisecond)
	active := h.composer.Active()
	assert.EqualValues(t, 1, active.Version)
	assert.Equal(t, []string{"products", "users"}, active.IncludedSubgraphs)
	assert.Empty(t, active.Excluded)

	out = h.composer.Compose(context.Background(), "revalidation")
	assert.EqualValues(t, 1, out.Version)
	assert.Equal(t, []string{"products", "users"}, out.Included)
}

func TestRunCancellationStopsPass(t *testing.T) {
	h := newHarness(t, map[string]string{"products": productsSDL})
	h.servers["products"].delay.Store(int64(300 * time.Millisecond))
	h.health.set(map[string]subgraph.State{"products": subgraph.StateUp})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.composer.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Nil(t, h.composer.Active())
}
