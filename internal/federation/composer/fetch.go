package composer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/subgraph"
	gwerrors "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/resilience"
)

const serviceQuery = `query __FederationServiceDefinition { _service { sdl } }`

const maxSDLBytes = 8 << 20

// errSchemaRejected marks an answer that repeating the request will not fix.
var errSchemaRejected = errors.New("schema endpoint rejected the request")

// Fetcher retrieves subgraph SDL over the federation _service query.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	attempts int
	store    SDLStore
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher. A nil store disables the SDL cache.
func NewFetcher(client *http.Client, timeout time.Duration, attempts int, store SDLStore) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Fetcher{
		client:   client,
		timeout:  timeout,
		attempts: attempts,
		store:    store,
		logger:   slog.Default().With("component", "sdl-fetcher"),
	}
}

type serviceResponse struct {
	Data *struct {
		Service *struct {
			SDL string `json:"sdl"`
		} `json:"_service"`
	} `json:"data"`
	Errors gqlerror.List `json:"errors"`
}

// Fetch returns the subgraph's current SDL, falling back to the cached copy
// when the subgraph cannot serve it.
func (f *Fetcher) Fetch(ctx context.Context, d subgraph.Descriptor) (string, error) {
	var sdl string
	err := resilience.Retry(ctx, "fetch sdl "+d.Name, resilience.RetryConfig{
		MaxAttempts:  f.attempts,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Retryable: func(err error) bool {
			return ctx.Err() == nil && !errors.Is(err, errSchemaRejected)
		},
	}, func() error {
		var err error
		sdl, err = f.fetchOnce(ctx, d)
		return err
	})
	if err == nil {
		if perr := f.store.Put(ctx, d.Name, sdl); perr != nil {
			f.logger.Warn("failed to cache SDL", "subgraph", d.Name, "error", perr)
		}
		return sdl, nil
	}

	cached, ok, cerr := f.store.Get(ctx, d.Name)
	if cerr != nil {
		f.logger.Warn("SDL cache lookup failed", "subgraph", d.Name, "error", cerr)
	}
	if ok {
		f.logger.Warn("using cached SDL", "subgraph", d.Name, "error", err)
		return cached, nil
	}
	return "", fmt.Errorf("%w: fetching SDL from %s: %v", gwerrors.ErrSubgraphUnreachable, d.Name, err)
}

func (f *Fetcher) fetchOnce(ctx context.Context, d subgraph.Descriptor) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"query": serviceQuery})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.SchemaURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building SDL request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", fmt.Errorf("%w: status %d", errSchemaRejected, resp.StatusCode)
		}
		return "", fmt.Errorf("schema endpoint returned status %d", resp.StatusCode)
	}

	var out serviceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSDLBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding schema response: %w", err)
	}
	if len(out.Errors) > 0 {
		return "", fmt.Errorf("%w: %s", errSchemaRejected, out.Errors.Error())
	}
	if out.Data == nil || out.Data.Service == nil || out.Data.Service.SDL == "" {
		return "", fmt.Errorf("%w: no SDL in response", errSchemaRejected)
	}
	return out.Data.Service.SDL, nil
}
