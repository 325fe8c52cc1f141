package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	fetchErr  error
	fetches   int
	committed []int64
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	r.fetches++
	if r.fetchErr != nil {
		err := r.fetchErr
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func TestConsumerCommitsHandledMessages(t *testing.T) {
	r := &scriptedReader{msgs: []kafka.Message{
		{Offset: 1, Key: []byte("products"), Value: []byte(`{}`)},
		{Offset: 2, Key: []byte("users"), Value: []byte(`{}`)},
	}}
	var seen []string
	c := newConsumer(r, "schema-changes", func(_ context.Context, key, _ []byte) error {
		seen = append(seen, string(key))
		if string(key) == "users" {
			return errors.New("handler failed")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Start(ctx))

	assert.Equal(t, []string{"products", "users"}, seen)
	assert.Equal(t, []int64{1}, r.committed)
}

func TestConsumerBacksOffOnFetchErrors(t *testing.T) {
	r := &scriptedReader{fetchErr: errors.New("broker unavailable")}
	c := newConsumer(r, "schema-changes", func(context.Context, []byte, []byte) error { return nil })
	c.minBackoff = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Start(ctx))

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.GreaterOrEqual(t, r.fetches, 2)
	assert.LessOrEqual(t, r.fetches, 4, "fetch errors must not spin")
}

func TestDecodeJSON(t *testing.T) {
	type change struct {
		Subgraph string `json:"subgraph"`
	}
	out, err := DecodeJSON[change]([]byte(`{"subgraph":"reviews"}`))
	require.NoError(t, err)
	assert.Equal(t, "reviews", out.Subgraph)

	_, err = DecodeJSON[change]([]byte(`{`))
	assert.Error(t, err)
}
