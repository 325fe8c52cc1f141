package config

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingHandler keeps every record written through it.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func TestResolvePortValidValues(t *testing.T) {
	for _, port := range []int{1, 80, 4000, 8080, 65535} {
		h := &recordingHandler{}
		got := ResolvePort(strconv.Itoa(port), slog.New(h))

		assert.Equal(t, port, got)
		assert.Zero(t, h.count(), "no diagnostic expected for %d", port)
	}
}

func TestResolvePortFallsBack(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing", ""},
		{"blank", "   "},
		{"not numeric", "http"},
		{"float", "8080.5"},
		{"zero", "0"},
		{"negative", "-1"},
		{"too large", "65536"},
		{"huge", "99999999999999999999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			got := ResolvePort(tt.raw, slog.New(h))

			assert.Equal(t, DefaultPort, got)
			assert.Equal(t, 1, h.count(), "exactly one diagnostic record")
		})
	}
}

func TestResolvePortTrimsWhitespace(t *testing.T) {
	h := &recordingHandler{}
	assert.Equal(t, 9000, ResolvePort(" 9000\n", slog.New(h)))
	assert.Zero(t, h.count())
}
