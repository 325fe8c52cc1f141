// Package events defines the gateway's operational event stream: subgraph
// state transitions, composition outcomes and mode changes. Events are
// buffered and flushed to Kafka in batches when an event stream is
// configured.
package events

import "time"

type Type string

const (
	SubgraphStateChanged Type = "subgraph_state_changed"
	SubgraphExcluded     Type = "subgraph_excluded"
	SchemaPublished      Type = "schema_published"
	SchemaRetained       Type = "schema_retained"
	SchemaWithdrawn      Type = "schema_withdrawn"
	ModeChanged          Type = "mode_changed"
)

type Event struct {
	Type      Type      `json:"type"`
	Subgraph  string    `json:"subgraph,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Version   int64     `json:"version,omitempty"`
	Included  []string  `json:"included,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Key is the partition key: events about one subgraph stay ordered.
func (e Event) Key() string {
	if e.Subgraph != "" {
		return e.Subgraph
	}
	return string(e.Type)
}

// Tracker accepts events without blocking the caller.
type Tracker interface {
	Track(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Track(Event) {}

// SchemaChange is published by a subgraph when its SDL changes.
type SchemaChange struct {
	Subgraph string    `json:"subgraph"`
	Digest   string    `json:"digest,omitempty"`
	At       time.Time `json:"at"`
}
