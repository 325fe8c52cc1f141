// Package subgraph defines the backend service descriptors the gateway
// federates and the health state the prober maintains for each of them.
package subgraph

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/config"
)

// Descriptor identifies one subgraph. Descriptors are immutable after load.
type Descriptor struct {
	Name          string
	BaseURL       string
	HealthPath    string
	SchemaPath    string
	GraphQLPath   string
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration
}

// HealthURL is the probe target.
func (d Descriptor) HealthURL() string { return d.BaseURL + d.HealthPath }

// SchemaURL is the SDL introspection target.
func (d Descriptor) SchemaURL() string { return d.BaseURL + d.SchemaPath }

// GraphQLURL receives federated sub-requests.
func (d Descriptor) GraphQLURL() string { return d.BaseURL + d.GraphQLPath }

// FromConfig builds descriptors from normalized configuration.
func FromConfig(cfgs []config.SubgraphConfig) []Descriptor {
	out := make([]Descriptor, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, Descriptor{
			Name:          c.Name,
			BaseURL:       c.URL,
			HealthPath:    c.HealthPath,
			SchemaPath:    c.SchemaPath,
			GraphQLPath:   c.GraphQLPath,
			ProbeTimeout:  c.ProbeTimeout,
			ProbeInterval: c.ProbeInterval,
		})
	}
	return out
}

// State is a subgraph's health classification.
type State string

const (
	StateUnknown  State = "UNKNOWN"
	StateUp       State = "UP"
	StateDegraded State = "DEGRADED"
	StateDown     State = "DOWN"
)

// Gauge maps a state onto the subgraph_state metric value.
func (s State) Gauge() float64 {
	switch s {
	case StateUp:
		return 1
	case StateDegraded:
		return 2
	case StateDown:
		return 3
	default:
		return 0
	}
}

// HealthStatus is the prober's view of one subgraph.
//
// State is the effective state used for composition eligibility. Observed is
// the classification of the most recent probe; the two differ while a
// previously UP subgraph fails fewer consecutive probes than the threshold.
type HealthStatus struct {
	Name                string    `json:"name"`
	State               State     `json:"status"`
	Observed            State     `json:"observed"`
	LastCheckedAt       time.Time `json:"lastCheckedAt"`
	LatencyMs           *int64    `json:"latencyMs"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError,omitempty"`
}

// Eligible reports whether the subgraph may take part in composition.
func (h HealthStatus) Eligible() bool {
	return h.State == StateUp
}

// MarshalJSON renders a zero LastCheckedAt as null.
func (h HealthStatus) MarshalJSON() ([]byte, error) {
	type alias HealthStatus
	var checked *time.Time
	if !h.LastCheckedAt.IsZero() {
		t := h.LastCheckedAt.UTC()
		checked = &t
	}
	return json.Marshal(struct {
		alias
		LastCheckedAt *time.Time `json:"lastCheckedAt"`
	}{alias(h), checked})
}

// Snapshot is an immutable view of every subgraph's health. A new Snapshot
// replaces the previous one after each probe cycle; it is never mutated.
type Snapshot struct {
	Statuses map[string]HealthStatus
	TakenAt  time.Time
}

// NewSnapshot returns a snapshot with an UNKNOWN status for every descriptor.
func NewSnapshot(descriptors []Descriptor) *Snapshot {
	statuses := make(map[string]HealthStatus, len(descriptors))
	for _, d := range descriptors {
		statuses[d.Name] = HealthStatus{Name: d.Name, State: StateUnknown, Observed: StateUnknown}
	}
	return &Snapshot{Statuses: statuses}
}

// Eligible returns the sorted names of subgraphs eligible for composition.
func (s *Snapshot) Eligible() []string {
	if s == nil {
		return nil
	}
	var names []string
	for name, st := range s.Statuses {
		if st.Eligible() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Sorted returns the statuses ordered by subgraph name.
func (s *Snapshot) Sorted() []HealthStatus {
	if s == nil {
		return nil
	}
	out := make([]HealthStatus, 0, len(s.Statuses))
	for _, st := range s.Statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
