package composer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
)

// ComposedSchema is one published version of the federated schema. It is
// immutable once created; the composer replaces the active pointer instead of
// mutating it.
type ComposedSchema struct {
	Version           int64
	IncludedSubgraphs []string
	Digest            string
	SDL               string
	Schema            *ast.Schema
	// Providers maps type name to field name to the subgraphs able to
	// resolve that field, in priority order.
	Providers map[string]map[string][]string
	Entities  map[string]*Entity
	// Excluded records why eligible subgraphs were left out of this version.
	Excluded  map[string]string
	CreatedAt time.Time
}

// FieldProviders returns the subgraphs that resolve typeName.fieldName.
func (s *ComposedSchema) FieldProviders(typeName, fieldName string) []string {
	return s.Providers[typeName][fieldName]
}

// Owner returns the primary subgraph for typeName.fieldName, or "".
func (s *ComposedSchema) Owner(typeName, fieldName string) string {
	if p := s.Providers[typeName][fieldName]; len(p) > 0 {
		return p[0]
	}
	return ""
}

// digest fingerprints the public SDL together with the included set.
func digest(sdl string, included []string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(included, ",")))
	h.Write([]byte{0})
	h.Write([]byte(sdl))
	return hex.EncodeToString(h.Sum(nil))
}
