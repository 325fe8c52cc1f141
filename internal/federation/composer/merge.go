package composer

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"

	gwerrors "github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/errors"
)

// Source is one subgraph's SDL as fetched for a composition pass.
type Source struct {
	Name string
	SDL  string
}

// Entity describes a type that subgraphs can resolve by key through
// _entities.
type Entity struct {
	Name string
	// Owner is the first included subgraph that declares the type rather than
	// extending it.
	Owner string
	// Keys maps each subgraph that declares @key on the type to the key fields
	// it expects in a representation.
	Keys map[string][]string
}

// Merged is the outcome of merging a set of subgraph schemas.
type Merged struct {
	SDL       string
	Schema    *ast.Schema
	Included  []string
	Excluded  map[string]error
	Providers map[string]map[string][]string
	Entities  map[string]*Entity
}

// conflictError excludes one subgraph from a composition pass. Deferred
// conflicts may resolve once other subgraphs are accepted.
type conflictError struct {
	subgraph string
	reason   string
	deferred bool
}

func (e *conflictError) Error() string {
	return fmt.Sprintf("%v: subgraph %s: %s", gwerrors.ErrCompositionConflict, e.subgraph, e.reason)
}

func (e *conflictError) Unwrap() error { return gwerrors.ErrCompositionConflict }

func conflict(subgraph, format string, args ...any) *conflictError {
	return &conflictError{subgraph: subgraph, reason: fmt.Sprintf(format, args...)}
}

func deferredConflict(subgraph, format string, args ...any) *conflictError {
	return &conflictError{subgraph: subgraph, reason: fmt.Sprintf(format, args...), deferred: true}
}

var rootOperations = map[ast.Operation]string{
	ast.Query:        "Query",
	ast.Mutation:     "Mutation",
	ast.Subscription: "Subscription",
}

var federationDirectives = map[string]bool{
	"key":              true,
	"external":         true,
	"requires":         true,
	"provides":         true,
	"extends":          true,
	"shareable":        true,
	"inaccessible":     true,
	"override":         true,
	"link":             true,
	"tag":              true,
	"composeDirective": true,
	"interfaceObject":  true,
	"authenticated":    true,
	"requiresScopes":   true,
	"policy":           true,
}

func isFederationDirective(name string) bool {
	return federationDirectives[name] || strings.HasPrefix(name, "federation__") || strings.HasPrefix(name, "link__")
}

func isFederationType(name string) bool {
	switch name {
	case "_Any", "_Entity", "_Service", "_FieldSet", "FieldSet":
		return true
	}
	return strings.HasPrefix(name, "federation__") || strings.HasPrefix(name, "link__")
}

func isRoot(name string) bool {
	return name == "Query" || name == "Mutation"
}

type typeDef struct {
	def      *ast.Definition
	defined  bool
	keys     [][]string
	external map[string]bool
}

// model is one subgraph's type system with federation machinery removed and
// root types renamed to Query and Mutation.
type model struct {
	name       string
	types      map[string]*typeDef
	order      []string
	directives []*ast.DirectiveDefinition
}

func parseModel(src Source) (*model, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: src.Name, Input: src.SDL})
	if err != nil {
		return nil, conflict(src.Name, "invalid SDL: %v", err)
	}

	roots := make(map[string]string)
	for _, list := range []ast.SchemaDefinitionList{doc.Schema, doc.SchemaExtension} {
		for _, sd := range list {
			for _, op := range sd.OperationTypes {
				roots[op.Type] = rootOperations[op.Operation]
			}
		}
	}

	m := &model{name: src.Name, types: make(map[string]*typeDef)}
	for _, d := range doc.Definitions {
		if err := m.add(d, false, roots); err != nil {
			return nil, err
		}
	}
	for _, d := range doc.Extensions {
		if err := m.add(d, true, roots); err != nil {
			return nil, err
		}
	}
	for _, dd := range doc.Directives {
		if !isFederationDirective(dd.Name) {
			m.directives = append(m.directives, dd)
		}
	}
	return m, nil
}

func (m *model) add(d *ast.Definition, extension bool, roots map[string]string) error {
	name := d.Name
	if canonical, ok := roots[name]; ok {
		name = canonical
	}
	if isFederationType(name) || name == "Subscription" {
		return nil
	}

	td, ok := m.types[name]
	if !ok {
		td = &typeDef{
			def: &ast.Definition{
				Kind:     d.Kind,
				Name:     name,
				Position: d.Position,
			},
			external: make(map[string]bool),
		}
		m.types[name] = td
		m.order = append(m.order, name)
	}
	if td.def.Kind != d.Kind {
		return conflict(m.name, "type %s is declared as both %s and %s", name, td.def.Kind, d.Kind)
	}
	if !extension && d.Directives.ForName("extends") == nil {
		td.defined = true
	}
	if td.def.Description == "" {
		td.def.Description = d.Description
	}

	for _, dir := range d.Directives {
		if dir.Name != "key" {
			continue
		}
		arg := dir.Arguments.ForName("fields")
		if arg == nil || arg.Value == nil {
			return conflict(m.name, "@key on %s has no fields argument", name)
		}
		fields, err := keyFields(arg.Value.Raw)
		if err != nil {
			return conflict(m.name, "@key on %s: %v", name, err)
		}
		td.keys = append(td.keys, fields)
	}

	td.def.Directives = appendDirectives(td.def.Directives, d.Directives)
	td.def.Interfaces = appendUnique(td.def.Interfaces, d.Interfaces...)
	for _, member := range d.Types {
		if !isFederationType(member) {
			td.def.Types = appendUnique(td.def.Types, member)
		}
	}
	for _, v := range d.EnumValues {
		if td.def.EnumValues.ForName(v.Name) == nil {
			td.def.EnumValues = append(td.def.EnumValues, v)
		}
	}
	for _, f := range d.Fields {
		if strings.HasPrefix(f.Name, "_") {
			continue
		}
		if f.Directives.ForName("external") != nil {
			td.external[f.Name] = true
		}
		if td.def.Fields.ForName(f.Name) != nil {
			continue
		}
		field := *f
		field.Directives = appendDirectives(nil, f.Directives)
		td.def.Fields = append(td.def.Fields, &field)
	}
	return nil
}

// keyFields splits a flat @key field set such as "id" or "sku upc".
func keyFields(raw string) ([]string, error) {
	if strings.ContainsAny(raw, "{}") {
		return nil, fmt.Errorf("nested key field set %q is not supported", raw)
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil, errors.New("empty key field set")
	}
	return fields, nil
}

func appendDirectives(dst ast.DirectiveList, src ast.DirectiveList) ast.DirectiveList {
	for _, dir := range src {
		if isFederationDirective(dir.Name) || dst.ForName(dir.Name) != nil {
			continue
		}
		dst = append(dst, dir)
	}
	return dst
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

// merger accumulates accepted subgraph models into one public type system.
type merger struct {
	types      map[string]*ast.Definition
	origin     map[string]string
	providers  map[string]map[string][]string
	entities   map[string]*Entity
	directives map[string]*ast.DirectiveDefinition
}

func newMerger() *merger {
	return &merger{
		types:      make(map[string]*ast.Definition),
		origin:     make(map[string]string),
		providers:  make(map[string]map[string][]string),
		entities:   make(map[string]*Entity),
		directives: make(map[string]*ast.DirectiveDefinition),
	}
}

func (mg *merger) add(m *model) error {
	for _, dd := range m.directives {
		if _, ok := mg.directives[dd.Name]; !ok {
			mg.directives[dd.Name] = dd
		}
	}

	for _, name := range m.order {
		td := m.types[name]
		def, ok := mg.types[name]
		if !ok {
			def = &ast.Definition{
				Kind:        td.def.Kind,
				Name:        name,
				Description: td.def.Description,
				Position:    td.def.Position,
			}
			mg.types[name] = def
			mg.origin[name] = m.name
			mg.providers[name] = make(map[string][]string)
		} else if def.Kind != td.def.Kind {
			return conflict(m.name, "type %s is %s here but %s in %s", name, td.def.Kind, def.Kind, mg.origin[name])
		}

		def.Directives = appendDirectives(def.Directives, td.def.Directives)
		def.Interfaces = appendUnique(def.Interfaces, td.def.Interfaces...)
		def.Types = appendUnique(def.Types, td.def.Types...)
		for _, v := range td.def.EnumValues {
			if def.EnumValues.ForName(v.Name) == nil {
				def.EnumValues = append(def.EnumValues, v)
			}
		}

		for _, f := range td.def.Fields {
			if td.external[f.Name] {
				continue
			}
			if prev := def.Fields.ForName(f.Name); prev != nil {
				owners := mg.providers[name][f.Name]
				if isRoot(name) {
					return conflict(m.name, "root field %s.%s is already provided by %s", name, f.Name, strings.Join(owners, ","))
				}
				if prev.Type.String() != f.Type.String() {
					return conflict(m.name, "field %s.%s has type %s here but %s in %s", name, f.Name, f.Type, prev.Type, strings.Join(owners, ","))
				}
				mg.providers[name][f.Name] = append(owners, m.name)
				continue
			}
			def.Fields = append(def.Fields, f)
			mg.providers[name][f.Name] = []string{m.name}
		}

		if len(td.keys) > 0 {
			e, ok := mg.entities[name]
			if !ok {
				e = &Entity{Name: name, Keys: make(map[string][]string)}
				mg.entities[name] = e
			}
			if td.defined && e.Owner == "" {
				e.Owner = m.name
			}
			e.Keys[m.name] = td.keys[0]
		}
	}
	return nil
}

// checkKeys reports a deferred conflict when m extends an entity that no
// accepted subgraph declares, or keys it by a field nobody provides.
func (mg *merger) checkKeys(m *model) error {
	for _, name := range m.order {
		td := m.types[name]
		if len(td.keys) == 0 {
			continue
		}
		e := mg.entities[name]
		if e == nil || e.Owner == "" {
			return deferredConflict(m.name, "extends %s but no included subgraph declares it", name)
		}
		for _, key := range td.keys {
			for _, field := range key {
				if len(mg.providers[name][field]) == 0 {
					return deferredConflict(m.name, "key field %s.%s is not provided by any included subgraph", name, field)
				}
			}
		}
	}
	return nil
}

// document renders the merged type system with Query and Mutation first and
// everything else sorted by name.
func (mg *merger) document() *ast.SchemaDocument {
	doc := &ast.SchemaDocument{}
	names := make([]string, 0, len(mg.types))
	for name := range mg.types {
		if !isRoot(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, root := range []string{"Mutation", "Query"} {
		if def, ok := mg.types[root]; ok && len(def.Fields) > 0 {
			names = append([]string{root}, names...)
		}
	}
	for _, name := range names {
		doc.Definitions = append(doc.Definitions, mg.types[name])
	}

	dirNames := make([]string, 0, len(mg.directives))
	for name := range mg.directives {
		dirNames = append(dirNames, name)
	}
	sort.Strings(dirNames)
	for _, name := range dirNames {
		doc.Directives = append(doc.Directives, mg.directives[name])
	}
	return doc
}

func formatDocument(doc *ast.SchemaDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(doc)
	return buf.String()
}

type attempt struct {
	merger *merger
	sdl    string
	schema *ast.Schema
}

// build merges models in order and validates the result.
func build(models []*model) (*attempt, error) {
	mg := newMerger()
	for _, m := range models {
		if err := mg.add(m); err != nil {
			return nil, err
		}
	}
	last := models[len(models)-1]
	if err := mg.checkKeys(last); err != nil {
		return nil, err
	}
	sdl := formatDocument(mg.document())
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "composed", Input: sdl})
	if err != nil {
		return nil, deferredConflict(last.name, "merged schema is invalid: %v", err)
	}
	return &attempt{merger: mg, sdl: sdl, schema: schema}, nil
}

// Merge composes the given subgraph schemas. Subgraphs are considered in name
// order; a subgraph that conflicts with the ones already accepted is
// excluded, while one that depends on a not-yet-accepted subgraph is retried
// until no further progress is possible. When no subgraph can be included
// Merge returns an error wrapping ErrCompositionUnavailable along with the
// exclusion reasons.
func Merge(sources []Source) (*Merged, error) {
	sorted := append([]Source(nil), sources...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	excluded := make(map[string]error)
	var pending []*model
	for _, src := range sorted {
		m, err := parseModel(src)
		if err != nil {
			excluded[src.Name] = err
			continue
		}
		pending = append(pending, m)
	}

	var accepted []*model
	var current *attempt
	for progress := true; progress && len(pending) > 0; {
		progress = false
		var retry []*model
		for _, m := range pending {
			a, err := build(append(append([]*model(nil), accepted...), m))
			if err == nil {
				accepted = append(accepted, m)
				current = a
				progress = true
				delete(excluded, m.name)
				continue
			}
			excluded[m.name] = err
			var ce *conflictError
			if errors.As(err, &ce) && ce.deferred {
				retry = append(retry, m)
			}
		}
		pending = retry
	}

	if current == nil {
		return &Merged{Excluded: excluded}, fmt.Errorf("%w: no subgraph schema could be composed", gwerrors.ErrCompositionUnavailable)
	}
	if q := current.merger.types["Query"]; q == nil || len(q.Fields) == 0 {
		return &Merged{Excluded: excluded}, fmt.Errorf("%w: composed schema has no query fields", gwerrors.ErrCompositionUnavailable)
	}

	included := make([]string, 0, len(accepted))
	for _, m := range accepted {
		included = append(included, m.name)
	}
	sort.Strings(included)

	return &Merged{
		SDL:       current.sdl,
		Schema:    current.schema,
		Included:  included,
		Excluded:  excluded,
		Providers: current.merger.providers,
		Entities:  current.merger.entities,
	}, nil
}
