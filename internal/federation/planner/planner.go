// Package planner turns a federated GraphQL operation into a query plan
// against one composed schema snapshot: a set of per-subgraph fetch steps,
// the field-path assignments behind them and the stages in which they can
// run. A plan is created per request and never modified afterwards.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/composer"
)

// StepKind distinguishes root fetches from entity fetches.
type StepKind int

const (
	RootFetch StepKind = iota
	EntityFetch
)

func (k StepKind) String() string {
	if k == EntityFetch {
		return "entity"
	}
	return "root"
}

// Step is one sub-request to one subgraph.
type Step struct {
	ID       int
	Subgraph string
	Kind     StepKind
	// DependsOn is the step that must finish first, or -1.
	DependsOn int
	// Path is the response path of the objects an entity step resolves.
	Path []string
	// TypeName is the entity type an entity step resolves.
	TypeName string
	// KeyFields are the fields sent in each entity representation.
	KeyFields []string
	Fields    []*Selection
	// Query is the GraphQL document sent to the subgraph.
	Query string
	// VariableNames lists the operation variables the query references.
	VariableNames []string
	Depth         int
}

// ResponseKeys returns the top-level response keys this step fills in.
func (s *Step) ResponseKeys() []string {
	keys := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if !f.Injected {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// Request is an incoming GraphQL request.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// QueryPlan is the immutable plan for one request.
type QueryPlan struct {
	Schema    *composer.ComposedSchema
	Operation *ast.OperationDefinition
	RootType  string
	Variables map[string]any
	// Root is the normalized operation selection used to shape the response.
	Root []*Node
	// Local holds root fields the gateway resolves itself.
	Local []*Node
	Steps []*Step
	// ExecutionOrder groups step IDs into stages; steps in a stage run in
	// parallel and each stage starts after the previous one finished.
	ExecutionOrder [][]int
	// FieldAssignments maps dot-joined response paths to the subgraph that
	// resolves them.
	FieldAssignments map[string]string
}

// Depth is the length of the longest sequential chain of sub-requests.
func (p *QueryPlan) Depth() int {
	if len(p.ExecutionOrder) == 0 {
		return 1
	}
	return len(p.ExecutionOrder)
}

// Plan parses and validates req against schema and builds its query plan.
func Plan(schema *composer.ComposedSchema, req Request) (*QueryPlan, gqlerror.List) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, gqlerror.List{gqlerror.Errorf("query must not be empty")}
	}
	doc, errs := gqlparser.LoadQuery(schema.Schema, req.Query)
	if len(errs) > 0 {
		return nil, errs
	}

	op, err := selectOperation(doc, req.OperationName)
	if err != nil {
		return nil, gqlerror.List{err}
	}
	if op.Operation == ast.Subscription {
		return nil, gqlerror.List{gqlerror.Errorf("subscriptions are not supported")}
	}

	vars, verr := validator.VariableValues(schema.Schema, op, req.Variables)
	if verr != nil {
		var gerr *gqlerror.Error
		if e, ok := any(verr).(*gqlerror.Error); ok {
			gerr = e
		} else {
			gerr = gqlerror.Errorf("%s", verr.Error())
		}
		return nil, gqlerror.List{gerr}
	}

	rootType := "Query"
	if op.Operation == ast.Mutation {
		rootType = "Mutation"
	}

	z := &normalizer{schema: schema.Schema, fragments: doc.Fragments, variables: vars}
	b := &builder{
		schema:      schema,
		op:          op,
		entitySteps: make(map[string]*Step),
		assignments: make(map[string]string),
	}
	plan := &QueryPlan{
		Schema:    schema,
		Operation: op,
		RootType:  rootType,
		Variables: vars,
		Root:      z.collect(op.SelectionSet, rootType, "", nil),
	}

	var previous *Step
	roots := make(map[string]*Step)
	for _, n := range plan.Root {
		if n.IsIntrospection() {
			plan.Local = append(plan.Local, n)
			continue
		}
		owner := schema.Owner(rootType, n.Name)
		if owner == "" {
			b.errorf([]string{n.ResponseKey}, "field %s.%s is not served by any included subgraph", rootType, n.Name)
			continue
		}
		step := roots[owner]
		if step == nil || op.Operation == ast.Mutation {
			step = b.newStep(owner, RootFetch, previous, nil, "")
			roots[owner] = step
			if op.Operation == ast.Mutation {
				previous = step
			}
		}
		step.Fields = append(step.Fields, b.walk(step, rootType, []*Node{n}, nil)...)
	}
	if len(b.errs) > 0 {
		return nil, b.errs
	}

	for _, step := range b.steps {
		b.render(step)
	}
	plan.Steps = b.steps
	plan.ExecutionOrder = stages(b.steps)
	plan.FieldAssignments = b.assignments
	return plan, nil
}

func selectOperation(doc *ast.QueryDocument, name string) (*ast.OperationDefinition, *gqlerror.Error) {
	if name != "" {
		op := doc.Operations.ForName(name)
		if op == nil {
			return nil, gqlerror.Errorf("operation %q not found in document", name)
		}
		return op, nil
	}
	if len(doc.Operations) != 1 {
		return nil, gqlerror.Errorf("operationName is required when the document contains %d operations", len(doc.Operations))
	}
	return doc.Operations[0], nil
}

type builder struct {
	schema      *composer.ComposedSchema
	op          *ast.OperationDefinition
	steps       []*Step
	entitySteps map[string]*Step
	assignments map[string]string
	errs        gqlerror.List
}

func (b *builder) newStep(subgraph string, kind StepKind, parent *Step, path []string, typeName string) *Step {
	s := &Step{
		ID:        len(b.steps),
		Subgraph:  subgraph,
		Kind:      kind,
		DependsOn: -1,
		Path:      path,
		TypeName:  typeName,
	}
	if parent != nil {
		s.DependsOn = parent.ID
		s.Depth = parent.Depth + 1
	}
	b.steps = append(b.steps, s)
	return s
}

func (b *builder) entityStep(parent *Step, path []string, typeName, subgraph string, keys []string) *Step {
	id := fmt.Sprintf("%d|%s|%s|%s", parent.ID, strings.Join(path, "."), typeName, subgraph)
	if s, ok := b.entitySteps[id]; ok {
		return s
	}
	s := b.newStep(subgraph, EntityFetch, parent, path, typeName)
	s.KeyFields = keys
	b.entitySteps[id] = s
	return s
}

func (b *builder) errorf(path []string, format string, args ...any) {
	err := gqlerror.Errorf(format, args...)
	for _, p := range path {
		err.Path = append(err.Path, ast.PathName(p))
	}
	err.Extensions = map[string]any{"code": "QUERY_PLANNING_FAILED"}
	b.errs = append(b.errs, err)
}

func (b *builder) isAbstract(typeName string) bool {
	def := b.schema.Schema.Types[typeName]
	return def != nil && def.IsAbstractType()
}

// walk assigns nodes selected on parentType at path to step s, or to entity
// steps that depend on s, and returns s's own selections at this level.
func (b *builder) walk(s *Step, parentType string, nodes []*Node, path []string) []*Selection {
	var out []*Selection
	for _, n := range nodes {
		lookup := parentType
		if n.TypeCondition != "" {
			lookup = n.TypeCondition
		}
		childPath := append(append([]string(nil), path...), n.ResponseKey)

		if n.Name == "__typename" {
			out = append(out, &Selection{Key: n.ResponseKey, Name: n.Name, On: n.TypeCondition})
			continue
		}

		providers := b.schema.FieldProviders(lookup, n.Name)
		if contains(providers, s.Subgraph) || (b.isAbstract(lookup) && len(providers) == 0) {
			b.assignments[strings.Join(childPath, ".")] = s.Subgraph
			sel := &Selection{Key: n.ResponseKey, Name: n.Name, Arguments: n.Arguments, On: n.TypeCondition}
			if len(n.Children) > 0 {
				childType := n.Type().Name()
				sel.Children = b.walk(s, childType, n.Children, childPath)
				if b.isAbstract(childType) {
					sel.Children = inject(sel.Children, "", "__typename")
				}
			}
			out = append(out, sel)
			continue
		}

		target, keys := b.resolver(lookup, providers)
		if target == "" {
			b.errorf(childPath, "field %s.%s cannot be reached from subgraph %s", lookup, n.Name, s.Subgraph)
			continue
		}
		out = inject(out, n.TypeCondition, append([]string{"__typename"}, keys...)...)

		es := b.entityStep(s, path, lookup, target, keys)
		local := *n
		local.TypeCondition = ""
		es.Fields = append(es.Fields, b.walk(es, lookup, []*Node{&local}, path)...)
	}
	return out
}

// resolver picks the first provider of a field that can resolve its parent
// entity by key.
func (b *builder) resolver(typeName string, providers []string) (string, []string) {
	entity := b.schema.Entities[typeName]
	if entity == nil {
		return "", nil
	}
	for _, p := range providers {
		if keys, ok := entity.Keys[p]; ok {
			return p, keys
		}
	}
	return "", nil
}

// stages groups steps by dependency depth.
func stages(steps []*Step) [][]int {
	byDepth := make(map[int][]int)
	maxDepth := -1
	for _, s := range steps {
		byDepth[s.Depth] = append(byDepth[s.Depth], s.ID)
		if s.Depth > maxDepth {
			maxDepth = s.Depth
		}
	}
	order := make([][]int, 0, maxDepth+1)
	for d := 0; d <= maxDepth; d++ {
		ids := byDepth[d]
		sort.Ints(ids)
		order = append(order, ids)
	}
	return order
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
