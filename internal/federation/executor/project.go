package executor

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/planner"
)

// project shapes the merged data tree into the response. A null in a
// non-null position invalidates the enclosing value up to the nearest
// nullable ancestor.
func (x *execution) project() *Response {
	p := &projector{
		schema: x.plan.Schema.Schema,
		intro:  &introspector{schema: x.plan.Schema.Schema, variables: x.plan.Variables},
		errs:   x.errs,
	}
	data, ok := p.fields(x.plan.Root, x.plan.RootType, x.data, nil, true)
	resp := &Response{HasData: true, Errors: p.errs}
	if ok {
		resp.Data = data
	}
	return resp
}

type projector struct {
	schema *ast.Schema
	intro  *introspector
	errs   gqlerror.List
}

func (p *projector) fields(nodes []*planner.Node, typeName string, src map[string]any, path ast.Path, root bool) (*object, bool) {
	out := newObject()
	actual := typeName
	if tn, ok := src["__typename"].(string); ok && tn != "" {
		actual = tn
	}
	for _, n := range nodes {
		if n.TypeCondition != "" && !p.satisfies(actual, n.TypeCondition) {
			continue
		}
		fieldPath := append(copyPath(path), ast.PathName(n.ResponseKey))

		if n.Name == "__typename" {
			out.set(n.ResponseKey, actual)
			continue
		}
		if root && n.IsIntrospection() {
			out.set(n.ResponseKey, p.intro.resolve(n))
			continue
		}

		v, ok := p.complete(n, n.Type(), src[n.ResponseKey], fieldPath)
		if !ok {
			return nil, false
		}
		out.set(n.ResponseKey, v)
	}
	return out, true
}

// satisfies reports whether an object of concrete type matches a fragment
// type condition.
func (p *projector) satisfies(concrete, condition string) bool {
	if concrete == condition {
		return true
	}
	def := p.schema.Types[condition]
	if def == nil || !def.IsAbstractType() {
		return false
	}
	for _, impl := range p.schema.GetPossibleTypes(def) {
		if impl.Name == concrete {
			return true
		}
	}
	return false
}

// complete returns the projected value and false when a null must bubble.
func (p *projector) complete(n *planner.Node, t *ast.Type, raw any, path ast.Path) (any, bool) {
	if raw == nil {
		if t.NonNull {
			p.nullError(n, path)
			return nil, false
		}
		return nil, true
	}

	if t.Elem != nil {
		items, ok := raw.([]any)
		if !ok {
			p.typeError(n, path, "list")
			return nil, !t.NonNull
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, ok := p.complete(n, t.Elem, item, append(copyPath(path), ast.PathIndex(i)))
			if !ok {
				return nil, !t.NonNull
			}
			out[i] = v
		}
		return out, true
	}

	if len(n.Children) == 0 {
		return raw, true
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		p.typeError(n, path, "object")
		return nil, !t.NonNull
	}
	v, ok := p.fields(n.Children, t.Name(), obj, path, false)
	if !ok {
		return nil, !t.NonNull
	}
	return v, true
}

func (p *projector) nullError(n *planner.Node, path ast.Path) {
	if hasErrorAt(p.errs, path) {
		return
	}
	p.errs = append(p.errs, &gqlerror.Error{
		Message: fmt.Sprintf("cannot return null for non-nullable field %s", n.Name),
		Path:    copyPath(path),
	})
}

func (p *projector) typeError(n *planner.Node, path ast.Path, want string) {
	p.errs = append(p.errs, &gqlerror.Error{
		Message: fmt.Sprintf("subgraph returned a non-%s value for field %s", want, n.Name),
		Path:    copyPath(path),
	})
}
