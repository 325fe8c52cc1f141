package planner

import (
	"github.com/vektah/gqlparser/v2/ast"
)

// Node is one field of the operation after fragments are inlined and
// @skip/@include are applied. Fields with the same response key under the
// same type condition are merged into one Node.
type Node struct {
	ResponseKey string
	Name        string
	Arguments   ast.ArgumentList
	Definition  *ast.FieldDefinition
	// TypeCondition restricts the field to objects of that type when it was
	// selected through a fragment on an abstract parent. Empty means the
	// field always applies.
	TypeCondition string
	Children      []*Node
}

// Type is the field's declared output type.
func (n *Node) Type() *ast.Type {
	if n.Definition == nil {
		return ast.NonNullNamedType("String", nil)
	}
	return n.Definition.Type
}

// IsIntrospection reports whether the field is resolved by the gateway.
func (n *Node) IsIntrospection() bool {
	return n.Name == "__schema" || n.Name == "__type" || n.Name == "__typename"
}

type normalizer struct {
	schema    *ast.Schema
	fragments ast.FragmentDefinitionList
	variables map[string]any
}

func (z *normalizer) isAbstract(typeName string) bool {
	def := z.schema.Types[typeName]
	return def != nil && def.IsAbstractType()
}

func (z *normalizer) collect(set ast.SelectionSet, parentType, cond string, into []*Node) []*Node {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if !z.included(s.Directives) {
				continue
			}
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			node := find(into, key, cond)
			if node == nil {
				node = &Node{
					ResponseKey:   key,
					Name:          s.Name,
					Arguments:     s.Arguments,
					Definition:    s.Definition,
					TypeCondition: cond,
				}
				into = append(into, node)
			}
			if len(s.SelectionSet) > 0 && s.Definition != nil {
				node.Children = z.collect(s.SelectionSet, s.Definition.Type.Name(), "", node.Children)
			}
		case *ast.InlineFragment:
			if !z.included(s.Directives) {
				continue
			}
			into = z.collect(s.SelectionSet, parentType, z.narrow(parentType, cond, s.TypeCondition), into)
		case *ast.FragmentSpread:
			if !z.included(s.Directives) {
				continue
			}
			def := s.Definition
			if def == nil {
				def = z.fragments.ForName(s.Name)
			}
			if def == nil {
				continue
			}
			into = z.collect(def.SelectionSet, parentType, z.narrow(parentType, cond, def.TypeCondition), into)
		}
	}
	return into
}

// narrow picks the type condition for fields inside a fragment. Conditions
// under a concrete parent always hold; under an abstract parent the most
// specific condition seen so far wins.
func (z *normalizer) narrow(parentType, current, fragmentType string) string {
	if !z.isAbstract(parentType) || fragmentType == "" || fragmentType == parentType {
		return current
	}
	if current != "" && z.isAbstract(fragmentType) {
		return current
	}
	return fragmentType
}

func (z *normalizer) included(directives ast.DirectiveList) bool {
	if d := directives.ForName("skip"); d != nil && z.condition(d) {
		return false
	}
	if d := directives.ForName("include"); d != nil && !z.condition(d) {
		return false
	}
	return true
}

func (z *normalizer) condition(d *ast.Directive) bool {
	v, _ := d.ArgumentMap(z.variables)["if"].(bool)
	return v
}

func find(nodes []*Node, key, cond string) *Node {
	for _, n := range nodes {
		if n.ResponseKey == key && n.TypeCondition == cond {
			return n
		}
	}
	return nil
}
