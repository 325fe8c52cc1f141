package executor

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/planner"
)

// introspector answers __schema and __type from the composed schema.
type introspector struct {
	schema    *ast.Schema
	variables map[string]any
}

type schemaValue struct{}

// typeRef is a named type or a LIST / NON_NULL wrapper around one.
type typeRef struct {
	def    *ast.Definition
	kind   string
	ofType *typeRef
}

type inputValue struct {
	name         string
	description  string
	typ          *ast.Type
	defaultValue *ast.Value
}

func (in *introspector) resolve(n *planner.Node) any {
	switch n.Name {
	case "__schema":
		return in.object(n.Children, schemaValue{})
	case "__type":
		name, _ := in.arg(n, "name").(string)
		def := in.schema.Types[name]
		if def == nil {
			return nil
		}
		return in.object(n.Children, &typeRef{def: def})
	}
	return nil
}

func (in *introspector) arg(n *planner.Node, name string) any {
	a := n.Arguments.ForName(name)
	if a == nil || a.Value == nil {
		return nil
	}
	v, err := a.Value.Value(in.variables)
	if err != nil {
		return nil
	}
	return v
}

func (in *introspector) object(nodes []*planner.Node, v any) *object {
	out := newObject()
	for _, n := range nodes {
		if n.Name == "__typename" {
			out.set(n.ResponseKey, typenameOf(v))
			continue
		}
		out.set(n.ResponseKey, in.value(n, in.field(v, n)))
	}
	return out
}

func (in *introspector) value(n *planner.Node, raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = in.value(n, v[i])
		}
		return out
	case schemaValue, *typeRef, *ast.FieldDefinition, inputValue, *ast.EnumValueDefinition, *ast.DirectiveDefinition:
		return in.object(n.Children, v)
	}
	return raw
}

func typenameOf(v any) string {
	switch v.(type) {
	case schemaValue:
		return "__Schema"
	case *typeRef:
		return "__Type"
	case *ast.FieldDefinition:
		return "__Field"
	case inputValue:
		return "__InputValue"
	case *ast.EnumValueDefinition:
		return "__EnumValue"
	case *ast.DirectiveDefinition:
		return "__Directive"
	}
	return ""
}

func (in *introspector) field(v any, n *planner.Node) any {
	switch val := v.(type) {
	case schemaValue:
		return in.schemaField(n)
	case *typeRef:
		return in.typeField(val, n)
	case *ast.FieldDefinition:
		switch n.Name {
		case "name":
			return val.Name
		case "description":
			return optional(val.Description)
		case "args":
			return argumentList(val.Arguments)
		case "type":
			return in.ref(val.Type)
		case "isDeprecated":
			return val.Directives.ForName("deprecated") != nil
		case "deprecationReason":
			return deprecationReason(val.Directives)
		}
	case inputValue:
		switch n.Name {
		case "name":
			return val.name
		case "description":
			return optional(val.description)
		case "type":
			return in.ref(val.typ)
		case "defaultValue":
			if val.defaultValue == nil {
				return nil
			}
			return val.defaultValue.String()
		case "isDeprecated":
			return false
		}
	case *ast.EnumValueDefinition:
		switch n.Name {
		case "name":
			return val.Name
		case "description":
			return optional(val.Description)
		case "isDeprecated":
			return val.Directives.ForName("deprecated") != nil
		case "deprecationReason":
			return deprecationReason(val.Directives)
		}
	case *ast.DirectiveDefinition:
		switch n.Name {
		case "name":
			return val.Name
		case "description":
			return optional(val.Description)
		case "locations":
			out := make([]any, 0, len(val.Locations))
			for _, l := range val.Locations {
				out = append(out, string(l))
			}
			return out
		case "args":
			return argumentList(val.Arguments)
		case "isRepeatable":
			return val.IsRepeatable
		}
	}
	return nil
}

func (in *introspector) schemaField(n *planner.Node) any {
	switch n.Name {
	case "types":
		names := make([]string, 0, len(in.schema.Types))
		for name := range in.schema.Types {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]any, 0, len(names))
		for _, name := range names {
			out = append(out, &typeRef{def: in.schema.Types[name]})
		}
		return out
	case "queryType":
		return in.named(in.schema.Query)
	case "mutationType":
		return in.named(in.schema.Mutation)
	case "directives":
		names := make([]string, 0, len(in.schema.Directives))
		for name := range in.schema.Directives {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]any, 0, len(names))
		for _, name := range names {
			out = append(out, in.schema.Directives[name])
		}
		return out
	}
	return nil
}

func (in *introspector) typeField(t *typeRef, n *planner.Node) any {
	if t.def == nil {
		switch n.Name {
		case "kind":
			return t.kind
		case "ofType":
			return t.ofType
		}
		return nil
	}

	def := t.def
	includeDeprecated, _ := in.arg(n, "includeDeprecated").(bool)
	switch n.Name {
	case "kind":
		return string(def.Kind)
	case "name":
		return def.Name
	case "description":
		return optional(def.Description)
	case "fields":
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			return nil
		}
		out := make([]any, 0, len(def.Fields))
		for _, f := range def.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			if !includeDeprecated && f.Directives.ForName("deprecated") != nil {
				continue
			}
			out = append(out, f)
		}
		return out
	case "interfaces":
		if def.Kind != ast.Object && def.Kind != ast.Interface {
			return nil
		}
		out := make([]any, 0, len(def.Interfaces))
		for _, name := range def.Interfaces {
			if iface := in.schema.Types[name]; iface != nil {
				out = append(out, &typeRef{def: iface})
			}
		}
		return out
	case "possibleTypes":
		if !def.IsAbstractType() {
			return nil
		}
		possible := in.schema.GetPossibleTypes(def)
		out := make([]any, 0, len(possible))
		for _, p := range possible {
			out = append(out, &typeRef{def: p})
		}
		return out
	case "enumValues":
		if def.Kind != ast.Enum {
			return nil
		}
		out := make([]any, 0, len(def.EnumValues))
		for _, v := range def.EnumValues {
			if !includeDeprecated && v.Directives.ForName("deprecated") != nil {
				continue
			}
			out = append(out, v)
		}
		return out
	case "inputFields":
		if def.Kind != ast.InputObject {
			return nil
		}
		out := make([]any, 0, len(def.Fields))
		for _, f := range def.Fields {
			out = append(out, inputValue{name: f.Name, description: f.Description, typ: f.Type, defaultValue: f.DefaultValue})
		}
		return out
	case "isOneOf":
		return def.Directives.ForName("oneOf") != nil
	}
	return nil
}

// named returns a typeRef for def, or an untyped nil.
func (in *introspector) named(def *ast.Definition) any {
	if def == nil {
		return nil
	}
	return &typeRef{def: def}
}

// ref converts a type reference into nested NON_NULL and LIST wrappers.
func (in *introspector) ref(t *ast.Type) any {
	if t == nil {
		return nil
	}
	return in.wrap(t)
}

func (in *introspector) wrap(t *ast.Type) *typeRef {
	if t.NonNull {
		inner := *t
		inner.NonNull = false
		return &typeRef{kind: "NON_NULL", ofType: in.wrap(&inner)}
	}
	if t.Elem != nil {
		return &typeRef{kind: "LIST", ofType: in.wrap(t.Elem)}
	}
	return &typeRef{def: in.schema.Types[t.NamedType]}
}

func argumentList(args ast.ArgumentDefinitionList) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		out = append(out, inputValue{name: a.Name, description: a.Description, typ: a.Type, defaultValue: a.DefaultValue})
	}
	return out
}

func deprecationReason(dirs ast.DirectiveList) any {
	d := dirs.ForName("deprecated")
	if d == nil {
		return nil
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw
	}
	return "No longer supported"
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
