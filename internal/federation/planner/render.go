package planner

import (
	"sort"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// Selection is a field as sent to one subgraph.
type Selection struct {
	Key       string
	Name      string
	Arguments ast.ArgumentList
	// On wraps the field in an inline fragment on that type.
	On       string
	Children []*Selection
	// Injected marks fields the planner added to build entity representations
	// or to discriminate abstract types.
	Injected bool
}

// inject adds unaliased fields under the given type condition unless already
// selected.
func inject(sels []*Selection, on string, names ...string) []*Selection {
	for _, name := range names {
		found := false
		for _, s := range sels {
			if s.Key == name && s.Name == name && s.On == on && len(s.Arguments) == 0 {
				found = true
				break
			}
		}
		if !found {
			sels = append(sels, &Selection{Key: name, Name: name, On: on, Injected: true})
		}
	}
	return sels
}

func (b *builder) render(s *Step) {
	vars := make(map[string]bool)
	for _, f := range s.Fields {
		collectVariables(f, vars)
	}
	for name := range vars {
		s.VariableNames = append(s.VariableNames, name)
	}
	sort.Strings(s.VariableNames)

	var sb strings.Builder
	opType := "query"
	if b.op.Operation == ast.Mutation && s.Kind == RootFetch {
		opType = "mutation"
	}
	sb.WriteString(opType)
	if b.op.Name != "" {
		sb.WriteString(" ")
		sb.WriteString(b.op.Name)
		sb.WriteString("__")
		sb.WriteString(sanitize(s.Subgraph))
		sb.WriteString("__")
		sb.WriteString(strconv.Itoa(s.ID))
	}

	var defs []string
	if s.Kind == EntityFetch {
		defs = append(defs, "$representations: [_Any!]!")
	}
	for _, name := range s.VariableNames {
		if def := b.op.VariableDefinitions.ForName(name); def != nil {
			defs = append(defs, "$"+name+": "+def.Type.String())
		}
	}
	if len(defs) > 0 {
		sb.WriteString("(")
		sb.WriteString(strings.Join(defs, ", "))
		sb.WriteString(")")
	}

	sb.WriteString(" {")
	if s.Kind == EntityFetch {
		sb.WriteString(" _entities(representations: $representations) { ... on ")
		sb.WriteString(s.TypeName)
		sb.WriteString(" {")
		writeSelections(&sb, s.Fields)
		sb.WriteString(" } }")
	} else {
		writeSelections(&sb, s.Fields)
	}
	sb.WriteString(" }")
	s.Query = sb.String()
}

func writeSelections(sb *strings.Builder, sels []*Selection) {
	for _, s := range sels {
		sb.WriteString(" ")
		if s.On != "" {
			sb.WriteString("... on ")
			sb.WriteString(s.On)
			sb.WriteString(" { ")
		}
		if s.Key != s.Name {
			sb.WriteString(s.Key)
			sb.WriteString(": ")
		}
		sb.WriteString(s.Name)
		if len(s.Arguments) > 0 {
			sb.WriteString("(")
			for i, arg := range s.Arguments {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(arg.Name)
				sb.WriteString(": ")
				sb.WriteString(arg.Value.String())
			}
			sb.WriteString(")")
		}
		if len(s.Children) > 0 {
			sb.WriteString(" {")
			writeSelections(sb, s.Children)
			sb.WriteString(" }")
		}
		if s.On != "" {
			sb.WriteString(" }")
		}
	}
}

func collectVariables(s *Selection, into map[string]bool) {
	for _, arg := range s.Arguments {
		valueVariables(arg.Value, into)
	}
	for _, c := range s.Children {
		collectVariables(c, into)
	}
}

func valueVariables(v *ast.Value, into map[string]bool) {
	if v == nil {
		return
	}
	if v.Kind == ast.Variable {
		into[v.Raw] = true
		return
	}
	for _, c := range v.Children {
		valueVariables(c.Value, into)
	}
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
}
