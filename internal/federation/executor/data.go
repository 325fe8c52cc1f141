package executor

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/planner"
)

// collectTargets walks the data tree along path, flattening lists, and
// returns every object of typeName found there.
func collectTargets(data map[string]any, path []string, typeName string) []target {
	current := []target{{obj: data}}
	for _, key := range path {
		var next []target
		for _, t := range current {
			next = appendObjects(next, t.obj[key], append(copyPath(t.path), ast.PathName(key)))
		}
		current = next
	}

	out := current[:0]
	for _, t := range current {
		if tn, _ := t.obj["__typename"].(string); tn == typeName {
			out = append(out, t)
		}
	}
	return out
}

func appendObjects(into []target, v any, path ast.Path) []target {
	switch val := v.(type) {
	case map[string]any:
		return append(into, target{path: path, obj: val})
	case []any:
		for i, item := range val {
			into = appendObjects(into, item, append(copyPath(path), ast.PathIndex(i)))
		}
	}
	return into
}

func copyPath(p ast.Path) ast.Path {
	return append(ast.Path(nil), p...)
}

// representation builds the _entities input for obj.
func representation(obj map[string]any, typeName string, keys []string) map[string]any {
	rep := make(map[string]any, len(keys)+1)
	rep["__typename"] = typeName
	for _, k := range keys {
		rep[k] = obj[k]
	}
	return rep
}

// mergeInto deep-merges src into dst. Objects merge key by key and lists of
// equal length merge element-wise; anything else in src replaces dst.
func mergeInto(dst, src map[string]any) {
	for k, sv := range src {
		dv, ok := dst[k]
		if !ok || dv == nil {
			dst[k] = sv
			continue
		}
		switch s := sv.(type) {
		case map[string]any:
			if d, ok := dv.(map[string]any); ok {
				mergeInto(d, s)
				continue
			}
		case []any:
			if d, ok := dv.([]any); ok && len(d) == len(s) {
				for i := range s {
					dm, dok := d[i].(map[string]any)
					sm, sok := s[i].(map[string]any)
					if dok && sok {
						mergeInto(dm, sm)
					} else if s[i] != nil {
						d[i] = s[i]
					}
				}
				continue
			}
		}
		dst[k] = sv
	}
}

// failureErrors reports a failed sub-request at every response path the step
// would have filled in.
func failureErrors(step *planner.Step, targets []target, cause error) []*gqlerror.Error {
	var paths []ast.Path
	keys := step.ResponseKeys()
	if step.Kind == planner.RootFetch {
		for _, k := range keys {
			paths = append(paths, ast.Path{ast.PathName(k)})
		}
	} else {
	outer:
		for _, t := range targets {
			for _, k := range keys {
				if len(paths) == maxFailurePaths {
					break outer
				}
				paths = append(paths, append(copyPath(t.path), ast.PathName(k)))
			}
		}
	}

	msg := fmt.Sprintf("subgraph %s is unavailable: %v", step.Subgraph, cause)
	out := make([]*gqlerror.Error, 0, len(paths))
	for _, p := range paths {
		out = append(out, &gqlerror.Error{
			Message: msg,
			Path:    p,
			Extensions: map[string]any{
				"code":        CodeSubgraphUnavailable,
				"serviceName": step.Subgraph,
			},
		})
	}
	return out
}

// rewriteErrors maps errors returned by a subgraph onto the gateway response.
// Entity paths of the form _entities.N.rest become the path of the N-th
// target followed by rest.
func rewriteErrors(step *planner.Step, targets []target, errs []*gqlerror.Error) []*gqlerror.Error {
	out := make([]*gqlerror.Error, 0, len(errs))
	for _, src := range errs {
		if src == nil {
			continue
		}
		ext := make(map[string]any, len(src.Extensions)+2)
		for k, v := range src.Extensions {
			ext[k] = v
		}
		if _, ok := ext["code"]; !ok {
			ext["code"] = CodeSubgraphError
		}
		ext["serviceName"] = step.Subgraph

		path := copyPath(src.Path)
		if step.Kind == planner.EntityFetch {
			path = entityPath(src.Path, targets)
		}
		out = append(out, &gqlerror.Error{
			Message:    src.Message,
			Path:       path,
			Extensions: ext,
		})
	}
	return out
}

func entityPath(p ast.Path, targets []target) ast.Path {
	if len(p) < 2 {
		return nil
	}
	if name, ok := p[0].(ast.PathName); !ok || name != "_entities" {
		return nil
	}
	idx, ok := p[1].(ast.PathIndex)
	if !ok || int(idx) < 0 || int(idx) >= len(targets) {
		return nil
	}
	return append(copyPath(targets[idx].path), p[2:]...)
}

// hasErrorAt reports whether an error is already recorded at path or below.
func hasErrorAt(errs gqlerror.List, path ast.Path) bool {
	for _, e := range errs {
		if len(e.Path) < len(path) {
			continue
		}
		match := true
		for i := range path {
			if !samePathElement(e.Path[i], path[i]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func samePathElement(a, b ast.PathElement) bool {
	switch av := a.(type) {
	case ast.PathName:
		bv, ok := b.(ast.PathName)
		return ok && av == bv
	case ast.PathIndex:
		bv, ok := b.(ast.PathIndex)
		return ok && av == bv
	}
	return false
}
