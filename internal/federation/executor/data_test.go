package executor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestCollectTargetsFlattensLists(t *testing.T) {
	data := decode(t, `{"a":[
		{"b":{"__typename":"T","id":1}},
		{"b":null},
		{"b":{"__typename":"U","id":2}},
		{"b":[{"__typename":"T","id":3}]}]}`)

	targets := collectTargets(data, []string{"a", "b"}, "T")
	require.Len(t, targets, 2)
	assert.Equal(t, ast.Path{ast.PathName("a"), ast.PathIndex(0), ast.PathName("b")}, targets[0].path)
	assert.Equal(t, ast.Path{ast.PathName("a"), ast.PathIndex(3), ast.PathName("b"), ast.PathIndex(0)}, targets[1].path)
}

func TestMergeInto(t *testing.T) {
	dst := decode(t, `{"x":1,"o":{"a":1},"l":[{"a":1},{"a":2}],"n":null}`)
	mergeInto(dst, decode(t, `{"y":2,"o":{"b":2},"l":[{"b":1},{"b":2}],"n":{"c":3}}`))

	assert.Equal(t, decode(t, `{"x":1,"y":2,"o":{"a":1,"b":2},"l":[{"a":1,"b":1},{"a":2,"b":2}],"n":{"c":3}}`), dst)
}

func TestHasErrorAt(t *testing.T) {
	errs := gqlerror.List{{Path: ast.Path{ast.PathName("me"), ast.PathName("reviews"), ast.PathIndex(0)}}}

	assert.True(t, hasErrorAt(errs, ast.Path{ast.PathName("me")}))
	assert.True(t, hasErrorAt(errs, ast.Path{ast.PathName("me"), ast.PathName("reviews")}))
	assert.False(t, hasErrorAt(errs, ast.Path{ast.PathName("me"), ast.PathName("name")}))
	assert.False(t, hasErrorAt(errs, ast.Path{ast.PathName("me"), ast.PathName("reviews"), ast.PathIndex(1)}))
}

func TestObjectMarshalKeepsInsertionOrder(t *testing.T) {
	o := newObject()
	o.set("z", 1)
	o.set("a", newObject())
	o.set("m", []any{"x", nil})
	o.set("z", 2)

	out, err := json.Marshal(o)
	require.NoError(t, err)
	assert.Equal(t, `{"z":2,"a":{},"m":["x",null]}`, string(out))
}
