package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/internal/federation/composer"
)

const productsSDL = `
type Product @key(fields: "upc") {
  upc: String!
  name: String!
  price: Int
}

type Query {
  topProducts(first: Int = 5): [Product!]!
}

type Mutation {
  addProduct(name: String!): Product
}
`

const usersSDL = `
type User @key(fields: "id") {
  id: ID!
  name: String!
}

type Query {
  me: User
}

type Mutation {
  rename(name: String!): User
}
`

const reviewsSDL = `
type Review {
  body: String!
  author: User
}

extend type User @key(fields: "id") {
  id: ID! @external
  reviews: [Review!]!
}

extend type Product @key(fields: "upc") {
  upc: String! @external
  reviews: [Review!]!
}
`

func testSchema(t *testing.T) *composer.ComposedSchema {
	t.Helper()
	merged, err := composer.Merge([]composer.Source{
		{Name: "products", SDL: productsSDL},
		{Name: "users", SDL: usersSDL},
		{Name: "reviews", SDL: reviewsSDL},
	})
	require.NoError(t, err)
	require.Len(t, merged.Included, 3)
	return &composer.ComposedSchema{
		Version:           1,
		IncludedSubgraphs: merged.Included,
		SDL:               merged.SDL,
		Schema:            merged.Schema,
		Providers:         merged.Providers,
		Entities:          merged.Entities,
	}
}

func TestPlanEntityChain(t *testing.T) {
	schema := testSchema(t)
	plan, errs := Plan(schema, Request{Query: `{ topProducts { upc name reviews { body author { name } } } }`})
	require.Empty(t, errs)

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, [][]int{{0}, {1}, {2}}, plan.ExecutionOrder)
	assert.Equal(t, 3, plan.Depth())
	assert.Same(t, schema, plan.Schema)

	root := plan.Steps[0]
	assert.Equal(t, "products", root.Subgraph)
	assert.Equal(t, RootFetch, root.Kind)
	assert.Equal(t, "query { topProducts { upc name __typename } }", root.Query)
	assert.Equal(t, []string{"topProducts"}, root.ResponseKeys())

	reviews := plan.Steps[1]
	assert.Equal(t, "reviews", reviews.Subgraph)
	assert.Equal(t, EntityFetch, reviews.Kind)
	assert.Equal(t, 0, reviews.DependsOn)
	assert.Equal(t, []string{"topProducts"}, reviews.Path)
	assert.Equal(t, "Product", reviews.TypeName)
	assert.Equal(t, []string{"upc"}, reviews.KeyFields)
	assert.Equal(t,
		"query($representations: [_Any!]!) { _entities(representations: $representations) { ... on Product { reviews { body author { __typename id } } } } }",
		reviews.Query)

	users := plan.Steps[2]
	assert.Equal(t, "users", users.Subgraph)
	assert.Equal(t, 1, users.DependsOn)
	assert.Equal(t, []string{"topProducts", "reviews", "author"}, users.Path)
	assert.Contains(t, users.Query, "... on User { name }")

	assert.Equal(t, map[string]string{
		"topProducts":                     "products",
		"topProducts.upc":                 "products",
		"topProducts.name":                "products",
		"topProducts.reviews":             "reviews",
		"topProducts.reviews.body":        "reviews",
		"topProducts.reviews.author":      "reviews",
		"topProducts.reviews.author.name": "users",
	}, plan.FieldAssignments)
}

func TestPlanIndependentRootsRunInParallel(t *testing.T) {
	plan, errs := Plan(testSchema(t), Request{Query: `{ me { name } topProducts { name } }`})
	require.Empty(t, errs)

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, [][]int{{0, 1}}, plan.ExecutionOrder)
	assert.Equal(t, 1, plan.Depth())
	assert.Equal(t, "users", plan.Steps[0].Subgraph)
	assert.Equal(t, "products", plan.Steps[1].Subgraph)
}

func TestPlanForwardsOnlyUsedVariables(t *testing.T) {
	plan, errs := Plan(testSchema(t), Request{
		Query:     `query Top($n: Int) { topProducts(first: $n) { name } me { name } }`,
		Variables: map[string]any{"n": 2},
	})
	require.Empty(t, errs)

	products := plan.Steps[0]
	assert.Equal(t, []string{"n"}, products.VariableNames)
	assert.Equal(t, "query Top__products__0($n: Int) { topProducts(first: $n) { name } }", products.Query)
	assert.Empty(t, plan.Steps[1].VariableNames)
	assert.EqualValues(t, 2, plan.Variables["n"])
}

func TestPlanAppliesFragmentsAndDirectives(t *testing.T) {
	plan, errs := Plan(testSchema(t), Request{
		Query: `query($skip: Boolean!) {
			me { ...Ident name @skip(if: $skip) }
		}
		fragment Ident on User { id }`,
		Variables: map[string]any{"skip": true},
	})
	require.Empty(t, errs)

	require.Len(t, plan.Root, 1)
	me := plan.Root[0]
	require.Len(t, me.Children, 1)
	assert.Equal(t, "id", me.Children[0].Name)
	assert.Equal(t, "query { me { id } }", plan.Steps[0].Query)
}

func TestPlanMergesDuplicateResponseKeys(t *testing.T) {
	plan, errs := Plan(testSchema(t), Request{Query: `{ me { id } me { name } }`})
	require.Empty(t, errs)
	require.Len(t, plan.Root, 1)
	assert.Len(t, plan.Root[0].Children, 2)
	assert.Equal(t, "query { me { id name } }", plan.Steps[0].Query)
}

func TestPlanKeepsAliases(t *testing.T) {
	plan, errs := Plan(testSchema(t), Request{Query: `{ best: topProducts(first: 1) { title: name } }`})
	require.Empty(t, errs)
	assert.Equal(t, "query { best: topProducts(first: 1) { title: name } }", plan.Steps[0].Query)
	assert.Equal(t, "products", plan.FieldAssignments["best.title"])
}

func TestPlanResolvesIntrospectionLocally(t *testing.T) {
	plan, errs := Plan(testSchema(t), Request{Query: `{ __typename __schema { queryType { name } } }`})
	require.Empty(t, errs)
	assert.Empty(t, plan.Steps)
	assert.Len(t, plan.Local, 2)
}

func TestPlanMutationsRunSequentially(t *testing.T) {
	plan, errs := Plan(testSchema(t), Request{Query: `mutation {
		a: addProduct(name: "lamp") { upc }
		b: rename(name: "ada") { name }
		c: addProduct(name: "desk") { upc }
	}`})
	require.Empty(t, errs)

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, [][]int{{0}, {1}, {2}}, plan.ExecutionOrder)
	assert.Equal(t, `mutation { a: addProduct(name: "lamp") { upc } }`, plan.Steps[0].Query)
	assert.Equal(t, "users", plan.Steps[1].Subgraph)
	assert.Equal(t, 1, plan.Steps[2].DependsOn)
}

func TestPlanRejectsInvalidOperations(t *testing.T) {
	schema := testSchema(t)

	_, errs := Plan(schema, Request{Query: `{ nope }`})
	assert.NotEmpty(t, errs)

	_, errs = Plan(schema, Request{Query: ``})
	assert.NotEmpty(t, errs)

	_, errs = Plan(schema, Request{Query: `query A { me { id } } query B { me { name } }`})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "operationName")

	plan, errs := Plan(schema, Request{Query: `query A { me { id } } query B { me { name } }`, OperationName: "B"})
	require.Empty(t, errs)
	assert.Equal(t, "B", plan.Operation.Name)

	_, errs = Plan(schema, Request{Query: `query($n: Int!) { topProducts(first: $n) { name } }`})
	assert.NotEmpty(t, errs, "missing required variable")
}
