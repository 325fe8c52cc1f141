package composer

const productsSDL = `
type Product @key(fields: "upc") {
  upc: String!
  name: String!
  price: Int
}

type Query {
  topProducts(first: Int = 5): [Product!]!
}
`

const usersSDL = `
directive @key(fields: _FieldSet!) on OBJECT | INTERFACE

scalar _FieldSet

type User @key(fields: "id") {
  id: ID!
  name: String!
  username: String @deprecated(reason: "use name")
}

type Query {
  me: User
  user(id: ID!): User
}
`

const reviewsSDL = `
type Review {
  id: ID!
  body: String!
  author: User
  product: Product
}

extend type User @key(fields: "id") {
  id: ID! @external
  reviews: [Review!]!
}

extend type Product @key(fields: "upc") {
  upc: String! @external
  reviews: [Review!]!
}

extend type Query {
  topReviews(first: Int = 5): [Review!]!
}
`

// zetaSDL redeclares a root field already provided by users.
const zetaSDL = `
type Query {
  me: String
  zeta: Int
}
`

// inventorySDL extends an entity no subgraph declares.
const inventorySDL = `
extend type Warehouse @key(fields: "id") {
  id: ID! @external
  stock: Int
}

extend type Query {
  warehouses: [Warehouse!]!
}
`

// shippingSDL keys Product by a field products does not provide.
const shippingSDL = `
extend type Product @key(fields: "sku") {
  sku: String! @external
  shippingEstimate: Int
}
`
