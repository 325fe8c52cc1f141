package handler

import (
	"net/http"

	"github.com/99designs/gqlgen/graphql/playground"
)

// Explorer serves the interactive GraphQL explorer pointed at endpoint. The
// router registers it only outside production.
func Explorer(title, endpoint string) http.Handler {
	return playground.Handler(title, endpoint)
}
