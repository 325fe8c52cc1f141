package events

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Federated-Graph-Gateway/pkg/kafka"
)

// SchemaChangeHandler returns a consumer callback that asks for a
// recomposition whenever a subgraph announces a schema change. Malformed
// messages are logged and committed so they are not redelivered forever.
func SchemaChangeHandler(trigger func(reason string)) kafka.MessageHandler {
	logger := slog.Default().With("component", "schema-change-subscriber")
	return func(ctx context.Context, key []byte, value []byte) error {
		change, err := kafka.DecodeJSON[SchemaChange](value)
		if err != nil {
			logger.Warn("ignoring malformed schema change", "key", string(key), "error", err)
			return nil
		}
		if change.Subgraph == "" {
			change.Subgraph = string(key)
		}
		logger.Info("subgraph announced schema change", "subgraph", change.Subgraph, "digest", change.Digest)
		trigger("schema change announced by " + change.Subgraph)
		return nil
	}
}
