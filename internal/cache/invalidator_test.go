package cache

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/defimarkets/vault-backend/internal/tasks"
)

func TestInvalidatorNilClientIsNoOp(t *testing.T) {
	inv := NewInvalidator(nil, slog.New(slog.DiscardHandler))

	assert.NoError(t, inv.InvalidateTags(context.Background(), "vaults", "vault:abc"))

	// No panic and nothing enqueued without a client.
	queue := tasks.NewQueue(4, slog.New(slog.DiscardHandler))
	defer queue.Close()
	inv.EnqueueInvalidation(queue, "vaults")
	inv.EnqueueInvalidation(nil, "vaults")
}
