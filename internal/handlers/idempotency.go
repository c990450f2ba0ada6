package handlers

import (
	"context"
	"encoding/json"

	"github.com/m1z23r/drift/pkg/drift"
)

const idempotencyHeader = "Idempotency-Key"

// withIdempotency executes a command at most once per client-supplied token.
// A replayed completed token returns the recorded response verbatim; a token
// still reserved by an in-flight execution is rejected. Requests without a
// token run unconditionally. Outcomes are recorded whether the command
// succeeded or not; a fresh attempt needs a fresh token.
func withIdempotency(c *drift.Context, store IdempotencyStoreInterface, fn func(ctx context.Context) (int, any)) {
	ctx := context.Background()

	token := c.GetHeader(idempotencyHeader)
	if token == "" || store == nil {
		status, body := fn(ctx)
		_ = c.JSON(status, body)
		return
	}

	stored, known, err := store.Lookup(ctx, token)
	if err != nil {
		c.InternalServerError("idempotency lookup failed")
		return
	}
	if known && stored != nil {
		c.Header("Content-Type", "application/json")
		_ = c.JSON(stored.Status, json.RawMessage(stored.Body))
		return
	}
	if known {
		_ = c.JSON(409, map[string]any{
			"code":    "REQUEST_IN_FLIGHT",
			"message": "a request with this idempotency token is still executing",
		})
		return
	}

	reserved, err := store.Reserve(ctx, token)
	if err != nil {
		c.InternalServerError("idempotency reserve failed")
		return
	}
	if !reserved {
		// Lost the reservation race; the other request owns the token.
		_ = c.JSON(409, map[string]any{
			"code":    "REQUEST_IN_FLIGHT",
			"message": "a request with this idempotency token is still executing",
		})
		return
	}

	status, body := fn(ctx)

	if data, err := json.Marshal(body); err == nil {
		_ = store.Complete(ctx, token, status, data)
	}
	_ = c.JSON(status, body)
}
