package cache

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// StoredResponse is the recorded outcome of a completed command, replayed
// verbatim when the same idempotency token is presented again.
type StoredResponse struct {
	Status int    `msgpack:"status"`
	Body   []byte `msgpack:"body"`
}

// Backend is the subset of RedisCache the idempotency store uses. Tests
// substitute an in-memory implementation.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// IdempotencyStore tracks client-supplied idempotency tokens. A token moves
// through two states: reserved (command executing) and completed (response
// recorded). Replays of a completed token return the recorded response;
// replays of a reserved token are rejected so a command never runs twice.
type IdempotencyStore struct {
	backend Backend
	ttl     time.Duration
}

func NewIdempotencyStore(backend Backend, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{backend: backend, ttl: ttl}
}

var reservedMarker = []byte{0}

// Reserve claims the token for this execution. Returns false when the token
// is already reserved or completed.
func (s *IdempotencyStore) Reserve(ctx context.Context, token string) (bool, error) {
	return s.backend.SetNX(ctx, "idem:"+token, reservedMarker, s.ttl)
}

// Complete records the response for a reserved token.
func (s *IdempotencyStore) Complete(ctx context.Context, token string, status int, body []byte) error {
	data, err := msgpack.Marshal(StoredResponse{Status: status, Body: body})
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, "idem:"+token, data, s.ttl)
}

// Lookup returns the recorded response for a completed token. The second
// return value distinguishes "token unknown" (false) from "token reserved
// but not yet completed" (true with nil response).
func (s *IdempotencyStore) Lookup(ctx context.Context, token string) (*StoredResponse, bool, error) {
	data, err := s.backend.Get(ctx, "idem:"+token)
	if err != nil {
		return nil, false, err
	}
	if data == nil {
		return nil, false, nil
	}
	if len(data) == 1 && data[0] == reservedMarker[0] {
		return nil, true, nil
	}
	var resp StoredResponse
	if err := msgpack.Unmarshal(data, &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}
