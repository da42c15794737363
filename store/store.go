package store

import (
	"context"
	"errors"
)

// Keys shared by every tab of one profile.
const (
	KeyUser          = "user"
	KeyToken         = "token"
	KeySeenShipments = "seenShipments"
)

var ErrNotFound = errors.New("state key not found")

// StateStore is durable key/value state scoped to one client profile. It is
// not a secret store.
type StateStore interface {
	// Load returns ErrNotFound when key has never been saved or was cleared.
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, value string) error
	Clear(ctx context.Context, key string) error
}
