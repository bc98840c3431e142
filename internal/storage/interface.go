package storage

import (
	"context"
)

// Storage is the durable key/value store holding the credential. Values are
// opaque strings; each key is independently readable and removable.
type Storage interface {
	// Get returns model.ErrKeyNotFound when the key is absent
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes all given keys in one operation. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}
