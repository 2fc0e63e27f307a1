package kvstore

import (
	"context"
	"fmt"
)

// Store 共享键值层接口，支持多后端 (memory / SQLite)
// Store is the shared key-value interface supporting multiple backends
type Store interface {
	// Get returns the value for key. Absence is reported via the bool,
	// never as an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists all keys beginning with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// StorageError wraps an I/O failure from the underlying backend.
type StorageError struct {
	Op  string // "get", "set", "delete", "keys"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
