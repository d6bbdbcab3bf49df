package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by LoadByKey and Delete for unknown keys.
var ErrNotFound = errors.New("definition not found")

// Keyed values are stored under the key they report.
type Keyed interface {
	StoreKey() string
}

// Store is a keyed load/save service for definitions. Every call returns
// independent value copies; concurrent writers are last-write-wins.
type Store[T Keyed] interface {
	LoadAll(ctx context.Context) ([]T, error)
	LoadByKey(ctx context.Context, key string) (T, error)
	Save(ctx context.Context, value T) error
	// SaveAll replaces the whole set.
	SaveAll(ctx context.Context, values []T) error
	Delete(ctx context.Context, key string) error
}
