package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// JSONStore persists one kind of definition as a single JSON object keyed by
// name.
type JSONStore[T Keyed] struct {
	mu   sync.Mutex
	path string
}

// NewJSONStore creates a JSON-file-backed store.
func NewJSONStore[T Keyed](path string) *JSONStore[T] {
	return &JSONStore[T]{path: path}
}

// LoadAll returns all values ordered by key.
func (s *JSONStore[T]) LoadAll(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(keys))
	for _, key := range keys {
		out = append(out, values[key])
	}
	return out, nil
}

// LoadByKey returns one value or ErrNotFound.
func (s *JSONStore[T]) LoadByKey(ctx context.Context, key string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return zero, err
	}
	value, ok := values[key]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

// Save inserts or replaces one value.
func (s *JSONStore[T]) Save(ctx context.Context, value T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	values[value.StoreKey()] = value
	return s.write(values)
}

// SaveAll replaces the file contents with values.
func (s *JSONStore[T]) SaveAll(ctx context.Context, values []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]T, len(values))
	for _, value := range values {
		next[value.StoreKey()] = value
	}
	return s.write(next)
}

// Delete removes one value or returns ErrNotFound.
func (s *JSONStore[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(values, key)
	return s.write(values)
}

// read loads the file, treating a missing file as empty.
func (s *JSONStore[T]) read() (map[string]T, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]T{}, nil
		}
		return nil, err
	}

	values := map[string]T{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(s.path), err)
	}
	return values, nil
}

// write replaces the file through a temp file rename.
func (s *JSONStore[T]) write(values map[string]T) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
