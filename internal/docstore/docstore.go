// Package docstore persists named JSON documents.
//
// Every document is read and rewritten as a whole. Update runs the caller's
// mutation under an exclusive lock scoped to the backing resource, so
// concurrent writers never interleave a read-modify-write cycle.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSkipWrite may be returned by an Update mutation to leave the stored
// document untouched without reporting an error.
var ErrSkipWrite = errors.New("docstore: skip write")

// Backend stores raw document bytes by name.
type Backend interface {
	// Read returns the stored bytes, or nil when the document does not exist.
	Read(ctx context.Context, name string) ([]byte, error)
	// Update applies fn to the current bytes (nil when missing) and persists
	// the result while holding the document lock.
	Update(ctx context.Context, name string, fn func(current []byte) ([]byte, error)) error
	Close() error
}

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open returns the backend selected by driver.
func Open(ctx context.Context, driver string, dir string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFile:
		return NewFileBackend(dir)
	case DriverSQLite:
		return OpenSQLite(ctx, dir)
	default:
		return nil, fmt.Errorf("unsupported storage.driver %q (supported: %q, %q)", driver, DriverFile, DriverSQLite)
	}
}

// ReadJSON decodes the named document into v. It reports false when the
// document does not exist yet.
func ReadJSON(ctx context.Context, b Backend, name string, v any) (bool, error) {
	data, err := b.Read(ctx, name)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return true, nil
}

// UpdateJSON decodes the named document into a T (zero value when missing),
// lets fn mutate it and writes it back.
func UpdateJSON[T any](ctx context.Context, b Backend, name string, fn func(doc *T) error) error {
	return b.Update(ctx, name, func(current []byte) ([]byte, error) {
		var doc T
		if len(current) > 0 {
			if err := json.Unmarshal(current, &doc); err != nil {
				return nil, fmt.Errorf("parse %s: %w", name, err)
			}
		}
		if err := fn(&doc); err != nil {
			return nil, err
		}
		return json.MarshalIndent(doc, "", "  ")
	})
}
