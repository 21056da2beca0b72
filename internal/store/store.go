package store

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("key not found")

// Store is a key/value blob store with hierarchical keys.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores data at key, replacing any previous value.
	Put(key string, data []byte) error

	// Has reports whether key exists.
	Has(key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// List yields every key that starts with prefix. The sequence is
	// finite and may be iterated more than once.
	List(prefix string) iter.Seq2[string, error]
}

// ValidKey checks that key is a relative slash-separated path without
// empty, "." or ".." segments.
func ValidKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("invalid key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("invalid key %q", key)
		}
	}
	return nil
}
