// Package kv provides the keyed byte store used as the fallback persistence
// layer for consent grants and incentive payouts when the ledger does not
// own the record.
package kv

import "errors"

// ErrKeyNotFound is returned by Get when the key has no value.
var ErrKeyNotFound = errors.New("key not found")

// Store is a minimal keyed store. Implementations must be safe for
// concurrent use; callers that need read-modify-write atomicity on a key
// serialize access themselves.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error

	// IteratePrefix calls fn for every key with the given prefix. Iteration
	// stops early when fn returns false.
	IteratePrefix(prefix string, fn func(key string, value []byte) bool) error

	Close() error
}
