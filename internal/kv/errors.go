package kv

import "errors"

// Sentinel errors returned by the public API. Callers should match them with
// errors.Is; most are wrapped with additional context before being returned.
var (
	// ErrQueueFull signals backpressure: the operation was rejected before it
	// touched the backend and may be retried later.
	ErrQueueFull = errors.New("kv: operation queue is full")

	// ErrTimeout means the caller gave up waiting. The backend call is not
	// cancelled and may still complete; the outcome is unknown, not failed.
	ErrTimeout = errors.New("kv: operation timed out")

	// ErrClosed is returned for operations submitted after Close.
	ErrClosed = errors.New("kv: database is closed")

	// ErrEmptyKey rejects empty keys before any operation is queued.
	ErrEmptyKey = errors.New("kv: key must be a non-empty string")

	// ErrNotNumeric is returned by Increment/Decrement when the stored value
	// exists but is not a JSON number.
	ErrNotNumeric = errors.New("kv: existing value is not numeric")

	// ErrCorruptEntry distinguishes undecodable stored data from absent keys.
	ErrCorruptEntry = errors.New("kv: stored entry is corrupt")
)
