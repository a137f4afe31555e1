package collection

import "errors"

// ErrResourceExhausted is returned when a collection's concurrent
// mutation admission limit is saturated (spec §4.7 backpressure).
var ErrResourceExhausted = errors.New("collection: resource exhausted, too many concurrent mutations in flight")

// ErrNotFound is returned for operations against a record id that was
// never inserted or has been deleted.
var ErrNotFound = errors.New("collection: record not found")

// ErrClosed is returned for operations against a collection that has
// already been closed or evicted.
var ErrClosed = errors.New("collection: closed")
