package ports

import (
	"context"

	"github.com/aretw0/eddy/pkg/domain"
)

// Tags name stream variants of one fingerprint key. Keeping background
// capture under its own tag means a capture job and a foreground execution
// of the same source never interleave appends on one entry.
const (
	// TagFull holds a complete foreground materialization of a node.
	TagFull = "full"
	// TagCapture holds the background-captured snapshot of a source.
	TagCapture = "capture"
)

// Codec translates elements to and from their stored encoding.
type Codec interface {
	Encode(e domain.Element) ([]byte, error)
	Decode(data []byte) (domain.Element, error)
}

// Sink is an append-only writer for a single cache entry.
// At most one sink may be active per (key, tag); that exclusivity is
// coordinated by the callers (capture controller and fragment execution),
// not enforced here.
type Sink interface {
	// Append encodes and stores one element, returning the number of bytes
	// written. The byte count feeds the capture size budget.
	Append(ctx context.Context, e domain.Element) (int, error)
	Close() error
}

// Reader yields a finite sequence of decoded elements.
// Every ElementCache.Read call returns a fresh Reader positioned at the
// start, reading a snapshot: an eviction racing with an open reader never
// truncates the sequence it already observes.
type Reader interface {
	// Next returns the next element. ok is false once the sequence is
	// exhausted.
	Next(ctx context.Context) (e domain.Element, ok bool, err error)
}

// ElementCache is a process-wide key-value store of element streams,
// addressed by fingerprint-derived keys plus a tag. Multiple readers may
// read the same key concurrently.
type ElementCache interface {
	// Write opens an append-only sink for (key, tag), creating the entry if
	// it does not exist yet.
	Write(ctx context.Context, key, tag string) (Sink, error)

	// Read opens a fresh reader over (key, tag). Returns
	// domain.ErrCacheMiss if the entry does not exist or was evicted.
	Read(ctx context.Context, key, tag string) (Reader, error)

	// Exists reports whether (key, tag) holds data.
	Exists(ctx context.Context, key, tag string) (bool, error)

	// Evict removes every entry whose key starts with prefix. Used to drop
	// all data belonging to an invalidated capture generation.
	Evict(ctx context.Context, prefix string) error

	// Codec exposes the element codec so callers can decode raw streams.
	Codec() Codec
}
