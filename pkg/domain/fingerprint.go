package domain

// Fingerprint is a stable, content-based key derived from a node's
// transitive upstream structure and transform parameters. Two nodes with
// identical structure and parameters share a fingerprint, even across
// process runs; cache addressing depends on that.
type Fingerprint string

// String returns the key form used for cache addressing.
func (f Fingerprint) String() string { return string(f) }
