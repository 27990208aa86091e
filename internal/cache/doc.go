// Package cache defines the versioned, named cache stores the edge engine
// reads from and writes to. A Provider owns the store-name space (open, delete,
// list); a Store maps canonical request URLs to immutable response Snapshots.
// Backends share the same semantics: a missing key is a miss, not an error,
// puts overwrite silently, and every I/O failure surfaces as *StoreError so
// callers decide whether to retry. The package also hosts the Classifier that
// decides whether a response may be persisted at all.
package cache
