package txn

import "context"

// Store is the durable mapping from transaction id to record. Entries expire
// after the store's TTL; an expired entry is indistinguishable from a missing
// one. Put refreshes the TTL, matching the behaviour of the key-value layout
// this service persists to.
type Store interface {
	// Get returns the record and whether it exists. Expired records report
	// absent without error.
	Get(ctx context.Context, transactionID string) (Record, bool, error)
	// Put writes the record and (re)applies the TTL.
	Put(ctx context.Context, rec Record) error
	// Delete removes the record if present.
	Delete(ctx context.Context, transactionID string) error
}
