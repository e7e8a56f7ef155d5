package audit

import "context"

// Store persists audit records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append stores records in order.
	Append(ctx context.Context, records ...Record) error

	// Flush forces buffered records to durable storage.
	Flush(ctx context.Context) error

	// Close releases resources. Further Appends are not allowed.
	Close() error
}

// RecentReader returns the latest records, newest first.
type RecentReader interface {
	Recent(n int) []Record
}
