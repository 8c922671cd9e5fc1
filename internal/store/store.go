// Package store defines the generic item store consumed by the social graph
// and feed layers. Items live in partitions addressed by a partition key and
// ordered by a sort key, with up to three secondary index projections for
// reverse lookups and time-ordered scans.
package store

import (
	"context"
	"errors"
)

var (
	// ErrItemNotFound indicates the requested item does not exist.
	ErrItemNotFound = errors.New("item not found")

	// ErrUnavailable indicates the store could not be reached or timed out
	// after retries. Callers surface this as a retryable dependency failure.
	ErrUnavailable = errors.New("store unavailable")
)

// Secondary index names accepted by QueryInput.Index.
const (
	IndexGSI1 = "gsi1"
	IndexGSI2 = "gsi2"
	IndexGSI3 = "gsi3"
)

// Item is a single stored record. Data holds the serialized attributes; the
// GSI key pairs are sparse projections maintained by the writer and may be
// empty when a record does not participate in an index.
type Item struct {
	PK     string `bun:"pk,pk"`
	SK     string `bun:"sk,pk"`
	GSI1PK string `bun:"gsi1_pk"`
	GSI1SK string `bun:"gsi1_sk"`
	GSI2PK string `bun:"gsi2_pk"`
	GSI2SK string `bun:"gsi2_sk"`
	GSI3PK string `bun:"gsi3_pk"`
	GSI3SK string `bun:"gsi3_sk"`
	Data   []byte `bun:"data,type:jsonb"`
}

// IndexKey addresses an item within a secondary index.
type IndexKey struct {
	PK string
	SK string
}

// Patch is a sparse update: Fields are merged into the item's attributes
// natively by the adapter; non-nil index keys replace the corresponding
// projection so status or timestamp changes keep indexes in sync.
type Patch struct {
	Fields map[string]any
	GSI1   *IndexKey
	GSI2   *IndexKey
	GSI3   *IndexKey
}

// Key identifies an item for pagination restarts.
type Key struct {
	PK string
	SK string
}

// QueryInput selects an ordered slice of one partition, on the primary key
// or a named secondary index.
type QueryInput struct {
	// Index is empty for the primary key, or one of the IndexGSI constants.
	Index string
	// Partition is the partition key value to query.
	Partition string
	// SortPrefix restricts results to sort keys with this prefix.
	SortPrefix string
	// StartAfter resumes a previous query exclusively after this sort key.
	StartAfter string
	// Limit caps the number of returned items. Zero means no cap.
	Limit int
	// Descending reverses the sort-key order.
	Descending bool
}

// QueryOutput returns the matched items in index order. LastSortKey is set
// when the limit was reached and more items may remain.
type QueryOutput struct {
	Items       []*Item
	LastSortKey string
}

// ScanInput pages over the whole table in primary-key order, optionally
// restricted to a sort-key prefix. Used for index rebuilds only.
type ScanInput struct {
	SortPrefix string
	StartAfter *Key
	Limit      int
}

// ScanOutput returns one scan page. LastKey is set when more pages remain.
type ScanOutput struct {
	Items   []*Item
	LastKey *Key
}

// Store is the persistence contract. Single-item operations are atomic;
// queries return items in index sort order. Implementations must wrap
// infrastructure failures with ErrUnavailable rather than hang or swallow
// them.
type Store interface {
	Get(ctx context.Context, pk, sk string) (*Item, error)
	Put(ctx context.Context, item *Item) error
	Update(ctx context.Context, pk, sk string, patch Patch) (*Item, error)
	Delete(ctx context.Context, pk, sk string) error
	Query(ctx context.Context, input QueryInput) (QueryOutput, error)
	Scan(ctx context.Context, input ScanInput) (ScanOutput, error)
}
