package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrItemNotFound is returned by Get when no item exists for the key
	ErrItemNotFound = errors.New("item not found")

	// ErrConditionFailed is returned when a conditional write loses
	ErrConditionFailed = errors.New("conditional write failed")
)

// Key addresses one item by partition key and sort key
type Key struct {
	PK string `json:"pk"`
	SK string `json:"sk"`
}

// Item is a stored record. Data holds the JSON encoded entity and Version is
// incremented on every write, starting at 1.
type Item struct {
	Key
	Data      json.RawMessage `json:"data"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewItem encodes v into a new item
func NewItem(pk, sk string, v any) (*Item, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Item{Key: Key{PK: pk, SK: sk}, Data: data}, nil
}

// Decode unmarshals the item payload into v
func (i *Item) Decode(v any) error {
	return json.Unmarshal(i.Data, v)
}

// QueryOptions controls ordering and size of a prefix query
type QueryOptions struct {
	Limit      int
	Descending bool
}

// KeyedStore is a durable partition/sort key store with prefix queries,
// conditional writes and batch deletes
type KeyedStore interface {
	// Get retrieves one item, returning ErrItemNotFound if absent
	Get(ctx context.Context, key Key) (*Item, error)

	// Put writes an item unconditionally
	Put(ctx context.Context, item *Item) error

	// PutIfAbsent writes an item only if the key does not exist yet
	PutIfAbsent(ctx context.Context, item *Item) error

	// CompareAndSwap replaces an item only if its stored version matches
	CompareAndSwap(ctx context.Context, item *Item, expectedVersion int64) error

	// Query returns the items of a partition whose sort key starts with prefix, ordered by sort key
	Query(ctx context.Context, pk, skPrefix string, opts QueryOptions) ([]*Item, error)

	// Scan returns every item whose sort key starts with skPrefix across all partitions
	Scan(ctx context.Context, skPrefix string) ([]*Item, error)

	// Delete removes one item; deleting a missing key is not an error
	Delete(ctx context.Context, key Key) error

	// BatchDelete removes many items
	BatchDelete(ctx context.Context, keys []Key) error
}
