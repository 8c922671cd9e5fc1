// Package memstore provides an in-memory Store implementation with the same
// key and ordering semantics as the PostgreSQL adapter. It backs package
// tests and local development, and exposes simple fault injection so callers
// can exercise their dependency-failure paths.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/bramble-social/bramble/internal/store"
)

// Store is an in-memory, mutex-guarded item store.
type Store struct {
	mu    sync.RWMutex
	items map[string]*store.Item

	// failErr, when set, makes every operation fail with that error.
	failErr error
	// remainingPuts counts down successful Put/Update/Delete calls before
	// writes begin failing. Negative means unlimited.
	remainingPuts int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		items:         make(map[string]*store.Item),
		remainingPuts: -1,
	}
}

// Fail makes every subsequent operation return err. Passing nil restores
// normal operation.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// FailWritesAfter allows n more successful writes, then fails the rest with
// store.ErrUnavailable. Used to exercise the mirror-write inconsistency
// window.
func (s *Store) FailWritesAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remainingPuts = n
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func itemKey(pk, sk string) string {
	return pk + "\x00" + sk
}

func cloneItem(item *store.Item) *store.Item {
	clone := *item
	clone.Data = append([]byte(nil), item.Data...)
	return &clone
}

// Get retrieves a single item by its primary key.
func (s *Store) Get(_ context.Context, pk, sk string) (*store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failErr != nil {
		return nil, s.failErr
	}

	item, ok := s.items[itemKey(pk, sk)]
	if !ok {
		return nil, store.ErrItemNotFound
	}
	return cloneItem(item), nil
}

// Put upserts an item.
func (s *Store) Put(_ context.Context, item *store.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeAllowed(); err != nil {
		return err
	}

	s.items[itemKey(item.PK, item.SK)] = cloneItem(item)
	return nil
}

// Update applies a sparse patch to an existing item by merging the patch
// fields into the stored attributes.
func (s *Store) Update(_ context.Context, pk, sk string, patch store.Patch) (*store.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeAllowed(); err != nil {
		return nil, err
	}

	item, ok := s.items[itemKey(pk, sk)]
	if !ok {
		return nil, store.ErrItemNotFound
	}

	var attrs map[string]any
	if err := sonic.Unmarshal(item.Data, &attrs); err != nil {
		return nil, err
	}
	for k, v := range patch.Fields {
		attrs[k] = v
	}

	data, err := sonic.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	item.Data = data

	if patch.GSI1 != nil {
		item.GSI1PK, item.GSI1SK = patch.GSI1.PK, patch.GSI1.SK
	}
	if patch.GSI2 != nil {
		item.GSI2PK, item.GSI2SK = patch.GSI2.PK, patch.GSI2.SK
	}
	if patch.GSI3 != nil {
		item.GSI3PK, item.GSI3SK = patch.GSI3.PK, patch.GSI3.SK
	}

	return cloneItem(item), nil
}

// Delete removes an item. Deleting a missing item is not an error.
func (s *Store) Delete(_ context.Context, pk, sk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeAllowed(); err != nil {
		return err
	}

	delete(s.items, itemKey(pk, sk))
	return nil
}

// Query returns one ordered slice of a partition on the primary key or a
// secondary index.
func (s *Store) Query(_ context.Context, input store.QueryInput) (store.QueryOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failErr != nil {
		return store.QueryOutput{}, s.failErr
	}

	var matched []*store.Item
	for _, item := range s.items {
		pk, sk := indexKeys(item, input.Index)
		if pk != input.Partition || pk == "" {
			continue
		}
		if input.SortPrefix != "" && !strings.HasPrefix(sk, input.SortPrefix) {
			continue
		}
		if input.StartAfter != "" {
			if input.Descending && sk >= input.StartAfter {
				continue
			}
			if !input.Descending && sk <= input.StartAfter {
				continue
			}
		}
		matched = append(matched, item)
	}

	sort.Slice(matched, func(i, j int) bool {
		_, si := indexKeys(matched[i], input.Index)
		_, sj := indexKeys(matched[j], input.Index)
		if input.Descending {
			return si > sj
		}
		return si < sj
	})

	output := store.QueryOutput{}
	for _, item := range matched {
		if input.Limit > 0 && len(output.Items) == input.Limit {
			break
		}
		output.Items = append(output.Items, cloneItem(item))
	}

	if input.Limit > 0 && len(output.Items) == input.Limit && len(matched) >= input.Limit {
		_, sk := indexKeys(output.Items[len(output.Items)-1], input.Index)
		output.LastSortKey = sk
	}

	return output, nil
}

// Scan pages over the whole store in primary-key order.
func (s *Store) Scan(_ context.Context, input store.ScanInput) (store.ScanOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failErr != nil {
		return store.ScanOutput{}, s.failErr
	}

	var matched []*store.Item
	for _, item := range s.items {
		if input.SortPrefix != "" && !strings.HasPrefix(item.SK, input.SortPrefix) {
			continue
		}
		if input.StartAfter != nil {
			if item.PK < input.StartAfter.PK {
				continue
			}
			if item.PK == input.StartAfter.PK && item.SK <= input.StartAfter.SK {
				continue
			}
		}
		matched = append(matched, item)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PK != matched[j].PK {
			return matched[i].PK < matched[j].PK
		}
		return matched[i].SK < matched[j].SK
	})

	output := store.ScanOutput{}
	for _, item := range matched {
		if input.Limit > 0 && len(output.Items) == input.Limit {
			break
		}
		output.Items = append(output.Items, cloneItem(item))
	}

	if input.Limit > 0 && len(output.Items) == input.Limit && len(matched) > input.Limit {
		last := output.Items[len(output.Items)-1]
		output.LastKey = &store.Key{PK: last.PK, SK: last.SK}
	}

	return output, nil
}

// writeAllowed enforces the injected failure modes for mutating calls.
// Callers must hold the write lock.
func (s *Store) writeAllowed() error {
	if s.failErr != nil {
		return s.failErr
	}
	if s.remainingPuts == 0 {
		return store.ErrUnavailable
	}
	if s.remainingPuts > 0 {
		s.remainingPuts--
	}
	return nil
}

// indexKeys returns the item's key pair within the given index.
func indexKeys(item *store.Item, index string) (pk, sk string) {
	switch index {
	case store.IndexGSI1:
		return item.GSI1PK, item.GSI1SK
	case store.IndexGSI2:
		return item.GSI2PK, item.GSI2SK
	case store.IndexGSI3:
		return item.GSI3PK, item.GSI3SK
	default:
		return item.PK, item.SK
	}
}
