// Package memory provides an in-memory implementation of the state
// store. It is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mergetide/go-scd"
)

// Ensure Store implements the required interfaces.
var (
	_ scd.StateStore    = (*Store)(nil)
	_ scd.HealthChecker = (*Store)(nil)
)

// Store is an in-memory implementation of scd.StateStore. It is
// thread-safe and suitable for unit testing.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*entityData
	closed   bool
}

type entityData struct {
	watermarks map[string]scd.Sequence
	current    map[string]scd.CurrentRecord
	history    map[string][]scd.HistoryRecord
}

func newEntityData() *entityData {
	return &entityData{
		watermarks: make(map[string]scd.Sequence),
		current:    make(map[string]scd.CurrentRecord),
		history:    make(map[string][]scd.HistoryRecord),
	}
}

// NewStore creates a new in-memory state store.
func NewStore() *Store {
	return &Store{entities: make(map[string]*entityData)}
}

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = fmt.Errorf("scd/memory: store closed")

func (s *Store) entity(name string) *entityData {
	data, ok := s.entities[name]
	if !ok {
		data = newEntityData()
		s.entities[name] = data
	}
	return data
}

// LoadKeyStates returns the pre-merge state for the given keys.
func (s *Store) LoadKeyStates(ctx context.Context, entity string, keys []string) (map[string]scd.KeyState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, ok := s.entities[entity]
	if !ok {
		return map[string]scd.KeyState{}, nil
	}

	states := make(map[string]scd.KeyState, len(keys))
	for _, key := range keys {
		wm, hasWM := data.watermarks[key]
		if !hasWM {
			continue
		}
		state := scd.KeyState{Watermark: wm, HasWatermark: true}

		if rec, ok := data.current[key]; ok {
			clone := rec
			clone.Row = rec.Row.Clone()
			state.Current = &clone
		}

		open, err := openVersion(entity, key, data.history[key])
		if err != nil {
			return nil, err
		}
		state.OpenVersion = open

		states[key] = state
	}

	return states, nil
}

// openVersion finds a key's open history version. Finding more than one
// is corruption and fails loud rather than picking a winner.
func openVersion(entity, key string, versions []scd.HistoryRecord) (*scd.HistoryRecord, error) {
	var open *scd.HistoryRecord
	for i := range versions {
		if versions[i].ValidTo != nil {
			continue
		}
		if open != nil {
			return nil, scd.NewInvariantViolationError(entity, key, "multiple open history versions")
		}
		clone := versions[i]
		clone.Row = versions[i].Row.Clone()
		open = &clone
	}
	return open, nil
}

// CommitBatch atomically applies the commits for one entity. The whole
// batch is validated before any mutation, so a failed commit leaves the
// store untouched.
func (s *Store) CommitBatch(ctx context.Context, entity string, commits []scd.KeyCommit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	data := s.entity(entity)

	for _, c := range commits {
		if c.CloseOpen != nil && findVersion(data.history[c.Key], c.CloseOpen.VersionID) < 0 {
			return fmt.Errorf("scd/memory: close of unknown version %q for key %q", c.CloseOpen.VersionID, c.Key)
		}
		if c.UpdateOpen != nil && findVersion(data.history[c.Key], c.UpdateOpen.VersionID) < 0 {
			return fmt.Errorf("scd/memory: update of unknown version %q for key %q", c.UpdateOpen.VersionID, c.Key)
		}
	}

	for _, c := range commits {
		data.watermarks[c.Key] = c.Watermark

		if c.Upsert != nil {
			rec := *c.Upsert
			rec.Row = c.Upsert.Row.Clone()
			data.current[c.Key] = rec
		} else if c.DeleteCurrent {
			delete(data.current, c.Key)
		}

		versions := data.history[c.Key]
		if c.CloseOpen != nil {
			i := findVersion(versions, c.CloseOpen.VersionID)
			validTo := c.CloseOpen.ValidTo
			versions[i].ValidTo = &validTo
			versions[i].Current = false
			versions[i].Row = c.CloseOpen.Row.Clone()
		}
		if c.UpdateOpen != nil {
			i := findVersion(versions, c.UpdateOpen.VersionID)
			versions[i].Row = c.UpdateOpen.Row.Clone()
		}
		for _, v := range c.AppendVersions {
			rec := v
			rec.Row = v.Row.Clone()
			if v.ValidTo != nil {
				validTo := *v.ValidTo
				rec.ValidTo = &validTo
			}
			versions = append(versions, rec)
		}
		sort.SliceStable(versions, func(i, j int) bool {
			return versions[i].ValidFrom < versions[j].ValidFrom
		})
		data.history[c.Key] = versions
	}

	return nil
}

// LiveKeys returns every key with persisted state.
func (s *Store) LiveKeys(ctx context.Context, entity string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, ok := s.entities[entity]
	if !ok {
		return nil, nil
	}

	keys := make([]string, 0, len(data.watermarks))
	for key := range data.watermarks {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// GetCurrent returns the current-state record for a key, or nil.
func (s *Store) GetCurrent(ctx context.Context, entity, key string) (*scd.CurrentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, ok := s.entities[entity]
	if !ok {
		return nil, nil
	}
	rec, ok := data.current[key]
	if !ok {
		return nil, nil
	}
	clone := rec
	clone.Row = rec.Row.Clone()
	return &clone, nil
}

// History returns a key's versions ordered by ValidFrom.
func (s *Store) History(ctx context.Context, entity, key string) ([]scd.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, ok := s.entities[entity]
	if !ok {
		return nil, nil
	}

	versions := data.history[key]
	out := make([]scd.HistoryRecord, len(versions))
	for i, v := range versions {
		out[i] = v
		out[i].Row = v.Row.Clone()
		if v.ValidTo != nil {
			validTo := *v.ValidTo
			out[i].ValidTo = &validTo
		}
	}
	return out, nil
}

// AsOf returns the version authoritative at the given sequence, or nil.
func (s *Store) AsOf(ctx context.Context, entity, key string, seq scd.Sequence) (*scd.HistoryRecord, error) {
	versions, err := s.History(ctx, entity, key)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].CoversAt(seq) {
			return &versions[i], nil
		}
	}
	return nil, nil
}

// Ping checks if the store is healthy.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close releases the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Reset clears all data. Useful for testing.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[string]*entityData)
}

// CurrentCount returns the number of current-state rows for an entity.
func (s *Store) CurrentCount(entity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.entities[entity]
	if !ok {
		return 0
	}
	return len(data.current)
}

// VersionCount returns the total number of history records for an entity.
func (s *Store) VersionCount(entity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.entities[entity]
	if !ok {
		return 0
	}
	n := 0
	for _, versions := range data.history {
		n += len(versions)
	}
	return n
}

func findVersion(versions []scd.HistoryRecord, id string) int {
	for i := range versions {
		if versions[i].VersionID == id {
			return i
		}
	}
	return -1
}
