package scd

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Engine merges change-event batches into per-entity current-state and
// history projections. It owns the per-key ordering guarantee: for a
// single key, observable state transitions occur in increasing sequence
// order regardless of delivery order. Across keys there is no ordering
// guarantee and none is required, which is what makes per-key
// parallelism safe.
type Engine struct {
	store    StateStore
	entities map[string]EntityConfig
	logger   Logger
	metrics  MergeMetrics
	notifier Notifier
	lanes    *Partitioner
	closed   atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MergeMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithNotifier sets the applied-change notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithWorkers sets the number of merge workers per batch.
// Defaults to runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.lanes = NewPartitioner(n)
	}
}

// NewEngine creates an Engine over the given store for the given
// entities. At least one entity configuration is required.
func NewEngine(store StateStore, configs []EntityConfig, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("scd: at least one entity configuration is required")
	}

	entities := make(map[string]EntityConfig, len(configs))
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := entities[cfg.Name]; dup {
			return nil, fmt.Errorf("scd: entity %q configured twice", cfg.Name)
		}
		entities[cfg.Name] = cfg
	}

	e := &Engine{
		store:    store,
		entities: entities,
		logger:   &noopLogger{},
		metrics:  noopMergeMetrics{},
		lanes:    NewPartitioner(runtime.NumCPU()),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Entity returns the configuration for an entity.
func (e *Engine) Entity(name string) (EntityConfig, error) {
	cfg, ok := e.entities[name]
	if !ok {
		return EntityConfig{}, NewUnknownEntityError(name)
	}
	return cfg, nil
}

// Entities returns the configured entity names in sorted order.
func (e *Engine) Entities() []string {
	names := make([]string, 0, len(e.entities))
	for name := range e.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store returns the engine's state store.
func (e *Engine) Store() StateStore {
	return e.store
}

// Close marks the engine closed. In-flight batches finish; new batches
// are rejected. The store is not closed; its owner closes it.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

// KeyFailure reports a key whose merge failed within an otherwise
// successful batch.
type KeyFailure struct {
	Key string
	Err error
}

// BatchResult summarizes one processed batch.
type BatchResult struct {
	// Entity is the entity the batch belonged to.
	Entity string

	// Keys is the number of distinct keys the batch touched.
	Keys int

	// Applied is the number of events folded into committed state.
	Applied int

	// Dropped is the number of events discarded as idempotent-replay
	// noise (at or below a key's watermark).
	Dropped int

	// Conflicts are the equal-sequence violations excluded from the
	// batch, reported for operator remediation.
	Conflicts []*DuplicateSequenceError

	// KeyFailures are keys whose merges failed. Failed keys did not
	// block the batch; their state is untouched.
	KeyFailures []KeyFailure
}

// keyOutcome is one lane worker's result for a key.
type keyOutcome struct {
	key       string
	commit    *KeyCommit
	applied   []AppliedChange
	dropped   int
	conflicts []*DuplicateSequenceError
	opened    int
	closed    int
	err       error
}

// ProcessBatch merges one micro-batch of events for an entity. The batch
// is processed to completion before the caller admits the next one:
// events are partitioned by key, each key's run is ordered and folded in
// parallel lanes, and the surviving commits are applied to the store as
// a single atomic step. Cancelling the context before commit leaves no
// partial effect.
//
// A non-nil BatchResult is returned whenever the batch committed, even
// if it carries conflicts or per-key failures; an error is returned only
// when the batch as a whole could not be processed.
func (e *Engine) ProcessBatch(ctx context.Context, entity string, events []ChangeEvent) (*BatchResult, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	cfg, ok := e.entities[entity]
	if !ok {
		return nil, NewUnknownEntityError(entity)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	byKey, truncates, err := e.splitEvents(cfg, events)
	if err != nil {
		return nil, err
	}

	if len(truncates) > 0 {
		if err := e.expandTruncates(ctx, cfg, byKey, truncates); err != nil {
			return nil, err
		}
	}

	result := &BatchResult{Entity: entity, Keys: len(byKey)}
	if len(byKey) == 0 {
		e.metrics.RecordBatch(entity, 0, time.Since(start), true)
		return result, nil
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	states, err := e.store.LoadKeyStates(ctx, entity, keys)
	if err != nil {
		e.metrics.RecordBatch(entity, len(keys), time.Since(start), false)
		return nil, fmt.Errorf("scd: failed to load key states for entity %q: %w", entity, err)
	}

	outcomes := e.mergeLanes(ctx, cfg, keys, byKey, states)

	var (
		commits []KeyCommit
		applied []AppliedChange
	)
	for _, out := range outcomes {
		result.Dropped += out.dropped
		result.Conflicts = append(result.Conflicts, out.conflicts...)
		if out.err != nil {
			result.KeyFailures = append(result.KeyFailures, KeyFailure{Key: out.key, Err: out.err})
			e.metrics.RecordKeyFailure(entity)
			e.logger.Error("Key merge failed", "entity", entity, "key", out.key, "error", out.err)
			continue
		}
		if out.commit == nil {
			continue
		}
		commits = append(commits, *out.commit)
		applied = append(applied, out.applied...)
		result.Applied += len(out.applied)
		for i := 0; i < out.opened; i++ {
			e.metrics.RecordVersionOpened(entity)
		}
		for i := 0; i < out.closed; i++ {
			e.metrics.RecordVersionClosed(entity)
		}
	}
	for i := 0; i < result.Dropped; i++ {
		e.metrics.RecordEventDropped(entity)
	}
	for range result.Conflicts {
		e.metrics.RecordDuplicateSequence(entity)
	}

	if len(commits) > 0 {
		if err := ctx.Err(); err != nil {
			e.metrics.RecordBatch(entity, len(keys), time.Since(start), false)
			return nil, err
		}
		if err := e.store.CommitBatch(ctx, entity, commits); err != nil {
			e.metrics.RecordBatch(entity, len(keys), time.Since(start), false)
			return nil, fmt.Errorf("scd: failed to commit batch for entity %q: %w", entity, err)
		}
		for _, c := range commits {
			e.metrics.RecordWatermark(entity, c.Watermark)
		}
		for _, ch := range applied {
			e.metrics.RecordEventApplied(entity, ch.Op)
		}
	}

	e.metrics.RecordBatch(entity, len(keys), time.Since(start), true)
	e.logger.Debug("Batch processed",
		"entity", entity,
		"keys", result.Keys,
		"applied", result.Applied,
		"dropped", result.Dropped,
		"conflicts", len(result.Conflicts),
		"failures", len(result.KeyFailures),
	)

	if e.notifier != nil && len(applied) > 0 {
		if err := e.notifier.Notify(ctx, applied); err != nil {
			e.logger.Warn("Applied-change notification failed", "entity", entity, "error", err)
		}
	}

	return result, nil
}

// splitEvents validates the batch and partitions keyed events from
// truncates. Malformed events are a programming error on the caller's
// side (the validator rejects them upstream), so they fail the batch.
func (e *Engine) splitEvents(cfg EntityConfig, events []ChangeEvent) (map[string][]ChangeEvent, []ChangeEvent, error) {
	byKey := make(map[string][]ChangeEvent)
	var truncates []ChangeEvent
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, nil, fmt.Errorf("scd: invalid event %d in batch for entity %q: %w", i, cfg.Name, err)
		}
		if ev.Op == OpTruncate {
			truncates = append(truncates, ev)
			continue
		}
		byKey[ev.Key] = append(byKey[ev.Key], ev)
	}
	return byKey, truncates, nil
}

// expandTruncates turns each truncate into per-key truncate events so
// the sequencer compares its sequence against each key's watermark like
// any other change. A truncate-all expands over the store's live keys
// plus every key present in the batch.
func (e *Engine) expandTruncates(ctx context.Context, cfg EntityConfig, byKey map[string][]ChangeEvent, truncates []ChangeEvent) error {
	var liveKeys []string
	for _, tr := range truncates {
		affected := tr.Truncate.Keys
		if tr.Truncate.All {
			if liveKeys == nil {
				keys, err := e.store.LiveKeys(ctx, cfg.Name)
				if err != nil {
					return fmt.Errorf("scd: failed to list live keys for entity %q: %w", cfg.Name, err)
				}
				liveKeys = keys
			}
			affected = liveKeys
			for key := range byKey {
				if !containsKey(affected, key) {
					affected = append(affected, key)
				}
			}
		}
		for _, key := range affected {
			byKey[key] = append(byKey[key], ChangeEvent{
				Key:      key,
				Sequence: tr.Sequence,
				Op:       OpTruncate,
				Arrival:  tr.Arrival,
			})
		}
	}
	return nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// mergeLanes folds every key's run, one worker per lane. Keys in the
// same lane are processed sequentially; lanes run in parallel. No lane
// shares merge state with another, so no locks guard the folds.
func (e *Engine) mergeLanes(ctx context.Context, cfg EntityConfig, keys []string, byKey map[string][]ChangeEvent, states map[string]KeyState) []keyOutcome {
	laneKeys := e.lanes.Split(keys)

	outcomes := make([]keyOutcome, len(keys))
	index := make(map[string]int, len(keys))
	for i, key := range keys {
		index[key] = i
	}

	var wg sync.WaitGroup
	for _, lane := range laneKeys {
		if len(lane) == 0 {
			continue
		}
		wg.Add(1)
		go func(lane []string) {
			defer wg.Done()
			for _, key := range lane {
				outcomes[index[key]] = e.mergeKey(cfg, key, byKey[key], states[key])
			}
		}(lane)
	}
	wg.Wait()

	return outcomes
}

// mergeKey orders one key's events and folds them through both mergers,
// producing the key's atomic commit.
func (e *Engine) mergeKey(cfg EntityConfig, key string, events []ChangeEvent, state KeyState) keyOutcome {
	out := keyOutcome{key: key}

	if err := checkKeyState(cfg.Name, key, state); err != nil {
		out.err = err
		return out
	}

	seq := orderRun(cfg.Name, key, events, state.Watermark, state.HasWatermark)
	out.dropped = seq.dropped
	out.conflicts = seq.conflicts
	if len(seq.run) == 0 {
		return out
	}

	current := newCurrentMerger(state)
	history := newHistoryMerger(cfg.Tracked, state)
	for _, ev := range seq.run {
		current.apply(ev)
		history.apply(ev)
		out.applied = append(out.applied, AppliedChange{
			Entity:   cfg.Name,
			Key:      key,
			Op:       ev.Op,
			Sequence: ev.Sequence,
			Row:      ev.Row,
		})
	}

	upsert, deleteCurrent := current.outcome()
	closeOpen, updateOpen, appends := history.outcome()
	out.opened = history.opened
	out.closed = history.closed

	out.commit = &KeyCommit{
		Key:            key,
		Watermark:      seq.run[len(seq.run)-1].Sequence,
		Upsert:         upsert,
		DeleteCurrent:  deleteCurrent,
		CloseOpen:      closeOpen,
		UpdateOpen:     updateOpen,
		AppendVersions: appends,
	}
	return out
}

// checkKeyState rejects stored states this engine could not have
// produced. These indicate a bug or a concurrent writer outside the
// engine; the key's batch fails loud rather than auto-repairing.
func checkKeyState(entity, key string, state KeyState) error {
	if state.OpenVersion != nil {
		if state.OpenVersion.ValidTo != nil || !state.OpenVersion.Current {
			return NewInvariantViolationError(entity, key, "stored open version is not open")
		}
		if state.Current == nil {
			return NewInvariantViolationError(entity, key, "open history version without a current-state record")
		}
	} else if state.Current != nil {
		return NewInvariantViolationError(entity, key, "current-state record without an open history version")
	}
	return nil
}
