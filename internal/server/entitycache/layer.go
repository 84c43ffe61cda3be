// Package entitycache maps typed entities onto the cache store: a primary
// entry per entity ("kind:id") plus secondary index entries
// ("kind:field:value" -> id), with a fixed TTL per kind. Every mutation
// dispatches a write job so the durable store catches up later.
package entitycache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/cachestore"
	"github.com/dmitrijs2005/chatkeeper/internal/server/jobs"
)

// ErrDeleted is returned by Fill while a delete issued through the layer may
// not have reached the durable store yet.
var ErrDeleted = fmt.Errorf("%w: entity deleted", common.ErrorNotFound)

// Entity is implemented by the pointer model types (*models.Account, ...).
type Entity interface {
	GetID() string
	Stamp(now time.Time)
	Touch(now time.Time)
}

// Patch merges a partial update into an entity.
type Patch[E Entity] interface {
	ApplyTo(E)
	Validate() error
}

// Index describes a secondary lookup field. Empty values are not indexed.
type Index[E Entity] struct {
	Field string
	Value func(E) string
}

// Kind describes how one entity type is cached.
type Kind[E Entity] struct {
	Name    string
	Table   jobs.Table
	TTL     time.Duration
	New     func() E
	Indexes []Index[E]
}

// Dispatcher schedules delivery of a write job.
type Dispatcher interface {
	Dispatch(ctx context.Context, job jobs.Job, delay time.Duration) (string, error)
}

// Layer is the cache layer for one entity kind.
type Layer[E Entity, P Patch[E]] struct {
	kind       Kind[E]
	store      cachestore.Store
	dispatcher Dispatcher
	delay      time.Duration
	now        func() time.Time
	log        logging.Logger
}

type Option func(*options)

type options struct {
	delay time.Duration
	now   func() time.Time
	log   logging.Logger
}

// WithDelay sets the dispatch delay used to coalesce bursts of writes.
func WithDelay(d time.Duration) Option { return func(o *options) { o.delay = d } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func WithLogger(l logging.Logger) Option { return func(o *options) { o.log = l } }

func New[E Entity, P Patch[E]](kind Kind[E], store cachestore.Store, d Dispatcher, opts ...Option) *Layer[E, P] {
	o := options{delay: 2 * time.Second, now: time.Now, log: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Layer[E, P]{
		kind:       kind,
		store:      store,
		dispatcher: d,
		delay:      o.delay,
		now:        o.now,
		log:        o.log.With("module", "entitycache", "kind", kind.Name),
	}
}

// Kind returns the descriptor the layer was built with.
func (l *Layer[E, P]) Kind() Kind[E] { return l.kind }

func (l *Layer[E, P]) primaryKey(id string) string {
	return l.kind.Name + ":" + id
}

func (l *Layer[E, P]) tombstoneKey(id string) string {
	return l.kind.Name + ":deleted:" + id
}

func (l *Layer[E, P]) indexKey(field, value string) string {
	return l.kind.Name + ":" + field + ":" + value
}

// entries renders the primary entry and every non-empty secondary entry.
func (l *Layer[E, P]) entries(e E) (map[string][]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s: %w", l.kind.Name, e.GetID(), err)
	}
	out := map[string][]byte{l.primaryKey(e.GetID()): body}
	for _, idx := range l.kind.Indexes {
		if v := idx.Value(e); v != "" {
			out[l.indexKey(idx.Field, v)] = []byte(e.GetID())
		}
	}
	return out, nil
}

func (l *Layer[E, P]) decode(b []byte) (E, error) {
	e := l.kind.New()
	if err := json.Unmarshal(b, e); err != nil {
		var zero E
		return zero, fmt.Errorf("decode cached %s: %w", l.kind.Name, err)
	}
	return e, nil
}

func (l *Layer[E, P]) dispatch(ctx context.Context, job jobs.Job) error {
	deliveryID, err := l.dispatcher.Dispatch(ctx, job, l.delay)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", job, err)
	}
	l.log.Debug(ctx, "write job dispatched",
		"table", job.Table, "operation", job.Operation, "id", job.ID, "delivery_id", deliveryID)
	return nil
}

// Create caches e with all its secondary entries and dispatches a create
// job carrying the full entity. It does not check for existing entries.
func (l *Layer[E, P]) Create(ctx context.Context, e E) (E, error) {
	e.Stamp(l.now())

	entries, err := l.entries(e)
	if err != nil {
		return e, err
	}
	if err := l.store.MSet(ctx, entries, l.kind.TTL); err != nil {
		return e, err
	}
	return e, l.dispatch(ctx, jobs.NewCreate(l.kind.Table, e, l.now()))
}

// Fill caches an entity loaded from the durable store. No job is dispatched.
// An entity deleted through the layer within its TTL is refused with
// ErrDeleted, since the durable row may still be live.
func (l *Layer[E, P]) Fill(ctx context.Context, e E) error {
	deleted, err := l.store.Exists(ctx, l.tombstoneKey(e.GetID()))
	if err != nil {
		return err
	}
	if deleted {
		return ErrDeleted
	}
	entries, err := l.entries(e)
	if err != nil {
		return err
	}
	return l.store.MSet(ctx, entries, l.kind.TTL)
}

// Get reads the primary entry. A miss is (zero, false, nil).
func (l *Layer[E, P]) Get(ctx context.Context, id string) (E, bool, error) {
	var zero E
	b, ok, err := l.store.Get(ctx, l.primaryKey(id))
	if err != nil || !ok {
		return zero, false, err
	}
	e, err := l.decode(b)
	if err != nil {
		return zero, false, err
	}
	return e, true, nil
}

// LookupID resolves a secondary index entry to an id without validating it.
func (l *Layer[E, P]) LookupID(ctx context.Context, field, value string) (string, bool, error) {
	if _, ok := l.index(field); !ok {
		return "", false, fmt.Errorf("%s has no index %q", l.kind.Name, field)
	}
	b, ok, err := l.store.Get(ctx, l.indexKey(field, value))
	if err != nil || !ok {
		return "", false, err
	}
	return string(b), true, nil
}

// GetBy resolves field=value through the secondary index and reads the
// primary entry. An index entry whose primary is gone or whose field no
// longer matches is a miss and is retired.
func (l *Layer[E, P]) GetBy(ctx context.Context, field, value string) (E, bool, error) {
	var zero E

	idx, ok := l.index(field)
	if !ok {
		return zero, false, fmt.Errorf("%s has no index %q", l.kind.Name, field)
	}

	id, ok, err := l.LookupID(ctx, field, value)
	if err != nil || !ok {
		return zero, false, err
	}

	e, ok, err := l.Get(ctx, id)
	if err != nil {
		return zero, false, err
	}
	if !ok || idx.Value(e) != value {
		l.retire(ctx, l.indexKey(field, value), id)
		return zero, false, nil
	}
	return e, true, nil
}

// GetMany returns the cached entities among ids, skipping misses.
func (l *Layer[E, P]) GetMany(ctx context.Context, ids []string) ([]E, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = l.primaryKey(id)
	}
	vals, err := l.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	out := make([]E, 0, len(vals))
	for _, b := range vals {
		if b == nil {
			continue
		}
		e, err := l.decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *Layer[E, P]) Exists(ctx context.Context, id string) (bool, error) {
	return l.store.Exists(ctx, l.primaryKey(id))
}

// Update merges patch into the cached entity, refreshes updatedAt, swaps
// the secondary entries whose value changed and dispatches an update job
// carrying exactly patch. A cache miss is (zero, false, nil). An invalid
// patch is refused before the cache is read.
func (l *Layer[E, P]) Update(ctx context.Context, id string, patch P) (E, bool, error) {
	if err := patch.Validate(); err != nil {
		var zero E
		return zero, false, err
	}
	e, ok, err := l.Get(ctx, id)
	if err != nil || !ok {
		return e, false, err
	}

	before := l.indexValues(e)
	patch.ApplyTo(e)
	e.Touch(l.now())
	after := l.indexValues(e)

	body, err := json.Marshal(e)
	if err != nil {
		return e, true, fmt.Errorf("encode %s %s: %w", l.kind.Name, id, err)
	}
	writes := map[string][]byte{l.primaryKey(id): body}
	var stale []string
	for field, v := range after {
		if before[field] == v {
			continue
		}
		if v != "" {
			writes[l.indexKey(field, v)] = []byte(id)
		}
		if old := before[field]; old != "" {
			stale = append(stale, l.indexKey(field, old))
		}
	}

	if err := l.store.MSet(ctx, writes, l.kind.TTL); err != nil {
		return e, true, err
	}
	for _, key := range stale {
		l.retire(ctx, key, id)
	}

	return e, true, l.dispatch(ctx, jobs.NewUpdate(l.kind.Table, id, patch, l.now()))
}

// Delete removes the cached entity and its secondary entries, leaves a
// tombstone for one TTL so Fill cannot bring the entity back, and dispatches
// a delete job. A cache miss is (false, nil) and dispatches nothing.
func (l *Layer[E, P]) Delete(ctx context.Context, id string) (bool, error) {
	e, ok, err := l.Get(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if err := l.store.SetEx(ctx, l.tombstoneKey(id), []byte(id), l.kind.TTL); err != nil {
		return true, err
	}
	if err := l.evict(ctx, e); err != nil {
		return true, err
	}
	return true, l.dispatch(ctx, jobs.NewDelete(l.kind.Table, id, l.now()))
}

// Invalidate drops the entity and its secondary entries from the cache
// without dispatching anything.
func (l *Layer[E, P]) Invalidate(ctx context.Context, id string) error {
	e, ok, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return l.store.Del(ctx, l.primaryKey(id))
	}
	return l.evict(ctx, e)
}

func (l *Layer[E, P]) evict(ctx context.Context, e E) error {
	id := e.GetID()
	if err := l.store.Del(ctx, l.primaryKey(id)); err != nil {
		return err
	}
	for field, v := range l.indexValues(e) {
		if v != "" {
			l.retire(ctx, l.indexKey(field, v), id)
		}
	}
	return nil
}

// retire deletes a secondary entry only while it still points at id.
// Failures are logged; a stale entry is caught again by GetBy.
func (l *Layer[E, P]) retire(ctx context.Context, key, id string) {
	if _, err := l.store.DelIfValue(ctx, key, []byte(id)); err != nil {
		l.log.Warn(ctx, "retire secondary entry failed", "key", key, "id", id, "error", err)
	}
}

func (l *Layer[E, P]) index(field string) (Index[E], bool) {
	for _, idx := range l.kind.Indexes {
		if idx.Field == field {
			return idx, true
		}
	}
	return Index[E]{}, false
}

func (l *Layer[E, P]) indexValues(e E) map[string]string {
	out := make(map[string]string, len(l.kind.Indexes))
	for _, idx := range l.kind.Indexes {
		out[idx.Field] = idx.Value(e)
	}
	return out
}
