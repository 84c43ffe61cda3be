// Package services contains server-side business logic. Every mutation goes
// to the cache layer first; reads that miss the cache fall back to the
// durable store and refill the cache.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/entitycache"
	"github.com/google/uuid"
)

// newID returns a time-ordered UUIDv7.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("%w: generate id: %v", common.ErrorInternal, err)
	}
	return id.String(), nil
}

// readThrough pairs a cache layer with a durable-store loader for one kind.
type readThrough[E entitycache.Entity, P entitycache.Patch[E]] struct {
	layer *entitycache.Layer[E, P]
	load  func(ctx context.Context, id string) (E, error)
	log   logging.Logger
}

// get returns the cached entity or loads it from the durable store and
// caches it. A row missing from both, or one deleted through the cache whose
// delete job is still pending, is common.ErrorNotFound.
func (r readThrough[E, P]) get(ctx context.Context, id string) (E, error) {
	e, ok, err := r.layer.Get(ctx, id)
	if err != nil {
		return e, err
	}
	if ok {
		return e, nil
	}

	e, err = r.load(ctx, id)
	if err != nil {
		return e, err
	}
	if err := fill(ctx, r.layer, e, r.log); err != nil {
		var zero E
		return zero, err
	}
	return e, nil
}

// fill caches a loaded entity. Only a pending delete is reported; other
// cache failures are logged and the loaded entity is still served.
func fill[E entitycache.Entity, P entitycache.Patch[E]](ctx context.Context, layer *entitycache.Layer[E, P], e E, log logging.Logger) error {
	err := layer.Fill(ctx, e)
	if errors.Is(err, entitycache.ErrDeleted) {
		return err
	}
	if err != nil {
		log.Warn(ctx, "cache fill failed", "kind", layer.Kind().Name, "id", e.GetID(), "error", err)
	}
	return nil
}

// warm makes sure id is cached before a mutation.
func (r readThrough[E, P]) warm(ctx context.Context, id string) error {
	ok, err := r.layer.Exists(ctx, id)
	if err != nil || ok {
		return err
	}
	_, err = r.get(ctx, id)
	return err
}

func (r readThrough[E, P]) update(ctx context.Context, id string, patch P) (E, error) {
	var zero E
	if err := r.warm(ctx, id); err != nil {
		return zero, err
	}
	e, ok, err := r.layer.Update(ctx, id, patch)
	if err != nil {
		return e, err
	}
	if !ok {
		return zero, common.ErrorNotFound
	}
	return e, nil
}

func (r readThrough[E, P]) delete(ctx context.Context, id string) error {
	if err := r.warm(ctx, id); err != nil {
		return err
	}
	ok, err := r.layer.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrorNotFound
	}
	return nil
}

// requireExists maps a missing parent entity to a validation error.
func requireExists[E entitycache.Entity, P entitycache.Patch[E]](ctx context.Context, r readThrough[E, P], id string) (E, error) {
	e, err := r.get(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return e, fmt.Errorf("%w: %s %s does not exist", common.ErrorValidation, r.layer.Kind().Name, id)
	}
	return e, err
}
