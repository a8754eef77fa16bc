package lincat

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/docutag/lincat/lock"
	"github.com/docutag/lincat/logger"
	"github.com/docutag/lincat/metrics"
	"github.com/docutag/lincat/models"
)

// Resolver binds a verdict to a stored category id, creating the category when needed.
type Resolver struct {
	store   Store
	locker  lock.Locker
	log     logger.Logger
	metrics *metrics.Metrics
	newID   func() string
}

// NewResolver returns a Resolver. locker may be nil, in which case an in-process lock is used.
func NewResolver(store Store, locker lock.Locker, log logger.Logger, m *metrics.Metrics) *Resolver {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{store: store, locker: locker, log: log, metrics: m, newID: uuid.NewString}
}

// Resolve returns the id of the owner's category named v.Category.
//
// An existing verdict is looked up first; a miss (stale name list, concurrent
// delete) falls through to creation. Creation never duplicates: the store keeps
// (name, owner) unique and hands back the winning row when another request got there first.
func (r *Resolver) Resolve(ctx context.Context, v models.Verdict, owner string) (string, error) {
	unlock, err := r.locker.Lock(ctx, owner+"\x00"+v.Category)
	if err != nil {
		r.log.Warn("category lock unavailable, resolving unlocked",
			logger.String("category", v.Category), logger.Error(err))
	} else {
		defer unlock()
	}

	if !v.IsNew {
		id, found, err := r.store.FindCategoryID(ctx, v.Category, owner)
		if err != nil {
			return "", fmt.Errorf("failed to look up category: %w", err)
		}
		if found {
			return id, nil
		}
		r.log.Info("category missing, creating it", logger.String("category", v.Category))
	}

	candidate := r.newID()
	id, err := r.store.InsertCategory(ctx, candidate, v.Category, owner)
	if err != nil {
		return "", fmt.Errorf("failed to create category: %w", err)
	}
	if id == candidate {
		r.metrics.CategoryCreated()
		r.log.Debug("category created", logger.String("category", v.Category), logger.String("id", id))
	}
	return id, nil
}
