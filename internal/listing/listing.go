// Package listing hooks marketplace listing writes into the geocode
// queue.
package listing

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/foodshare/geoqueue/internal/domain"
	"github.com/foodshare/geoqueue/internal/storage"
)

// Listing is the slice of a marketplace listing the pipeline cares
// about.
type Listing struct {
	ID      int64
	Address string
	Lat     *float64
	Lng     *float64
}

func (l Listing) HasCoordinates() bool { return l.Lat != nil && l.Lng != nil }

// Queue is the enqueue slice of the store.
type Queue interface {
	InsertPending(ctx context.Context, listingID int64, address string, maxRetries int) (domain.QueueItem, error)
	Supersede(ctx context.Context, listingID int64, address string, maxRetries int) (domain.QueueItem, error)
	ClearListingCoordinates(ctx context.Context, listingID int64) error
}

// Hook keeps the geocode queue in sync with listing writes.
type Hook struct {
	queue      Queue
	log        *zap.Logger
	maxRetries int
}

func NewHook(queue Queue, log *zap.Logger, maxRetries int) *Hook {
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	return &Hook{queue: queue, log: log, maxRetries: maxRetries}
}

// Created enqueues a geocode for a new listing that has an address but
// no coordinates yet. Losing an insert race to another writer is folded
// into the existing active item instead of surfacing.
func (h *Hook) Created(ctx context.Context, l Listing) error {
	if strings.TrimSpace(l.Address) == "" || l.HasCoordinates() {
		return nil
	}
	_, err := h.queue.InsertPending(ctx, l.ID, l.Address, h.maxRetries)
	if errors.Is(err, storage.ErrActiveExists) {
		_, err = h.queue.Supersede(ctx, l.ID, l.Address, h.maxRetries)
	}
	if err != nil {
		return errors.Wrapf(err, "enqueue listing %d", l.ID)
	}
	h.log.Info("listing enqueued for geocoding", zap.Int64("listing_id", l.ID))
	return nil
}

// Updated reacts to a listing edit. An address change supersedes the
// active item and blanks the stored coordinates until the new geocode
// lands; anything else is a no-op for the queue.
func (h *Hook) Updated(ctx context.Context, prev, cur Listing) error {
	if prev.Address == cur.Address {
		return nil
	}
	if err := h.queue.ClearListingCoordinates(ctx, cur.ID); err != nil {
		return errors.Wrapf(err, "clear coordinates for listing %d", cur.ID)
	}
	if strings.TrimSpace(cur.Address) == "" {
		return nil
	}
	if _, err := h.queue.Supersede(ctx, cur.ID, cur.Address, h.maxRetries); err != nil {
		return errors.Wrapf(err, "supersede listing %d", cur.ID)
	}
	h.log.Info("listing address changed, geocode superseded",
		zap.Int64("listing_id", cur.ID))
	return nil
}
