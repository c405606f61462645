// Package worker drains the geocode queue, one provider call at a
// time, and records each item's outcome.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/foodshare/geoqueue/internal/domain"
	"github.com/foodshare/geoqueue/internal/geocode"
)

// Store is the slice of the queue store the worker needs. The mark
// calls take the claimed address so a stale attempt cannot touch a row
// superseded under a new address.
type Store interface {
	ClaimBatch(ctx context.Context, limit int) ([]domain.QueueItem, error)
	MarkCompleted(ctx context.Context, id, address string, listingID int64, coords domain.Coordinates) error
	MarkFailed(ctx context.Context, id, address, errMsg string) error
	MarkFailedPermanent(ctx context.Context, id, address, errMsg string) error
	SetListingCoordinates(ctx context.Context, listingID int64, coords domain.Coordinates) error
}

const (
	DefaultBatchSize = 10

	maxErrorLen = 500

	resultSuccess = "success"
	resultFailed  = "failed"
)

type ItemResult struct {
	ItemID    string `json:"item_id"`
	ListingID int64  `json:"listing_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type Summary struct {
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []ItemResult `json:"results"`
}

type Options struct {
	MinInterval time.Duration // spacing between provider calls
	CallTimeout time.Duration // per-item provider deadline
}

type Worker struct {
	store    Store
	geocoder geocode.Client
	log      *zap.Logger

	minInterval time.Duration
	callTimeout time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

func New(store Store, geocoder geocode.Client, log *zap.Logger, opts Options) *Worker {
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	return &Worker{
		store:       store,
		geocoder:    geocoder,
		log:         log,
		minInterval: opts.MinInterval,
		callTimeout: opts.CallTimeout,
	}
}

// RunBatch claims up to batchSize pending items and processes them
// strictly in claim order. One item's failure never aborts the batch;
// only a failed claim does, and then nothing was taken.
func (w *Worker) RunBatch(ctx context.Context, batchSize int) (Summary, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	items, err := w.store.ClaimBatch(ctx, batchSize)
	if err != nil {
		return Summary{}, errors.Wrap(err, "claim batch")
	}

	sum := Summary{Processed: len(items), Results: make([]ItemResult, 0, len(items))}
	for _, it := range items {
		if ctx.Err() != nil {
			// remaining claimed items stay processing; the staleness
			// sweep returns them to pending
			w.log.Warn("batch interrupted",
				zap.Int("remaining", len(items)-len(sum.Results)))
			sum.Processed = len(sum.Results)
			break
		}
		res := w.processItem(ctx, it)
		if res.Status == resultSuccess {
			sum.Successful++
		} else {
			sum.Failed++
		}
		sum.Results = append(sum.Results, res)
	}

	if sum.Processed > 0 {
		w.log.Info("batch finished",
			zap.Int("processed", sum.Processed),
			zap.Int("successful", sum.Successful),
			zap.Int("failed", sum.Failed))
	}
	return sum, nil
}

// ProcessOne geocodes a single listing address synchronously, without
// touching the queue, and writes the coordinates onto the listing.
func (w *Worker) ProcessOne(ctx context.Context, listingID int64, address string) (domain.Coordinates, error) {
	coords, err := w.geocodeOnce(ctx, address)
	if err != nil {
		return domain.Coordinates{}, err
	}
	if err := w.store.SetListingCoordinates(ctx, listingID, coords); err != nil {
		return domain.Coordinates{}, err
	}
	return coords, nil
}

func (w *Worker) processItem(ctx context.Context, it domain.QueueItem) (res ItemResult) {
	res = ItemResult{ItemID: it.ID, ListingID: it.ListingID}
	defer func() {
		if r := recover(); r != nil {
			msg := truncate(fmt.Sprintf("panic: %v", r), maxErrorLen)
			w.log.Error("panic while processing item",
				zap.String("item_id", it.ID), zap.Int64("listing_id", it.ListingID),
				zap.Any("panic", r))
			w.fail(ctx, it, msg, true)
			res.Status = resultFailed
			res.Error = msg
		}
	}()

	coords, err := w.geocodeOnce(ctx, it.Address)
	if err != nil {
		msg := truncate(err.Error(), maxErrorLen)
		w.fail(ctx, it, msg, geocode.Retryable(err))
		res.Status = resultFailed
		res.Error = msg
		return res
	}

	if err := w.store.MarkCompleted(ctx, it.ID, it.Address, it.ListingID, coords); err != nil {
		w.log.Error("completion write failed",
			zap.String("item_id", it.ID), zap.Error(err))
		res.Status = resultFailed
		res.Error = truncate(err.Error(), maxErrorLen)
		return res
	}

	w.log.Debug("item geocoded",
		zap.String("item_id", it.ID), zap.Int64("listing_id", it.ListingID),
		zap.Float64("lat", coords.Lat), zap.Float64("lng", coords.Lng))
	res.Status = resultSuccess
	return res
}

func (w *Worker) geocodeOnce(ctx context.Context, address string) (domain.Coordinates, error) {
	if err := w.pace(ctx); err != nil {
		return domain.Coordinates{}, errors.WithMessage(geocode.ErrUnavailable, err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()

	coords, err := w.geocoder.Geocode(callCtx, address)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return domain.Coordinates{}, errors.WithMessage(geocode.ErrUnavailable, "provider call timed out")
		}
		return domain.Coordinates{}, err
	}
	if !coords.Valid() {
		return domain.Coordinates{}, errors.WithMessagef(geocode.ErrNoResult,
			"unusable coordinates %.6f,%.6f", coords.Lat, coords.Lng)
	}
	return coords, nil
}

func (w *Worker) fail(ctx context.Context, it domain.QueueItem, msg string, retryable bool) {
	var err error
	if retryable {
		err = w.store.MarkFailed(ctx, it.ID, it.Address, msg)
	} else {
		err = w.store.MarkFailedPermanent(ctx, it.ID, it.Address, msg)
	}
	if err != nil {
		w.log.Error("failure write failed",
			zap.String("item_id", it.ID), zap.Error(err))
	}
}

// pace reserves the next provider call slot and sleeps until it is
// due. Slots are handed out under the lock, so concurrent batches
// cannot burst past the provider's rate.
func (w *Worker) pace(ctx context.Context) error {
	w.mu.Lock()
	now := time.Now()
	next := w.lastCall.Add(w.minInterval)
	if next.Before(now) {
		next = now
	}
	w.lastCall = next
	w.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncate shortens s to at most n bytes without splitting a rune, so
// the result is always valid UTF-8 and safe to store as text.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
