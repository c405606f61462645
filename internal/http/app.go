package httpapi

import (
	"context"

	"go.uber.org/zap"

	"github.com/foodshare/geoqueue/internal/domain"
	"github.com/foodshare/geoqueue/internal/listing"
	"github.com/foodshare/geoqueue/internal/worker"
)

// Ops is the operational surface the handlers invoke. The scheduler
// satisfies it.
type Ops interface {
	RunBatch(ctx context.Context, batchSize int) (worker.Summary, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
	ProcessOne(ctx context.Context, listingID int64, address string) (domain.Coordinates, error)
}

// Hook receives the listing write events the marketplace reports. The
// enqueue hook satisfies it.
type Hook interface {
	Created(ctx context.Context, l listing.Listing) error
	Updated(ctx context.Context, prev, cur listing.Listing) error
}

// App carries handler dependencies.
type App struct {
	Ops  Ops
	Hook Hook
	Log  *zap.Logger
}
