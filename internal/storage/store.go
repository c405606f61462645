package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/foodshare/geoqueue/internal/domain"
)

// ErrActiveExists is returned by InsertPending when the listing already
// has a pending or processing item.
var ErrActiveExists = errors.New("storage: active item exists for listing")

const uniqueViolation = "23505"

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

const itemColumns = `id, listing_id, address, status, retry_count, max_retries,
last_error, last_attempt_at, completed_at, created_at, updated_at`

func scanItem(row pgx.Row) (domain.QueueItem, error) {
	var it domain.QueueItem
	err := row.Scan(&it.ID, &it.ListingID, &it.Address, &it.Status, &it.RetryCount,
		&it.MaxRetries, &it.LastError, &it.LastAttemptAt, &it.CompletedAt,
		&it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func scanItems(rows pgx.Rows) ([]domain.QueueItem, error) {
	defer rows.Close()
	var items []domain.QueueItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan queue item")
		}
		items = append(items, it)
	}
	return items, errors.Wrap(rows.Err(), "read queue items")
}

// InsertPending enqueues a new geocode for a listing. The partial
// unique index on active items turns a duplicate into ErrActiveExists.
func (s *Store) InsertPending(ctx context.Context, listingID int64, address string, maxRetries int) (domain.QueueItem, error) {
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	row := s.db.QueryRow(ctx, `insert into geocode_queue(
id, listing_id, address, status, retry_count, max_retries
) values ($1, $2, $3, 'pending', 0, $4)
returning `+itemColumns,
		uuid.NewString(), listingID, address, maxRetries)

	it, err := scanItem(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.QueueItem{}, ErrActiveExists
		}
		return domain.QueueItem{}, errors.Wrap(err, "insert pending item")
	}
	return it, nil
}

// Supersede replaces the listing's active item with the new address,
// resetting the retry budget, or inserts a fresh pending item when no
// active one exists. An existing row keeps its retry ceiling. The
// in-flight attempt, if any, loses its claim: the mark calls carry the
// claimed address snapshot, so once the address changes they match
// nothing.
func (s *Store) Supersede(ctx context.Context, listingID int64, address string, maxRetries int) (domain.QueueItem, error) {
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	row := s.db.QueryRow(ctx, `insert into geocode_queue(
id, listing_id, address, status, retry_count, max_retries
) values ($1, $2, $3, 'pending', 0, $4)
on conflict (listing_id) where status in ('pending', 'processing')
do update set
    address     = excluded.address,
    status      = 'pending',
    retry_count = 0,
    last_error  = null,
    updated_at  = now()
returning `+itemColumns,
		uuid.NewString(), listingID, address, maxRetries)

	it, err := scanItem(row)
	if err != nil {
		return domain.QueueItem{}, errors.Wrap(err, "supersede item")
	}
	return it, nil
}

// ClaimBatch atomically takes up to limit pending items, oldest first.
// Rows locked by a concurrent claimer are skipped, so two workers can
// never share an item. An empty queue returns an empty batch.
func (s *Store) ClaimBatch(ctx context.Context, limit int) ([]domain.QueueItem, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin claim")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `select `+itemColumns+`
from geocode_queue
where status = 'pending'
order by created_at asc
limit $1
for update skip locked`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select pending items")
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, errors.Wrap(err, "commit empty claim")
		}
		return nil, nil
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	claimedAt := time.Now().UTC()
	if _, err := tx.Exec(ctx, `update geocode_queue
set status = 'processing', last_attempt_at = $2, updated_at = $2
where id = any($1::uuid[])`, ids, claimedAt); err != nil {
		return nil, errors.Wrap(err, "mark batch processing")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit claim")
	}

	for i := range items {
		items[i].Status = domain.StatusProcessing
		items[i].LastAttemptAt = &claimedAt
		items[i].UpdatedAt = claimedAt
	}
	return items, nil
}

// MarkCompleted finishes a claimed item and writes the coordinates
// onto its listing in the same transaction. The address identifies the
// attempt: if the item is no longer processing, or was superseded and
// re-claimed under a new address, the whole result is discarded and
// the listing stays untouched.
func (s *Store) MarkCompleted(ctx context.Context, id, address string, listingID int64, coords domain.Coordinates) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin complete")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `update geocode_queue
set status = 'completed', last_error = null, completed_at = now(), updated_at = now()
where id = $1 and address = $2 and status = 'processing'`, id, address)
	if err != nil {
		return errors.Wrap(err, "mark completed")
	}
	if ct.RowsAffected() == 0 {
		return errors.Wrap(tx.Commit(ctx), "commit noop complete")
	}

	if _, err := tx.Exec(ctx, `update listings
set latitude = $1, longitude = $2, updated_at = now()
where id = $3`, coords.Lat, coords.Lng, listingID); err != nil {
		return errors.Wrap(err, "write listing coordinates")
	}
	return errors.Wrap(tx.Commit(ctx), "commit complete")
}

// MarkFailed burns one retry. Below the ceiling the item goes back to
// pending and waits for a later batch; at the ceiling it fails for
// good. Terminal items are left alone, and so is a row superseded with
// a different address: the failure belongs to the attempt's address
// snapshot, not to whatever replaced it.
func (s *Store) MarkFailed(ctx context.Context, id, address, errMsg string) error {
	_, err := s.db.Exec(ctx, `update geocode_queue
set retry_count = retry_count + 1,
    status      = case when retry_count + 1 >= max_retries then 'failed' else 'pending' end,
    last_error  = $3,
    updated_at  = now()
where id = $1 and address = $2 and status in ('pending', 'processing')`, id, address, errMsg)
	return errors.Wrap(err, "mark failed")
}

// MarkFailedPermanent fails an item immediately, ignoring any retries
// it has left. Used for input that can never geocode. Guarded like
// MarkFailed so a superseded address is never condemned unattempted.
func (s *Store) MarkFailedPermanent(ctx context.Context, id, address, errMsg string) error {
	_, err := s.db.Exec(ctx, `update geocode_queue
set status      = 'failed',
    retry_count = least(retry_count + 1, max_retries),
    last_error  = $3,
    updated_at  = now()
where id = $1 and address = $2 and status in ('pending', 'processing')`, id, address, errMsg)
	return errors.Wrap(err, "mark failed permanent")
}

func (s *Store) Stats(ctx context.Context) (domain.QueueStats, error) {
	var st domain.QueueStats
	err := s.db.QueryRow(ctx, `select
    count(*) filter (where status = 'pending'),
    count(*) filter (where status = 'processing'),
    count(*) filter (where status = 'pending' and retry_count > 0),
    count(*) filter (where status = 'failed'),
    count(*) filter (where status = 'completed' and completed_at >= date_trunc('day', now()))
from geocode_queue`).Scan(&st.Pending, &st.Processing, &st.FailedRetryable,
		&st.FailedPermanent, &st.CompletedToday)
	return st, errors.Wrap(err, "queue stats")
}

// Cleanup deletes terminal items that have not moved for the given
// number of days. Zero or negative falls back to the default
// retention.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = domain.DefaultCleanupDays
	}
	ct, err := s.db.Exec(ctx, `delete from geocode_queue
where status in ('completed', 'failed')
  and updated_at < now() - make_interval(days => $1)`, olderThanDays)
	if err != nil {
		return 0, errors.Wrap(err, "cleanup queue")
	}
	return ct.RowsAffected(), nil
}

// ReleaseStuck returns items that have sat in processing past the
// threshold to pending. The retry count is left alone: a crashed
// worker is not the item's fault.
func (s *Store) ReleaseStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	ct, err := s.db.Exec(ctx, `update geocode_queue
set status = 'pending', updated_at = now()
where status = 'processing'
  and last_attempt_at < now() - make_interval(secs => $1)`, olderThan.Seconds())
	if err != nil {
		return 0, errors.Wrap(err, "release stuck items")
	}
	return ct.RowsAffected(), nil
}

// SetListingCoordinates writes coordinates straight onto a listing,
// outside any queue transition. Serves the synchronous geocode path.
func (s *Store) SetListingCoordinates(ctx context.Context, listingID int64, coords domain.Coordinates) error {
	_, err := s.db.Exec(ctx, `update listings
set latitude = $1, longitude = $2, updated_at = now()
where id = $3`, coords.Lat, coords.Lng, listingID)
	return errors.Wrap(err, "set listing coordinates")
}

// ClearListingCoordinates blanks a listing's coordinates, marking them
// stale until the next geocode lands.
func (s *Store) ClearListingCoordinates(ctx context.Context, listingID int64) error {
	_, err := s.db.Exec(ctx, `update listings
set latitude = null, longitude = null, updated_at = now()
where id = $1`, listingID)
	return errors.Wrap(err, "clear listing coordinates")
}
