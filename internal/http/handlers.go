package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/foodshare/geoqueue/internal/geocode"
	"github.com/foodshare/geoqueue/internal/listing"
)

// Operations accepted by POST /v1/geocode.
const (
	opBatchUpdate = "BATCH_UPDATE"
	opStats       = "STATS"
	opSingle      = "SINGLE"
	opCleanup     = "CLEANUP"
)

// maxBatchSize bounds an on-demand batch. 500 items at the provider's
// one-per-second pace finish well inside the staleness threshold, so
// the sweep never re-dispatches rows a live batch still holds.
const maxBatchSize = 500

type opsRequest struct {
	Operation   string `json:"operation"`
	BatchSize   int    `json:"batch_size,omitempty"`
	DaysOld     int    `json:"days_old,omitempty"`
	ID          int64  `json:"id,omitempty"`
	PostAddress string `json:"post_address,omitempty"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *App) geocodeOpsHandler(w http.ResponseWriter, r *http.Request) {
	var req opsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	switch req.Operation {
	case opBatchUpdate:
		a.runBatch(w, r, req)
	case opStats:
		a.stats(w, r)
	case opSingle:
		a.single(w, r, req)
	case opCleanup:
		a.cleanup(w, r, req)
	default:
		writeError(w, http.StatusBadRequest, "unknown operation")
	}
}

func (a *App) runBatch(w http.ResponseWriter, r *http.Request, req opsRequest) {
	if req.BatchSize < 0 {
		writeError(w, http.StatusBadRequest, "batch_size must be positive")
		return
	}
	if req.BatchSize > maxBatchSize {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch_size must be at most %d", maxBatchSize))
		return
	}
	// claimed items must finish their transitions even if the caller
	// disconnects mid-batch
	sum, err := a.Ops.RunBatch(context.WithoutCancel(r.Context()), req.BatchSize)
	if err != nil {
		a.Log.Error("batch operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "batch run failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    fmt.Sprintf("processed %d queue items", sum.Processed),
		"processed":  sum.Processed,
		"successful": sum.Successful,
		"failed":     sum.Failed,
		"results":    sum.Results,
	})
}

func (a *App) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.Ops.Stats(r.Context())
	if err != nil {
		a.Log.Error("stats operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "queue statistics",
		"stats":   st,
	})
}

func (a *App) single(w http.ResponseWriter, r *http.Request, req opsRequest) {
	if req.ID <= 0 || strings.TrimSpace(req.PostAddress) == "" {
		writeError(w, http.StatusBadRequest, "id and post_address are required")
		return
	}
	coords, err := a.Ops.ProcessOne(r.Context(), req.ID, req.PostAddress)
	if err != nil {
		if errors.Is(err, geocode.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "address cannot be geocoded")
			return
		}
		a.Log.Error("single geocode failed",
			zap.Int64("listing_id", req.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "geocoding failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "listing geocoded",
		"id":        req.ID,
		"latitude":  coords.Lat,
		"longitude": coords.Lng,
	})
}

func (a *App) cleanup(w http.ResponseWriter, r *http.Request, req opsRequest) {
	if req.DaysOld < 0 {
		writeError(w, http.StatusBadRequest, "days_old must be positive")
		return
	}
	deleted, err := a.Ops.Cleanup(r.Context(), req.DaysOld)
	if err != nil {
		a.Log.Error("cleanup operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("removed %d old queue items", deleted),
		"deleted": deleted,
	})
}

// Listing write events reported by the marketplace. These drive the
// enqueue hook; a write that needs no geocode is still a 200.

type listingCreatedRequest struct {
	ID        int64    `json:"id"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type listingUpdatedRequest struct {
	ID         int64  `json:"id"`
	OldAddress string `json:"old_address"`
	NewAddress string `json:"new_address"`
}

func (a *App) listingCreatedHandler(w http.ResponseWriter, r *http.Request) {
	var req listingCreatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ID <= 0 {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	l := listing.Listing{ID: req.ID, Address: req.Address, Lat: req.Latitude, Lng: req.Longitude}
	if err := a.Hook.Created(r.Context(), l); err != nil {
		a.Log.Error("listing created event failed",
			zap.Int64("listing_id", req.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "listing event accepted",
		"id":      req.ID,
	})
}

func (a *App) listingUpdatedHandler(w http.ResponseWriter, r *http.Request) {
	var req listingUpdatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ID <= 0 {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	prev := listing.Listing{ID: req.ID, Address: req.OldAddress}
	cur := listing.Listing{ID: req.ID, Address: req.NewAddress}
	if err := a.Hook.Updated(r.Context(), prev, cur); err != nil {
		a.Log.Error("listing updated event failed",
			zap.Int64("listing_id", req.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "supersede failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "listing event accepted",
		"id":      req.ID,
	})
}
