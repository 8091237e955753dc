// Package api serves stable id lookups and record ingestion over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/stableid/internal/engine"
	"github.com/roach88/stableid/internal/model"
)

// DefaultEventPage is the page size of GET /v1/events without a limit.
const DefaultEventPage = 100

// Coordinator processes ingestion events. Implemented by *engine.Engine.
type Coordinator interface {
	AddRecord(ctx context.Context, rec model.Record) (*engine.EventResult, error)
	DeleteRecord(ctx context.Context, id model.RecordID) (*engine.EventResult, error)
}

// StableResolver answers stable id questions. Implemented by
// *stableid.Resolver.
type StableResolver interface {
	Resolve(ctx context.Context, id model.StableID) (model.StableID, []model.EntityID, error)
	Chain(ctx context.Context, id model.StableID) ([]model.StableID, error)
	Aliases(ctx context.Context, canonical model.StableID) ([]model.StableID, error)
}

// Store is the read side used by the API.
type Store interface {
	GetSnapshot(ctx context.Context, id model.EntityID) (model.Snapshot, error)
	ReadEvents(ctx context.Context, fromSeq int64, limit int) ([]model.EventRecord, error)
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handlers.
type Handlers struct {
	coord    Coordinator
	resolver StableResolver
	store    Store
	logger   *slog.Logger

	// resolves deduplicates concurrent lookups of the same stable id.
	resolves singleflight.Group
}

// NewHandlers creates the handlers.
func NewHandlers(coord Coordinator, resolver StableResolver, store Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{coord: coord, resolver: resolver, store: store, logger: logger}
}

// HandleGetStable handles GET /v1/stable/:id.
//
// Response:
//
//	200 OK: StableResponse
//	404 Not Found: stable id was never issued
//	500 Internal Server Error: alias cycle or broken invariant
//	503 Service Unavailable: store failure
func (h *Handlers) HandleGetStable(c *gin.Context) {
	id := model.StableID(c.Param("id"))

	v, err, _ := h.resolves.Do(string(id), func() (any, error) {
		return h.describe(context.WithoutCancel(c.Request.Context()), id)
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v.(*StableResponse))
}

func (h *Handlers) describe(ctx context.Context, id model.StableID) (*StableResponse, error) {
	canonical, entityIDs, err := h.resolver.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	chain, err := h.resolver.Chain(ctx, id)
	if err != nil {
		return nil, err
	}
	aliases, err := h.resolver.Aliases(ctx, canonical)
	if err != nil {
		return nil, err
	}
	return &StableResponse{
		StableID:  id,
		Canonical: canonical,
		Chain:     chain,
		Aliases:   aliases,
		EntityIDs: entityIDs,
	}, nil
}

// HandleGetEntity handles GET /v1/entities/:id and returns the last known
// snapshot of an entity id.
func (h *Handlers) HandleGetEntity(c *gin.Context) {
	n, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "entity id must be a positive integer",
			Code:  "INVALID_ENTITY_ID",
		})
		return
	}

	snap, err := h.store.GetSnapshot(c.Request.Context(), model.EntityID(n))
	if err != nil {
		h.writeError(c, model.NewTransientFault("read snapshot", err))
		return
	}
	if !snap.Known {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "entity id has never been observed",
			Code:  "ENTITY_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// HandleAddRecord handles POST /v1/records.
func (h *Handlers) HandleAddRecord(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	res, err := h.coord.AddRecord(c.Request.Context(), model.Record{
		ID:       model.NewRecordID(req.DataSource, req.RecordID),
		Features: model.FeatureDocument(req.Features),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleDeleteRecord handles DELETE /v1/records/:ds/:key.
func (h *Handlers) HandleDeleteRecord(c *gin.Context) {
	res, err := h.coord.DeleteRecord(c.Request.Context(), model.NewRecordID(c.Param("ds"), c.Param("key")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleEvents handles GET /v1/events?from=<seq>&limit=<n>.
func (h *Handlers) HandleEvents(c *gin.Context) {
	from, err := strconv.ParseInt(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil || from < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "from must be a non-negative integer", Code: "INVALID_REQUEST"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultEventPage)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer", Code: "INVALID_REQUEST"})
		return
	}

	events, err := h.store.ReadEvents(c.Request.Context(), from, limit)
	if err != nil {
		h.writeError(c, model.NewTransientFault("read events", err))
		return
	}
	next := from
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	c.JSON(http.StatusOK, EventsResponse{Events: events, NextSeq: next})
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// writeError maps err onto a status code and error code.
func (h *Handlers) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	var reject *engine.RejectError
	switch {
	case errors.As(err, &reject):
		status, code = http.StatusBadRequest, string(reject.Code)
	case model.IsUnknownStableID(err):
		status, code = http.StatusNotFound, string(model.CodeUnknownStableID)
	case engine.IsNeedsReconciliation(err):
		code = "NEEDS_RECONCILIATION"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "CANCELLED"
	case model.IsTransientIO(err):
		status, code = http.StatusServiceUnavailable, string(model.CodeTransientIO)
	default:
		if fc := model.FaultCodeOf(err); fc != "" {
			code = string(fc)
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "code", code, "error", err)
	} else {
		h.logger.Debug("request rejected", "path", c.FullPath(), "code", code, "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}
