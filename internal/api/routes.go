package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/stableid/internal/metrics"
)

// RegisterRoutes registers the /v1 endpoints on rg.
//
//	GET    /v1/stable/:id        - Resolve a stable id
//	GET    /v1/entities/:id      - Last known snapshot of an entity id
//	POST   /v1/records           - Ingest or replace a record
//	DELETE /v1/records/:ds/:key  - Delete a record
//	GET    /v1/events            - Page through the change log
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.GET("/stable/:id", h.HandleGetStable)
	rg.GET("/entities/:id", h.HandleGetEntity)
	rg.POST("/records", h.HandleAddRecord)
	rg.DELETE("/records/:ds/:key", h.HandleDeleteRecord)
	rg.GET("/events", h.HandleEvents)
}

// NewRouter builds the full router. m may be nil, in which case /metrics is
// not served.
func NewRouter(h *Handlers, m *metrics.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))

	router.GET("/healthz", h.HandleHealth)
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}
	RegisterRoutes(router.Group("/v1"), h)
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	logger.Info("http server stopping")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
