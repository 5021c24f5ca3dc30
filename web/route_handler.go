package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/ronittamrakar/jobqueue/types"
	"go.uber.org/zap"
)

// Operations is the engine surface exposed over HTTP.
type Operations interface {
	GetStats(ctx context.Context, tenantID string) (map[state.JobStatus]int, error)
	GetPendingCount(ctx context.Context, tenantID string) (int, error)
	History(ctx context.Context, page, pageSize int, filter types.HistoryFilter) (*types.PaginationResult[types.HistoryRecord], error)
	ReleaseStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type HttpRouteHandler struct {
	ops     Operations
	metrics http.Handler
	logger  *zap.Logger
	Addr    string
}

// NewRouteHandler builds the operational API. metrics may be nil to leave
// /metrics unrouted.
func NewRouteHandler(ops Operations, metrics http.Handler, logger *zap.Logger, addr string) *HttpRouteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HttpRouteHandler{
		ops:     ops,
		metrics: metrics,
		logger:  logger,
		Addr:    addr,
	}
}

func (handler *HttpRouteHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if handler.metrics != nil {
		r.Method(http.MethodGet, "/metrics", handler.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", handler.handleStats)
		r.Get("/stats/pending", handler.handlePendingCount)
		r.Get("/history", handler.handleHistory)
		r.Post("/maintenance/release-stale", handler.handleReleaseStale)
		r.Post("/maintenance/cleanup", handler.handleCleanup)
	})
	return r
}

// Serve listens until ctx is cancelled and then shuts down gracefully.
func (handler *HttpRouteHandler) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              handler.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		handler.logger.Info("http api listening", zap.String("addr", handler.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (handler *HttpRouteHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := handler.ops.GetStats(r.Context(), tenantParam(r))
	if err != nil {
		handler.internalError(w, "failed to get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (handler *HttpRouteHandler) handlePendingCount(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	n, err := handler.ops.GetPendingCount(r.Context(), tenant)
	if err != nil {
		handler.internalError(w, "failed to get pending count", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant": tenant, "pending": n})
}

func (handler *HttpRouteHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.HistoryFilter{
		TenantID: tenantParam(r),
		JobType:  strings.TrimSpace(q.Get("type")),
		Status:   state.JobStatus(strings.TrimSpace(q.Get("status"))),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", filter.Status))
		return
	}

	result, err := handler.ops.History(r.Context(), getPageNumber(r), getIntParam(r, "page_size", 0), filter)
	if err != nil {
		handler.internalError(w, "failed to list history", err)
		return
	}
	writeJSON(w, http.StatusOK, NewPaginatedDataMap(*result).Add("Filter", filter).Data)
}

func (handler *HttpRouteHandler) handleReleaseStale(w http.ResponseWriter, r *http.Request) {
	staleAfter, err := getDurationParam(r, "stale_after")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := handler.ops.ReleaseStaleJobs(r.Context(), staleAfter)
	if err != nil {
		handler.internalError(w, "failed to release stale jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"released": n})
}

func (handler *HttpRouteHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	retention, err := getDurationParam(r, "retention")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := handler.ops.Cleanup(r.Context(), retention)
	if err != nil {
		handler.internalError(w, "failed to clean up jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

func (handler *HttpRouteHandler) internalError(w http.ResponseWriter, msg string, err error) {
	handler.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, errors.New(msg))
}
