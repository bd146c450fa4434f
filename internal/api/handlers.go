package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashen-peak/logtide/internal/metrics"
	"github.com/ashen-peak/logtide/internal/models"
	"github.com/ashen-peak/logtide/internal/storage"
)

// Stream handles GET /api/v1/projects/{projectID}/stream: an SSE feed of
// the project's live events. Authorization failures return 403 (stop);
// a store outage returns 503 (retry).
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	userID := UserIDFrom(r.Context())

	authCtx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	allowed, err := s.store.Memberships().MaySubscribe(authCtx, userID, projectID)
	cancel()
	if err != nil {
		s.logger.Printf("api: membership check for %s/%s: %v", userID, projectID, err)
		JSONError(w, ErrUnavailable)
		return
	}
	if !allowed {
		JSONError(w, ErrForbidden)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		JSONError(w, ErrInternal)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sse := NewSSEWriter(w, flusher)
	sse.SendRetry(3000)

	sub := s.registry.Subscribe(projectID, userID)
	defer s.registry.Unsubscribe(sub)
	metrics.SubscribersActive.Inc()
	defer metrics.SubscribersActive.Dec()

	deadline := time.NewTimer(s.config.StreamMaxDuration)
	defer deadline.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline.C:
			sse.SendEvent("close", `{"reason":"timeout"}`)
			return

		case event, open := <-sub.Events():
			if !open {
				// Hub shut down and released the subscriber.
				sse.SendEvent("close", `{"reason":"shutdown"}`)
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := sse.SendEvent(string(event.Type), string(data)); err != nil {
				return // client disconnected
			}
		}
	}
}

// StatsResponse summarizes the pipeline for GET /api/v1/stats.
type StatsResponse struct {
	Subscribers       int            `json:"subscribers"`
	PerProject        map[string]int `json:"subscribers_per_project"`
	UnanalyzedEntries int64          `json:"unanalyzed_entries"`
}

// Stats handles GET /api/v1/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	unanalyzed, err := s.store.Logs().CountUnanalyzed(ctx)
	if err != nil {
		s.logger.Printf("api: count unanalyzed: %v", err)
		JSONError(w, ErrUnavailable)
		return
	}

	stats := s.registry.Stats()

	// Reading stats doubles as a stats_update push to connected viewers.
	s.registry.Broadcast(models.NewStreamEvent(models.EventStatsUpdate, "", stats))

	OK(w, StatsResponse{
		Subscribers:       stats.Total,
		PerProject:        stats.PerProject,
		UnanalyzedEntries: unanalyzed,
	})
}

// ListAlerts handles GET /api/v1/projects/{projectID}/alerts.
func (s *Server) ListAlerts(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	userID := UserIDFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	allowed, err := s.store.Memberships().MaySubscribe(ctx, userID, projectID)
	if err != nil {
		JSONError(w, ErrUnavailable)
		return
	}
	if !allowed {
		JSONError(w, ErrForbidden)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			JSONError(w, &Error{Code: ErrCodeBadRequest, Message: "limit must be 1-1000", Status: http.StatusBadRequest})
			return
		}
		limit = parsed
	}

	alerts, err := s.store.Alerts().ListByProject(ctx, projectID, limit)
	if err != nil {
		s.logger.Printf("api: list alerts for %s: %v", projectID, err)
		JSONError(w, ErrUnavailable)
		return
	}
	OK(w, alerts)
}

// TriggerPoll handles POST /api/v1/connections/{connectionID}/poll: runs a
// single poll cycle for the connection.
func (s *Server) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")

	if err := s.poller.PollOnce(r.Context(), connectionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			JSONError(w, ErrNotFound)
			return
		}
		s.logger.Printf("api: poll connection %s: %v", connectionID, err)
		JSONError(w, &Error{Code: ErrCodeInternalError, Message: "poll cycle failed", Status: http.StatusBadGateway})
		return
	}
	Accepted(w, map[string]string{"connection_id": connectionID, "status": "polled"})
}

// TriggerAnalyze handles POST /api/v1/analyze: runs one analysis batch.
// An optional limit query param caps the batch; absent means the
// configured batch size.
func (s *Server) TriggerAnalyze(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			JSONError(w, &Error{Code: ErrCodeBadRequest, Message: "limit must be 1-1000", Status: http.StatusBadRequest})
			return
		}
		limit = parsed
	}

	n, err := s.analyzer.RunOnce(r.Context(), limit)
	if err != nil {
		s.logger.Printf("api: analysis batch: %v", err)
		JSONError(w, ErrInternal)
		return
	}
	Accepted(w, map[string]int{"analyzed": n})
}
