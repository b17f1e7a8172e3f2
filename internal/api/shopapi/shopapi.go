// Package shopapi exposes the notification feed, the tracking cache and the
// sync engine's operational endpoints over HTTP.
package shopapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/BearBump/ShopTrack/internal/models"
	"github.com/BearBump/ShopTrack/internal/notifications"
	"github.com/BearBump/ShopTrack/internal/services/orders"
	"github.com/BearBump/ShopTrack/internal/services/poller"
	"github.com/BearBump/ShopTrack/internal/status"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type NotificationStore interface {
	List(f notifications.Filter) []models.Notification
	Unread() int
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
	Loaded() bool
}

type TrackingReader interface {
	Get(parcelCode string) (models.TrackingSnapshot, bool)
}

type OrderMutations interface {
	HandleMutation(ctx context.Context, action string, o models.Order, actor string) error
}

type PollerOps interface {
	Stats() poller.Stats
	Trigger()
}

// ReadyCheck is one named dependency probe for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Options struct {
	Notifications NotificationStore
	Trackings     TrackingReader
	Orders        OrderMutations
	Poller        PollerOps
	ReadyChecks   []ReadyCheck
	SwaggerPath   string
}

type API struct {
	opts Options
}

func New(opts Options) *API {
	return &API{opts: opts}
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.readyz)
	r.Get("/stats", a.stats)
	r.Post("/trigger", a.trigger)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/notifications", a.listNotifications)
		r.Post("/notifications/read-all", a.markAllRead)
		r.Post("/notifications/{id}/read", a.markRead)
		r.Delete("/notifications/{id}", a.deleteNotification)
		r.Delete("/notifications", a.clearNotifications)

		r.Get("/trackings/{parcelCode}", a.getTracking)

		r.Post("/orders/events", a.orderEvent)
	})

	if a.opts.SwaggerPath != "" {
		if fi, err := os.Stat(a.opts.SwaggerPath); err == nil {
			r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Cache-Control", "no-store")
				http.ServeFile(w, r, a.opts.SwaggerPath)
			})
			swaggerURL := fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
			r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
		} else {
			slog.Warn("swagger file not found, /docs disabled", "path", a.opts.SwaggerPath)
		}
	}
	return r
}

type notificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	f := notifications.Filter{}
	if v := r.URL.Query().Get("onlyInProgress"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "onlyInProgress must be a boolean")
			return
		}
		f.OnlyInProgress = b
	}
	writeJSON(w, http.StatusOK, notificationsResponse{
		Notifications: a.opts.Notifications.List(f),
		Unread:        a.opts.Notifications.Unread(),
	})
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Notifications.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) markAllRead(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Notifications.MarkAllRead(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Notifications.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) clearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Notifications.ClearAll(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type trackingResponse struct {
	Found    bool                     `json:"found"`
	Snapshot *models.TrackingSnapshot `json:"snapshot,omitempty"`
	Stage    models.Stage             `json:"canonicalStage,omitempty"`
	Terminal bool                     `json:"terminal,omitempty"`
}

func (a *API) getTracking(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.opts.Trackings.Get(chi.URLParam(r, "parcelCode"))
	if !ok {
		writeJSON(w, http.StatusOK, trackingResponse{Found: false})
		return
	}
	stage, terminal := status.ClassifySnapshot(snap)
	writeJSON(w, http.StatusOK, trackingResponse{Found: true, Snapshot: &snap, Stage: stage, Terminal: terminal})
}

type orderEventRequest struct {
	Action string       `json:"action"`
	Actor  string       `json:"actor"`
	Order  models.Order `json:"order"`
}

func (a *API) orderEvent(w http.ResponseWriter, r *http.Request) {
	var req orderEventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := a.opts.Orders.HandleMutation(r.Context(), req.Action, req.Order, req.Actor); err != nil {
		if errors.Is(err, orders.ErrInvalidMutation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	if a.opts.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not wired")
		return
	}
	writeJSON(w, http.StatusOK, a.opts.Poller.Stats())
}

func (a *API) trigger(w http.ResponseWriter, r *http.Request) {
	if a.opts.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not wired")
		return
	}
	a.opts.Poller.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	if !a.opts.Notifications.Loaded() {
		failed["notifications"] = "not loaded"
	}
	for _, c := range a.opts.ReadyChecks {
		if err := c.Check(ctx); err != nil {
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notifications.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, notifications.ErrNotLoaded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
