package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/events"
	"github.com/hamed0406/sitewatch/internal/history"
	apimw "github.com/hamed0406/sitewatch/internal/httpapi/middleware"
)

// Engine is the command surface the API drives.
type Engine interface {
	AddMonitor(ctx context.Context, m domain.Monitor) (domain.Monitor, error)
	UpdateMonitor(ctx context.Context, id domain.MonitorID, m domain.Monitor) (domain.Monitor, error)
	RemoveMonitor(ctx context.Context, id domain.MonitorID) error
	GetMonitor(id domain.MonitorID) (domain.Monitor, error)
	ListMonitors() []domain.Monitor
	StartMonitoring(id domain.MonitorID) error
	StopMonitoring(id domain.MonitorID) error
	StartAll() error
	StopAll() error
	CheckNow(ctx context.Context, id domain.MonitorID) (domain.StatusUpdate, error)
	History(id domain.MonitorID, limit int) ([]domain.HistoryEntry, error)
	Stats(id domain.MonitorID) (history.Stats, error)

	AddSite(ctx context.Context, name string, monitoring bool) (domain.Site, error)
	RemoveSite(ctx context.Context, id domain.SiteID) error
	SetSiteMonitoring(ctx context.Context, id domain.SiteID, on bool) error
	GetSite(id domain.SiteID) (domain.Site, error)
	ListSites() []domain.Site
}

// Subscriber feeds the server-sent event stream.
type Subscriber interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

type Server struct {
	Logger *zap.Logger
	Engine Engine
	Events Subscriber
	// KeepAlive is the idle interval between SSE comment pings.
	KeepAlive time.Duration
}

func NewServer(l *zap.Logger, eng Engine, ev Subscriber) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Engine: eng, Events: ev, KeepAlive: 15 * time.Second}
}

// Router mounts the API. Reads need a public or admin key, mutations an
// admin key; each group has its own per-IP rate limit. An empty origins
// list allows any origin.
func (s *Server) Router(keys apimw.Keys, origins []string, pubRPM, pubBurst, admRPM, admBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)
	if len(origins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(pubRPM, pubBurst))
			r.Use(apimw.RequireAny(keys))

			r.Get("/sites", s.handleListSites)
			r.Get("/sites/{id}", s.handleGetSite)
			r.Get("/monitors", s.handleListMonitors)
			r.Get("/monitors/{id}", s.handleGetMonitor)
			r.Get("/monitors/{id}/history", s.handleHistory)
			r.Get("/monitors/{id}/stats", s.handleStats)
			r.Get("/events", s.handleEvents)
		})

		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(admRPM, admBurst))
			r.Use(apimw.RequireAdmin(keys))

			r.Post("/sites", s.handleAddSite)
			r.Delete("/sites/{id}", s.handleRemoveSite)
			r.Post("/sites/{id}/start", s.handleSiteMonitoring(true))
			r.Post("/sites/{id}/stop", s.handleSiteMonitoring(false))

			r.Post("/monitors", s.handleAddMonitor)
			r.Put("/monitors/{id}", s.handleUpdateMonitor)
			r.Delete("/monitors/{id}", s.handleRemoveMonitor)
			r.Post("/monitors/{id}/start", s.handleMonitoring(true))
			r.Post("/monitors/{id}/stop", s.handleMonitoring(false))
			r.Post("/monitors/{id}/check", s.handleCheckNow)

			r.Post("/monitoring/start", s.handleMonitoringAll(true))
			r.Post("/monitoring/stop", s.handleMonitoringAll(false))
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("http_request",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
		)
	})
}
