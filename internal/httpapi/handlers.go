package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/scheduler"
)

const maxBody = 1 << 20

// monitorPayload is the client-settable part of a monitor.
type monitorPayload struct {
	SiteID          domain.SiteID           `json:"site_id"`
	Name            string                  `json:"name"`
	Type            domain.MonitorType      `json:"type"`
	HTTP            *domain.HTTPParams      `json:"http"`
	Port            *domain.PortParams      `json:"port"`
	Ping            *domain.PingParams      `json:"ping"`
	Heartbeat       *domain.HeartbeatParams `json:"heartbeat"`
	CheckIntervalMS int                     `json:"check_interval_ms"`
	TimeoutMS       int                     `json:"timeout_ms"`
	RetryAttempts   int                     `json:"retry_attempts"`
	Monitoring      bool                    `json:"monitoring"`
}

func (p monitorPayload) monitor() domain.Monitor {
	return domain.Monitor{
		SiteID:          p.SiteID,
		Name:            p.Name,
		Type:            p.Type,
		HTTP:            p.HTTP,
		Port:            p.Port,
		Ping:            p.Ping,
		Heartbeat:       p.Heartbeat,
		CheckIntervalMS: p.CheckIntervalMS,
		TimeoutMS:       p.TimeoutMS,
		RetryAttempts:   p.RetryAttempts,
		Monitoring:      p.Monitoring,
	}
}

type sitePayload struct {
	Name       string `json:"name"`
	Monitoring bool   `json:"monitoring"`
}

// ---- monitors ----

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.ListMonitors())
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	m, err := s.Engine.GetMonitor(monitorID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleAddMonitor(w http.ResponseWriter, r *http.Request) {
	var p monitorPayload
	if err := decode(w, r, &p); err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.Engine.AddMonitor(r.Context(), p.monitor())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateMonitor(w http.ResponseWriter, r *http.Request) {
	var p monitorPayload
	if err := decode(w, r, &p); err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.Engine.UpdateMonitor(r.Context(), monitorID(r), p.monitor())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleRemoveMonitor(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.RemoveMonitor(r.Context(), monitorID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMonitoring(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := monitorID(r)
		var err error
		if on {
			err = s.Engine.StartMonitoring(id)
		} else {
			err = s.Engine.StopMonitoring(id)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		m, err := s.Engine.GetMonitor(id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func (s *Server) handleMonitoringAll(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		if on {
			err = s.Engine.StartAll()
		} else {
			err = s.Engine.StopAll()
		}
		// partial failures still report what went through
		msgs := []string{}
		for _, e := range multierr.Errors(err) {
			msgs = append(msgs, e.Error())
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"monitoring": on,
			"errors":     msgs,
		})
	}
}

func (s *Server) handleCheckNow(w http.ResponseWriter, r *http.Request) {
	u, err := s.Engine.CheckNow(r.Context(), monitorID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	h, err := s.Engine.History(monitorID(r), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if h == nil {
		h = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Engine.Stats(monitorID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ---- sites ----

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.ListSites())
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	site, err := s.Engine.GetSite(siteID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

func (s *Server) handleAddSite(w http.ResponseWriter, r *http.Request) {
	var p sitePayload
	if err := decode(w, r, &p); err != nil {
		s.fail(w, r, err)
		return
	}
	site, err := s.Engine.AddSite(r.Context(), p.Name, p.Monitoring)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

func (s *Server) handleRemoveSite(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.RemoveSite(r.Context(), siteID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSiteMonitoring(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := siteID(r)
		if err := s.Engine.SetSiteMonitoring(r.Context(), id, on); err != nil {
			s.fail(w, r, err)
			return
		}
		site, err := s.Engine.GetSite(id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, site)
	}
}

// ---- events ----

// handleEvents streams bus events as server-sent events until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	ch, cancel := s.Events.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.Logger.Warn("sse_flush_unsupported", zap.Error(err))
		return
	}

	keepAlive := time.NewTicker(s.KeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.Logger.Warn("sse_encode_failed", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// ---- helpers ----

var errBadPayload = errors.New("bad payload")

func monitorID(r *http.Request) domain.MonitorID { return domain.MonitorID(chi.URLParam(r, "id")) }

func siteID(r *http.Request) domain.SiteID { return domain.SiteID(chi.URLParam(r, "id")) }

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

// fail maps engine errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errBadPayload),
		errors.Is(err, domain.ErrInvalidMonitor),
		errors.Is(err, domain.ErrInvalidSite):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		code = http.StatusConflict
	case errors.Is(err, scheduler.ErrClosed),
		errors.Is(err, r.Context().Err()) && r.Context().Err() != nil:
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.Logger.Error("api_error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
