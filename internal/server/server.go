// Package server exposes the pipeline state and controls over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/tickwatch/internal/alerts"
	"github.com/rewired-gh/tickwatch/internal/export"
	"github.com/rewired-gh/tickwatch/internal/logger"
	"github.com/rewired-gh/tickwatch/internal/metrics"
	"github.com/rewired-gh/tickwatch/internal/models"
	"github.com/rewired-gh/tickwatch/internal/ohlcv"
	"github.com/rewired-gh/tickwatch/internal/pipeline"
)

const defaultTickLimit = 2000

// Controller is the pipeline surface the server drives.
type Controller interface {
	View() *pipeline.View
	Subscribe() (<-chan *pipeline.View, func())
	SetSymbol(symbol string) error
	SetInterval(interval string) error
	AddAlert(metric string, threshold float64) (models.Alert, error)
	RemoveAlert(id string) error
	DismissTriggered(id string) error
}

// Archive serves historical ticks when the tick archive is enabled.
type Archive interface {
	RecentTicks(symbol string, limit int) ([]models.Tick, error)
}

type Server struct {
	mux     *http.ServeMux
	ctl     Controller
	archive Archive
	started time.Time
}

// New builds the HTTP handler. archive may be nil.
func New(ctl Controller, archive Archive) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		ctl:     ctl,
		archive: archive,
		started: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /stream", s.handleStream)
	s.mux.HandleFunc("GET /api/ticks", s.handleTicks)
	s.mux.HandleFunc("PUT /api/symbol", s.handleSymbol)
	s.mux.HandleFunc("PUT /api/interval", s.handleInterval)
	s.mux.HandleFunc("POST /api/alerts", s.handleAddAlert)
	s.mux.HandleFunc("DELETE /api/alerts/{id}", s.handleRemoveAlert)
	s.mux.HandleFunc("DELETE /api/triggered/{id}", s.handleDismiss)
	s.mux.HandleFunc("GET /api/export/ticks", s.handleExportTicks)
	s.mux.HandleFunc("GET /api/export/bars", s.handleExportBars)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}
		return nil
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.View())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("/stream flusher unsupported: %T", w)
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel := s.ctl.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: view\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	v := s.ctl.View()
	ticks := v.LatestTicks(parseLimit(r, len(v.Ticks)))
	if ticks == nil {
		ticks = []models.Tick{}
	}
	writeJSON(w, http.StatusOK, ticks)
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.ctl.SetSymbol(req.Symbol); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.View())
}

type intervalRequest struct {
	Interval string `json:"interval"`
}

func (s *Server) handleInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.ctl.SetInterval(req.Interval); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"interval":  req.Interval,
		"supported": ohlcv.Intervals(),
	})
}

func (s *Server) handleAddAlert(w http.ResponseWriter, r *http.Request) {
	var def alerts.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	alert, err := s.ctl.AddAlert(def.Metric, def.Threshold)
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleRemoveAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.RemoveAlert(r.PathValue("id")); err != nil {
		writeControlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.DismissTriggered(r.PathValue("id")); err != nil {
		writeControlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportTicks(w http.ResponseWriter, r *http.Request) {
	enc, ok := encoderFor(w, r)
	if !ok {
		return
	}
	v := s.ctl.View()

	ticks := v.Ticks
	if s.archive != nil {
		archived, err := s.archive.RecentTicks(v.Symbol, parseLimit(r, defaultTickLimit))
		if err != nil {
			logger.Error("Failed to read tick archive: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to read tick archive")
			return
		}
		ticks = archived
	}

	setAttachment(w, enc, v.Symbol+"_ticks")
	if err := enc.EncodeTicks(w, ticks); err != nil {
		logger.Error("Failed to encode tick export: %v", err)
	}
}

func (s *Server) handleExportBars(w http.ResponseWriter, r *http.Request) {
	enc, ok := encoderFor(w, r)
	if !ok {
		return
	}
	v := s.ctl.View()
	setAttachment(w, enc, v.Symbol+"_bars_"+v.Interval)
	if err := enc.EncodeBars(w, v.Bars); err != nil {
		logger.Error("Failed to encode bar export: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	v := s.ctl.View()
	code := http.StatusOK
	if v.Status != models.StatusConnected {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":      v.Status,
		"symbol":      v.Symbol,
		"tick_count":  v.TickCount,
		"last_update": humanize.Time(v.UpdatedAt),
		"uptime":      humanize.RelTime(s.started, time.Now(), "", ""),
		"time":        time.Now().UTC(),
	})
}

func encoderFor(w http.ResponseWriter, r *http.Request) (export.Encoder, bool) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	enc := export.New(format)
	if enc == nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return nil, false
	}
	return enc, true
}

func setAttachment(w http.ResponseWriter, enc export.Encoder, name string) {
	w.Header().Set("Content-Type", enc.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"."+enc.Extension()))
}

func parseLimit(r *http.Request, def int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alerts.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write response: %v", err)
	}
}
