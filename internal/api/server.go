// Package api serves the operator dashboard and the JSON control API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/leafpatrol/internal/db"
	"github.com/banshee-data/leafpatrol/internal/httputil"
	"github.com/banshee-data/leafpatrol/internal/monitoring"
	"github.com/banshee-data/leafpatrol/internal/patrol"
	"github.com/banshee-data/leafpatrol/internal/serialmux"
	"github.com/banshee-data/leafpatrol/internal/timeutil"
	"github.com/banshee-data/leafpatrol/internal/units"
	"github.com/banshee-data/leafpatrol/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Command audit sources.
const (
	SourceHTTP   = "http"
	SourceBridge = "bridge"
)

// LoopObserver is the read side of the decision loop.
type LoopObserver interface {
	Current() patrol.DriveCommand
	Stats() *monitoring.LoopStats
}

// DistanceObserver reports the most recent range reading.
type DistanceObserver interface {
	Last() patrol.DistanceSample
}

// Config bundles the collaborators of a Server. Only Run and DB are
// required.
type Config struct {
	Run    *patrol.RunFlag
	DB     *db.DB
	Loop   LoopObserver
	Sensor DistanceObserver
	// Bridge gets its debug routes mounted. A *BridgeManager also enables
	// /api/bridge and /api/bridge/reload.
	Bridge serialmux.SerialMuxInterface
	// LogDir is the directory detection image paths are relative to.
	LogDir string
	// Location sets the zone for dashboard timestamps. Nil means UTC.
	Location *time.Location
}

type Server struct {
	run     *patrol.RunFlag
	db      *db.DB
	loop    LoopObserver
	sensor  DistanceObserver
	bridge  serialmux.SerialMuxInterface
	manager *BridgeManager
	logDir  string
	loc     *time.Location
	clock   timeutil.Clock
}

func NewServer(cfg Config) *Server {
	s := &Server{
		run:    cfg.Run,
		db:     cfg.DB,
		loop:   cfg.Loop,
		sensor: cfg.Sensor,
		bridge: cfg.Bridge,
		logDir: cfg.LogDir,
		loc:    cfg.Location,
		clock:  timeutil.RealClock{},
	}
	if m, ok := cfg.Bridge.(*BridgeManager); ok {
		s.manager = m
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// SetClock replaces the clock used to timestamp audited commands.
func (s *Server) SetClock(c timeutil.Clock) { s.clock = c }

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux builds the public routes and mounts the /debug/ routes of the
// database and bridge.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleDashboard)
	mux.HandleFunc("/start", s.handleRunCommand(true))
	mux.HandleFunc("/stop", s.handleRunCommand(false))
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/detections", s.handleDetections)
	mux.HandleFunc("/api/detections/", s.handleDetectionByID)
	mux.HandleFunc("/api/commands", s.handleCommands)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/img/", s.handleImage)
	mux.HandleFunc("/charts/detections", s.handleDetectionsChart)
	mux.HandleFunc("/charts/confidence.png", s.handleConfidenceHistogram)

	if s.manager != nil {
		mux.HandleFunc("/api/bridge", s.handleBridge)
		mux.HandleFunc("/api/bridge/reload", s.handleBridgeReload)
	}
	if s.bridge != nil {
		s.bridge.AttachAdminRoutes(mux)
	}
	if s.db != nil {
		if err := s.db.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
	}
	return mux
}

// RunState is the body of /start, /stop and part of /api/state.
type RunState struct {
	Status string `json:"status"`
}

func statusString(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

func (s *Server) audit(ctx context.Context, source, command string) {
	if s.db == nil {
		return
	}
	if err := s.db.RecordCommand(ctx, source, command, s.clock.Now()); err != nil {
		log.Printf("failed to record %s command %q: %v", source, command, err)
	}
}

func (s *Server) handleRunCommand(running bool) http.HandlerFunc {
	name := "stop"
	if running {
		name = "start"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w, http.MethodPost)
			return
		}
		s.run.Set(running)
		s.audit(r.Context(), SourceHTTP, name)
		log.Printf("operator %s from %s", name, r.RemoteAddr)
		httputil.WriteJSONOK(w, RunState{Status: statusString(running)})
	}
}

// StateResponse is the body of /api/state.
type StateResponse struct {
	Status      string                    `json:"status"`
	Running     bool                      `json:"running"`
	Command     string                    `json:"command"`
	DistanceCM  *float64                  `json:"distance_cm"`
	Distance    *float64                  `json:"distance,omitempty"`
	Units       string                    `json:"units"`
	Stats       *monitoring.StatsSnapshot `json:"stats,omitempty"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// state reports the distance in cm and again in unit, which must be one of
// units.ValidUnits.
func (s *Server) state(unit string) StateResponse {
	running := s.run.Running()
	st := StateResponse{
		Status:      statusString(running),
		Running:     running,
		Units:       unit,
		Command:     patrol.Stop().String(),
		GeneratedAt: s.clock.Now().In(s.loc),
	}
	if s.loop != nil {
		st.Command = s.loop.Current().String()
		snap := s.loop.Stats().Snapshot()
		st.Stats = &snap
	}
	if s.sensor != nil {
		if d := s.sensor.Last(); d.Valid {
			cm := d.CM
			st.DistanceCM = &cm
			converted := units.ConvertDistance(cm, unit)
			st.Distance = &converted
		}
	}
	return st
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	unit := r.URL.Query().Get("units")
	if unit == "" {
		unit = units.CM
	}
	if !units.IsValid(unit) {
		httputil.BadRequest(w, fmt.Sprintf("invalid 'units' parameter, must be one of: %s", units.GetValidUnitsString()))
		return
	}
	httputil.WriteJSONOK(w, s.state(unit))
}

func parseLimit(r *http.Request) (int, error) {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return db.DefaultDetectionLimit, nil
	}
	n, err := strconv.Atoi(l)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid 'limit' parameter")
	}
	return n, nil
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	detections, err := s.db.Detections(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve detections: %v", err))
		return
	}
	if detections == nil {
		detections = []db.DetectionRecord{}
	}
	httputil.WriteJSONOK(w, detections)
}

func (s *Server) handleDetectionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/detections/")
	if id == "" || strings.Contains(id, "/") {
		httputil.BadRequest(w, "missing detection id")
		return
	}
	d, err := s.db.Detection(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "detection not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve detection: %v", err))
		return
	}
	httputil.WriteJSONOK(w, d)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	commands, err := s.db.Commands(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve commands: %v", err))
		return
	}
	if commands == nil {
		commands = []db.CommandRecord{}
	}
	httputil.WriteJSONOK(w, commands)
}

// StatsResponse is the body of /api/stats.
type StatsResponse struct {
	Loop       *monitoring.StatsSnapshot     `json:"loop,omitempty"`
	Counts     map[string]int                `json:"counts"`
	Confidence map[string]db.ConfidenceStats `json:"confidence"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var resp StatsResponse
	if s.loop != nil {
		snap := s.loop.Stats().Snapshot()
		resp.Loop = &snap
	}
	var err error
	if resp.Counts, err = s.db.DetectionCounts(r.Context()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to count detections: %v", err))
		return
	}
	if resp.Confidence, err = s.db.DetectionStats(r.Context()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to summarise detections: %v", err))
		return
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Get())
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.manager.Snapshot())
}

func (s *Server) handleBridgeReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	var req BridgeReloadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	res, err := s.manager.Reload(r.Context(), req)
	if err != nil {
		log.Printf("bridge reload failed: %v", err)
		httputil.WriteJSON(w, http.StatusInternalServerError, BridgeReloadResult{Success: false, Message: err.Error()})
		return
	}
	s.audit(r.Context(), SourceBridge, "reload "+res.Config.PortPath)
	httputil.WriteJSONOK(w, res)
}
