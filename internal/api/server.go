package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/bryanchriswhite/riverwatch/internal/alarm"
	"github.com/bryanchriswhite/riverwatch/internal/config"
	"github.com/bryanchriswhite/riverwatch/internal/detector"
	"github.com/bryanchriswhite/riverwatch/internal/logger"
	"github.com/bryanchriswhite/riverwatch/internal/metrics"
	"github.com/bryanchriswhite/riverwatch/internal/pipeline"
)

// Fleet is the read side of the supervisor.
type Fleet interface {
	Statuses() []pipeline.Status
	Status(id string) (pipeline.Status, bool)
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	fleet     Fleet
	configMgr *config.Manager
	alarms    *alarm.Broadcaster
	upgrader  websocket.Upgrader
	proc      *process.Process
	started   time.Time
}

// NewServer creates a new API server
func NewServer(fleet Fleet, configMgr *config.Manager, alarms *alarm.Broadcaster) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		fleet:     fleet,
		configMgr: configMgr,
		alarms:    alarms,
		started:   time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for dashboards
			},
		},
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Cameras
	api.HandleFunc("/cameras", s.handleGetCameras).Methods("GET")
	api.HandleFunc("/cameras/{id}", s.handleGetCamera).Methods("GET")

	// Live alarms
	api.HandleFunc("/alarms/stream", s.handleAlarmStream)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/scenes", s.handleGetScenes).Methods("GET")

	// Process
	api.HandleFunc("/process", s.handleProcess).Methods("GET")

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until ctx is done.
func (s *Server) Start(ctx context.Context, port int) error {
	log := logger.WithComponent("api")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on http://localhost%s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		log.Info().Msg("Server stopped")
		return nil
	}
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Warn().Err(err).Msg("Failed to write response")
	}
}

// HTTP Handlers

func (s *Server) handleGetCameras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.fleet.Statuses())
}

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, ok := s.fleet.Status(id)
	if !ok {
		http.Error(w, fmt.Sprintf("camera %q not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, redact(s.configMgr.Get()))
}

const (
	masked = "***"
	// maskedUser replaces URL userinfo; it needs no escaping.
	maskedUser = "REDACTED"
)

// redact hides credentials before config leaves the process.
func redact(cfg *config.Config) *config.Config {
	for i := range cfg.Cameras {
		sink := &cfg.Cameras[i].Sink
		if sink.Redis.Password != "" {
			sink.Redis.Password = masked
		}
		if sink.Postgres.DSN != "" {
			sink.Postgres.DSN = masked
		}
		sink.URL = redactURL(sink.URL)
		sink.MQTT.Broker = redactURL(sink.MQTT.Broker)
	}
	return cfg
}

// redactURL masks the userinfo of raw. Values that do not parse but look
// like they carry credentials are masked whole.
func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		if strings.Contains(raw, "@") {
			return masked
		}
		return raw
	}
	if u.User == nil {
		return raw
	}
	u.User = url.User(maskedUser)
	return u.String()
}

func (s *Server) handleGetScenes(w http.ResponseWriter, r *http.Request) {
	type scene struct {
		Code     int    `json:"code"`
		Name     string `json:"name"`
		Detector bool   `json:"detector"`
	}
	available := make(map[alarm.SceneType]bool)
	for _, t := range detector.Registered() {
		available[t] = true
	}

	scenes := make([]scene, 0)
	for _, t := range alarm.SceneTypes() {
		scenes = append(scenes, scene{Code: int(t), Name: t.String(), Detector: available[t]})
	}
	writeJSON(w, scenes)
}

// ProcessStats is the /api/process response.
type ProcessStats struct {
	PID           int     `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	RSSBytes      uint64  `json:"rss_bytes"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	stats := ProcessStats{
		PID:           os.Getpid(),
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
	if s.proc != nil {
		if cpu, err := s.proc.CPUPercent(); err == nil {
			stats.CPUPercent = cpu
		}
		if memInfo, err := s.proc.MemoryInfo(); err == nil {
			stats.RSSBytes = memInfo.RSS
		}
		if memP, err := s.proc.MemoryPercent(); err == nil {
			stats.MemoryPercent = float64(memP)
		}
	}
	writeJSON(w, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.fleet.Statuses()
	running := 0
	for _, st := range statuses {
		if st.Running {
			running++
		}
	}
	writeJSON(w, map[string]any{
		"status":  "ok",
		"cameras": len(statuses),
		"running": running,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}
