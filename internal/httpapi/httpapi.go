/*
 * internal/httpapi/httpapi.go
 *
 * Admin/status HTTP surface: exposes the Hybrid Controller's serving-side
 * functions over the network — sync progress, readiness, manual sync
 * triggers — plus the health/readiness/liveness probes and the live
 * progress websocket. The full listing API, auth, and pass-through
 * mutation endpoints belong to the gateway layer, not this process.
 */

package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"k8s.io/klog/v2"

	"github.com/kubemirror/syncengine/internal/config"
	"github.com/kubemirror/syncengine/internal/fullsync"
	"github.com/kubemirror/syncengine/internal/progress"
	"github.com/kubemirror/syncengine/internal/streammux"
)

// Controller is the subset of *controller.Controller the HTTP surface
// depends on, declared here so the server can be tested against a fake
// rather than the full orchestration engine.
type Controller interface {
	GetSyncProgress() progress.Snapshot
	IsReady() bool
	IsLive() bool
	TriggerFullSync(ctx context.Context) []fullsync.KindResult
	TriggerFullSyncKind(ctx context.Context, kind string) (fullsync.KindResult, error)
}

// Server is the admin/status HTTP surface.
type Server struct {
	echo       *echo.Echo
	controller Controller
	cfg        config.Config
}

// New builds a Server wired to controller, with every route registered.
func New(controller Controller, cfg config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{echo: e, controller: controller, cfg: cfg}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/health/ready", s.handleReady)
	s.echo.GET("/health/live", s.handleLive)
	s.echo.GET("/sync/status", s.handleSyncStatus)
	s.echo.GET("/sync/stream", s.handleSyncStream)
	s.echo.POST("/sync/trigger", s.handleTriggerAll)
	s.echo.POST("/sync/trigger/:kind", s.handleTriggerKind)
}

// Start runs the HTTP server on cfg.ListenAddr; blocks until the server
// stops or ctx is cancelled (in which case it shuts down gracefully).
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			klog.Warningf("httpapi: shutdown: %v", err)
		}
	}()

	addr := s.cfg.ListenAddr
	if addr == "" {
		addr = config.DefaultListenAddr
	}
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// handleHealth reports a combined readiness/liveness body; status code 503
// while not ready, 200 once ready. List endpoints in the gateway layer
// gate on the same signal.
func (s *Server) handleHealth(c echo.Context) error {
	snap := s.controller.GetSyncProgress()
	decorateHeaders(c, snap)
	status := http.StatusOK
	if !s.controller.IsReady() {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, snap)
}

func (s *Server) handleReady(c echo.Context) error {
	if !s.controller.IsReady() {
		return c.JSON(http.StatusServiceUnavailable, map[string]bool{"ready": false})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ready": true})
}

func (s *Server) handleLive(c echo.Context) error {
	if !s.controller.IsLive() {
		return c.JSON(http.StatusServiceUnavailable, map[string]bool{"live": false})
	}
	return c.JSON(http.StatusOK, map[string]bool{"live": true})
}

// handleSyncStatus serves GET /sync/status: the stable wire-format snapshot
// plus the X-Sync-* headers (shared with any gateway that decorates its
// own list responses with the same snapshot).
func (s *Server) handleSyncStatus(c echo.Context) error {
	snap := s.controller.GetSyncProgress()
	decorateHeaders(c, snap)
	return c.JSON(http.StatusOK, snap)
}

// decorateHeaders sets the X-Sync-* response headers for whichever overall
// status the snapshot currently reports.
func decorateHeaders(c echo.Context, snap progress.Snapshot) {
	h := c.Response().Header()
	h.Set("X-Sync-Status", string(snap.Status))

	switch snap.Status {
	case progress.StatusInProgress:
		h.Set("X-Sync-Step", string(snap.Step))
		h.Set("X-Sync-Progress", strconv.Itoa(snap.SyncedResources)+"/"+strconv.Itoa(snap.TotalResources))
		if snap.CurrentResource != "" {
			h.Set("X-Sync-Current-Resource", snap.CurrentResource)
		}
	case progress.StatusCompleted:
		if snap.EndTime != nil {
			h.Set("X-Sync-End-Time", snap.EndTime.Format(time.RFC3339))
			h.Set("X-Sync-Duration", strconv.FormatInt(snap.EndTime.Sub(snap.StartTime).Milliseconds(), 10))
		}
	case progress.StatusFailed:
		if snap.Error != "" {
			h.Set("X-Sync-Error", snap.Error)
		}
	}
}

// handleSyncStream upgrades to the live progress websocket.
func (s *Server) handleSyncStream(c echo.Context) error {
	handler := streammux.New(s.cfg, s.controller.GetSyncProgress)
	handler.ServeHTTP(c.Response(), c.Request())
	return nil
}

// kindResultJSON is the wire form of fullsync.KindResult: Err is rendered as
// a plain string rather than relying on error's (often empty) JSON shape.
type kindResultJSON struct {
	Kind    string `json:"kind"`
	Count   int    `json:"count"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func toKindResultJSON(results []fullsync.KindResult) []kindResultJSON {
	out := make([]kindResultJSON, len(results))
	for i, r := range results {
		out[i] = kindResultJSON{Kind: r.Kind, Count: r.Count, Success: r.Success}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

// triggerResult is the admin-trigger response body: a job id for audit/
// correlation plus the per-kind outcomes.
type triggerResult struct {
	JobID   string           `json:"jobId"`
	Results []kindResultJSON `json:"results"`
}

func (s *Server) handleTriggerAll(c echo.Context) error {
	results := s.controller.TriggerFullSync(c.Request().Context())
	return c.JSON(http.StatusAccepted, triggerResult{JobID: uuid.NewString(), Results: toKindResultJSON(results)})
}

func (s *Server) handleTriggerKind(c echo.Context) error {
	kind := c.Param("kind")
	result, err := s.controller.TriggerFullSyncKind(c.Request().Context(), kind)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, triggerResult{JobID: uuid.NewString(), Results: toKindResultJSON([]fullsync.KindResult{result})})
}
