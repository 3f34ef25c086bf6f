package ops

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"geodatenbezug/internal/domain"
)

// Trigger executes one pipeline run.
type Trigger func(ctx context.Context) (domain.Run, error)

// Deps wires the ops server.
type Deps struct {
	Addr    string
	Trigger Trigger
	Running func() bool
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server exposes health, metrics and a manual run trigger.
type Server struct {
	echo    *echo.Echo
	addr    string
	trigger Trigger
	busy    func() bool
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	last    *runSummary
	baseCtx context.Context
	wg      sync.WaitGroup
}

type runSummary struct {
	ID         string                 `json:"id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Processed  int                    `json:"processed"`
	Failed     int                    `json:"failed"`
	Error      string                 `json:"error,omitempty"`
	Outcomes   []domain.ExportOutcome `json:"outcomes"`
}

// NewServer registers the routes on a fresh echo instance.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		addr:    deps.Addr,
		trigger: deps.Trigger,
		busy:    deps.Running,
		logger:  logger,
		baseCtx: context.Background(),
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics))
	}
	e.POST("/runs", s.startRun)
	e.GET("/runs/last", s.lastRun)

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve listens until ctx is cancelled, then shuts down and waits for a triggered run.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", s.addr)
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := s.echo.Shutdown(shutdownCtx)
	s.Wait()
	return err
}

// Wait blocks until a triggered run has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) startRun(c echo.Context) error {
	if s.trigger == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "runs are not enabled")
	}

	s.mu.Lock()
	if s.running || (s.busy != nil && s.busy()) {
		s.mu.Unlock()
		return c.JSON(http.StatusConflict, map[string]string{"error": "run already in progress"})
	}
	s.running = true
	ctx := s.baseCtx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		run, err := s.trigger(ctx)
		summary := &runSummary{
			ID:         run.ID,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
			Processed:  len(run.Outcomes),
			Failed:     run.Failed(),
			Outcomes:   run.Outcomes,
		}
		if err != nil {
			s.logger.Error("manual run failed", "error", err)
			summary.Error = err.Error()
		}

		s.mu.Lock()
		s.running = false
		s.last = summary
		s.mu.Unlock()
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) lastRun(c echo.Context) error {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	if last == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no run finished yet"})
	}
	return c.JSON(http.StatusOK, last)
}
