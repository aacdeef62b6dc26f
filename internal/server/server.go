// Package server exposes the orchestrator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"velu/internal/domain"
	"velu/internal/orchestrator"
	"velu/internal/store/sqlite"
	"velu/internal/task"
)

type Orchestrator interface {
	Run(ctx context.Context, env task.Envelope) task.Result
	RunPipeline(ctx context.Context, payload task.Payload) task.Result
	Job(ctx context.Context, id int64) (domain.Job, error)
	Jobs(ctx context.Context, limit int) ([]domain.Job, error)
	Order() []string
}

type Subscriber interface {
	Subscribe(id string) <-chan domain.Event
	Unsubscribe(id string)
}

type Config struct {
	Addr string
	// MaxConcurrent bounds in-flight task and pipeline requests.
	MaxConcurrent int
}

type Server struct {
	echo   *echo.Echo
	orch   Orchestrator
	events Subscriber
	sem    *semaphore.Weighted
	cfg    Config
	logger *zap.Logger

	// done is closed by Shutdown so long-lived streams end before the
	// graceful shutdown waits on them.
	done     chan struct{}
	stopOnce sync.Once
}

// New builds the HTTP surface. events may be nil, in which case /events
// answers 503. gatherer defaults to the prometheus default registry.
func New(orch Orchestrator, events Subscriber, gatherer prometheus.Gatherer, cfg Config, logger *zap.Logger) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		orch:   orch,
		events: events,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}

	e.GET("/healthz", s.handleHealth)
	e.GET("/pipeline", s.handleOrder)
	e.POST("/tasks", s.handleTask, s.limit)
	e.POST("/pipelines", s.handlePipeline, s.limit)
	e.GET("/jobs", s.handleJobs)
	e.GET("/jobs/:id", s.handleJob)
	e.GET("/events", s.handleEvents)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.cfg.Addr))
	return s.echo.Start(s.cfg.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	s.stopOnce.Do(func() { close(s.done) })
	return s.echo.Shutdown(ctx)
}

// limit rejects requests with 429 once MaxConcurrent requests are running.
func (s *Server) limit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.sem.TryAcquire(1) {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many in-flight tasks")
		}
		defer s.sem.Release(1)
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOrder(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"order": s.orch.Order()})
}

func (s *Server) handleTask(c echo.Context) error {
	body, err := decodeObject(c)
	if err != nil {
		return err
	}
	res := s.orch.Run(c.Request().Context(), task.FromMap(body))
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handlePipeline(c echo.Context) error {
	body, err := decodeObject(c)
	if err != nil {
		return err
	}
	payload := task.Payload(body)
	if inner, ok := body["payload"].(map[string]any); ok {
		payload = task.Payload(inner)
	}
	res := s.orch.RunPipeline(c.Request().Context(), payload)
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleJob(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid job id")
	}
	job, err := s.orch.Job(c.Request().Context(), id)
	if err != nil {
		return s.storeError(err)
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleJobs(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	jobs, err := s.orch.Jobs(c.Request().Context(), limit)
	if err != nil {
		return s.storeError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) storeError(err error) error {
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	case errors.Is(err, orchestrator.ErrNoJobStore):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	s.logger.Error("job store request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "job store error")
}

// handleEvents streams orchestrator events as server-sent events until the
// client goes away or the server shuts down.
func (s *Server) handleEvents(c echo.Context) error {
	if s.events == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream not configured")
	}
	id := uuid.NewString()
	ch := s.events.Subscribe(id)
	defer s.events.Unsubscribe(id)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("marshal event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name(), raw); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func decodeObject(c echo.Context) (map[string]any, error) {
	var body map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if body == nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "body must be a JSON object")
	}
	return body, nil
}
