package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/congo_auth/internal/challenge"
	"github.com/congo-pay/congo_auth/internal/config"
	"github.com/congo-pay/congo_auth/internal/identity"
	"github.com/congo-pay/congo_auth/internal/metrics"
	"github.com/congo-pay/congo_auth/internal/middleware"
	"github.com/congo-pay/congo_auth/internal/notification"
	"github.com/congo-pay/congo_auth/internal/routes"
)

// Server wraps the Fiber application and the background challenge sweeper.
type Server struct {
	app     *fiber.App
	cfg     config.Config
	sweeper *challenge.Sweeper
	logger  *slog.Logger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// transport may be nil, in which case notifications are logged.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, transport notification.Transport, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: errorHandler,
	})

	recorder := metrics.NewRecorder()
	services, err := routes.Setup(app, routes.Deps{
		Cfg:       cfg,
		DB:        db,
		Cache:     cache,
		Transport: transport,
		Metrics:   recorder,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	sweeper, err := challenge.NewSweeper(services.Users, cfg.SweepSchedule, logger)
	if err != nil {
		return nil, err
	}
	sweeper.OnSwept(func(slot identity.Slot, n int64) {
		recorder.Swept(string(slot), n)
	})

	return &Server{app: app, cfg: cfg, sweeper: sweeper, logger: logger}, nil
}

// App exposes the underlying Fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the sweeper and then the HTTP server.
func (s *Server) Listen() error {
	s.sweeper.Start()
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops the HTTP server and waits for a running sweep to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	select {
	case <-s.sweeper.Stop().Done():
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "internal server error"
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		status = fiberErr.Code
		message = fiberErr.Message
	}
	return c.Status(status).JSON(fiber.Map{
		"error":      message,
		"request_id": middleware.RequestIDFrom(c),
	})
}
