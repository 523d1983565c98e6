package routes

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/congo_auth/internal/auth"
	"github.com/congo-pay/congo_auth/internal/config"
	"github.com/congo-pay/congo_auth/internal/credential"
	"github.com/congo-pay/congo_auth/internal/identity"
	"github.com/congo-pay/congo_auth/internal/metrics"
	"github.com/congo-pay/congo_auth/internal/middleware"
	"github.com/congo-pay/congo_auth/internal/notification"
	"github.com/congo-pay/congo_auth/internal/secret"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg       config.Config
	DB        *pgxpool.Pool
	Cache     *redis.Client
	Transport notification.Transport
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

// Services exposes what Setup built for lifecycle management in the server.
type Services struct {
	Users  identity.Repository
	Engine *credential.Engine
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewRecorder()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.AccessLog(d.Logger))

	RegisterHealthRoutes(app, d)

	var users identity.Repository
	if d.DB != nil {
		users = identity.NewPostgresRepository(d.DB)
	} else {
		d.Logger.Warn("no database configured, using in-memory user store")
		users = identity.NewMemoryRepository()
	}

	engine, minter, err := buildEngine(d, users)
	if err != nil {
		return nil, err
	}
	handler := credential.NewHandler(engine)

	idempotent := func(c *fiber.Ctx) error { return c.Next() }
	if d.Cache != nil {
		idempotent = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}

	api := app.Group("/api/v1")
	RegisterAuthRoutes(api.Group("/auth"), handler, idempotent)
	api.Get("/me", middleware.Bearer(minter), handler.Me(middleware.UserID))

	return &Services{Users: users, Engine: engine}, nil
}

// RegisterAuthRoutes mounts the public credential endpoints. idempotent wraps
// the routes that create users or issue challenges.
func RegisterAuthRoutes(r fiber.Router, h *credential.Handler, idempotent fiber.Handler) {
	r.Post("/register", idempotent, h.Register)
	r.Post("/login", h.Login)
	r.Post("/refresh", h.Refresh)
	r.Post("/forgot-password", idempotent, h.ForgotPassword)
	r.Post("/reset-password", h.ResetPassword)
	r.Post("/request-pin", idempotent, h.RequestPin)
	r.Post("/verify-pin", h.VerifyPin)
}

func buildEngine(d Deps, users identity.Repository) (*credential.Engine, *auth.Minter, error) {
	passwords, err := secret.NewBcryptHasher(d.Cfg.PasswordCost)
	if err != nil {
		return nil, nil, err
	}
	challenges, err := secret.NewBcryptHasher(d.Cfg.ChallengeCost)
	if err != nil {
		return nil, nil, err
	}
	minter, err := auth.NewMinter(auth.Config{
		AccessSecret:  d.Cfg.AccessTokenSecret,
		AccessTTL:     d.Cfg.AccessTokenTTL,
		RefreshSecret: d.Cfg.RefreshTokenSecret,
		RefreshTTL:    d.Cfg.RefreshTokenTTL,
		Issuer:        d.Cfg.TokenIssuer,
	})
	if err != nil {
		return nil, nil, err
	}

	transport := d.Transport
	if transport == nil {
		transport = notification.NewLoggerTransport(d.Logger)
	}
	mailer := notification.NewMailer(transport, notification.MailerConfig{
		AppURL:   d.Cfg.AppURL,
		From:     d.Cfg.MailFrom,
		ResetTTL: d.Cfg.PasswordResetTTL,
		PinTTL:   d.Cfg.PinTTL,
	})

	engine, err := credential.NewEngine(
		credential.Config{PasswordResetTTL: d.Cfg.PasswordResetTTL, PinTTL: d.Cfg.PinTTL},
		credential.Deps{
			Users:      users,
			Passwords:  passwords,
			Challenges: challenges,
			Tokens:     minter,
			Notifier:   mailer,
		},
		credential.WithLogger(d.Logger),
		credential.WithMetrics(d.Metrics),
	)
	if err != nil {
		return nil, nil, err
	}
	return engine, minter, nil
}
