// Package passage assembles the session service from its configuration:
// stores, signing key, broker, services, sweeper and HTTP router.
package passage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/passage/adapters/events"
	"github.com/layer-3/passage/adapters/hasher"
	"github.com/layer-3/passage/adapters/store"
	"github.com/layer-3/passage/adapters/tokenizer"
	"github.com/layer-3/passage/config"
	"github.com/layer-3/passage/internal/metrics"
	"github.com/layer-3/passage/internal/ratelimit"
	"github.com/layer-3/passage/ports"
	"github.com/layer-3/passage/service"
	transport "github.com/layer-3/passage/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/crypto/bcrypt"
)

// Service wires every component of a passage server
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	stores      *store.Stores
	registry    *prometheus.Registry
	publisher   message.Publisher
	closeBroker func() error

	auth       *service.AuthService
	enrollment *service.EnrollmentService
	sweeper    *service.Sweeper
	router     *gin.Engine
}

// Option customizes NewService
type Option func(*options)

type options struct {
	passwords ports.PasswordHasher
}

// WithPasswordHasher replaces the bcrypt hasher, e.g. with a cheaper cost in tests
func WithPasswordHasher(h ports.PasswordHasher) Option {
	return func(o *options) { o.passwords = h }
}

// NewService creates a new service. Close must be called to release the stores and broker.
func NewService(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	o := options{passwords: hasher.NewBcryptHasher(bcrypt.DefaultCost)}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	stores, err := store.Open(ctx, store.Config{
		Driver:   cfg.Store.Driver,
		DSN:      cfg.Store.DSN,
		RedisURL: cfg.Store.RedisURL,
		Prefix:   cfg.Store.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open stores: %w", err)
	}
	s.stores = stores

	key, ephemeral, err := tokenizer.LoadKey(cfg.Token.SigningKeyFile)
	if err != nil {
		return nil, err
	}
	if ephemeral {
		logger.Warn("no signing key configured, using an ephemeral key; tokens will not survive a restart")
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(s.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	s.publisher, s.closeBroker, err = openBroker(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	s.auth = service.NewAuthService(
		tokenizer.NewJWTTokenizer(key, tokenizer.WithIssuer(cfg.Token.Issuer)),
		stores.Principals,
		stores.Revocations,
		o.passwords,
		events.NewWatermillPublisher(s.publisher),
		cfg.Token.TTL,
		service.WithLogger(logger.With("component", "auth")),
		service.WithMetrics(m),
		service.WithRateLimiter(ratelimit.NewKeyed(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.Burst)),
	)
	s.enrollment = service.NewEnrollmentService(
		stores.Challenges,
		stores.Principals,
		o.passwords,
		events.NewWatermillCodeSender(s.publisher),
		service.EnrollmentConfig{
			CodeTTL:        cfg.Challenge.TTL,
			CodeLength:     cfg.Challenge.CodeLength,
			MaxAttempts:    cfg.Challenge.MaxAttempts,
			ResendInterval: cfg.Challenge.ResendInterval,
		},
		service.WithLogger(logger.With("component", "enrollment")),
		service.WithMetrics(m),
		service.WithRateLimiter(ratelimit.NewKeyed(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.Burst)),
	)
	s.sweeper = service.NewSweeper(stores.Revocations, cfg.Sweeper.Interval,
		service.WithLogger(logger.With("component", "sweeper")),
		service.WithMetrics(m),
	)

	gin.SetMode(cfg.Server.Mode)
	s.router = transport.SetupRouter(transport.RouterConfig{
		Auth:       s.auth,
		Enrollment: s.enrollment,
		Logger:     logger.With("component", "http"),
		Gatherer:   s.registry,
		Health:     stores.Ping,
	})

	ok = true
	return s, nil
}

// Router returns the HTTP handler
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Start launches the background revocation sweeper
func (s *Service) Start(ctx context.Context) {
	s.sweeper.Start(ctx)
}

// Sweep runs one revocation sweep
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.sweeper.RunOnce(ctx)
}

// Close stops the sweeper and releases the broker and stores
func (s *Service) Close() error {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	var errs []error
	if s.closeBroker != nil {
		errs = append(errs, s.closeBroker())
	}
	if s.stores != nil {
		errs = append(errs, s.stores.Close())
	}
	return errors.Join(errs...)
}
