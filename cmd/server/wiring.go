package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"auditlog/internal/audit"
	"auditlog/internal/audit/alert"
	"auditlog/internal/audit/alert/kafka"
	audithandler "auditlog/internal/audit/handler"
	"auditlog/internal/audit/store"
	authhandler "auditlog/internal/auth/handler"
	authservice "auditlog/internal/auth/service"
	"auditlog/internal/auth/store/user"
	"auditlog/internal/document"
	jwttoken "auditlog/internal/jwt_token"
	"auditlog/internal/platform/config"
	"auditlog/internal/platform/metrics"
	"auditlog/internal/platform/redis"
	ratelimit "auditlog/internal/ratelimit/middleware"
	"auditlog/internal/ratelimit/models"
	"auditlog/internal/ratelimit/ports"
	"auditlog/internal/ratelimit/store/bucket"
	httptransport "auditlog/internal/transport/http"
	authmw "auditlog/pkg/platform/middleware/auth"
)

const requestTimeout = 30 * time.Second

type app struct {
	router  http.Handler
	workers []func(ctx context.Context) error
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build opens every backend and assembles the router. On error, anything
// already opened is closed.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := backend.Close(); err != nil {
			log.Error("closing audit store", "error", err)
		}
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	alerts, err := buildAlerts(ctx, cfg.Kafka, log, m, a)
	if err != nil {
		return nil, err
	}

	recorder, err := audit.NewRecorder(backend,
		audit.WithRecorderLogger(log),
		audit.WithRecorderMetrics(m),
		audit.WithCircuitBreaker(audit.NewCircuitBreaker(cfg.Recorder.BreakerThreshold, cfg.Recorder.BreakerCooldown)),
		audit.WithAlertPublisher(alerts),
	)
	if err != nil {
		return nil, err
	}
	service, err := audit.NewService(backend, audit.WithServiceLogger(log), audit.WithServiceMetrics(m))
	if err != nil {
		return nil, err
	}

	buckets, limiterOpts, err := buildBuckets(ctx, cfg, log, a)
	if err != nil {
		return nil, err
	}

	users, err := user.LoadFile(cfg.Auth.UsersFile)
	if err != nil {
		return nil, err
	}
	jwt := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer)
	login, err := authservice.New(users, jwt, recorder, cfg.Auth.TokenTTL, authservice.WithLogger(log))
	if err != nil {
		return nil, err
	}

	a.router = httptransport.NewRouter(httptransport.Dependencies{
		Logger:         log,
		Gatherer:       reg,
		MetricsToken:   cfg.Server.MetricsToken,
		RequestTimeout: requestTimeout,
		AdminRole:      cfg.Auth.AdminRole,
		Auth:           authmw.New(jwttoken.NewJWTServiceAdapter(jwt), recorder, log),
		RateLimit:      ratelimit.New(buckets, recorder, log, append(limiterOpts, ratelimit.WithMetrics(m))...),
		LoginRule: models.Rule{
			Name:   "login",
			Limit:  cfg.RateLimit.LoginLimit,
			Window: cfg.RateLimit.LoginWindow,
			Audit:  true,
		},
		APIRule: models.Rule{
			Name:   "api",
			Limit:  cfg.RateLimit.APILimit,
			Window: cfg.RateLimit.APIWindow,
		},
		Audit:    audithandler.New(service, recorder, log),
		Login:    authhandler.New(login, log),
		Document: document.New(cfg.Server.DocsDir, recorder, log),
		Health:   backend.Ping,
	})
	return a, nil
}

func buildAlerts(ctx context.Context, cfg config.Kafka, log *slog.Logger, m *metrics.Metrics, a *app) (audit.AlertPublisher, error) {
	if len(cfg.Brokers) == 0 {
		log.Info("kafka not configured, suspicious alerts go to the log")
		return alert.Logging{Logger: log}, nil
	}
	p, err := kafka.New(kafka.Config{Brokers: cfg.Brokers, Topic: cfg.Topic}, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Close(closeCtx)
	})
	if err := p.EnsureTopic(ctx, 1, 1); err != nil {
		return nil, err
	}
	buffered := alert.NewBuffered(p, cfg.BufferSize, log)
	m.ObserveAlertQueue(buffered.Pending, buffered.Dropped)
	a.workers = append(a.workers, buffered.Run)
	return buffered, nil
}

// buildBuckets returns the limiter's primary store. A Redis primary gets an
// in-memory fallback for outages.
func buildBuckets(ctx context.Context, cfg *config.Config, log *slog.Logger, a *app) (ports.BucketStore, []ratelimit.Option, error) {
	if cfg.RateLimit.Backend != "redis" {
		return bucket.NewInMemoryBucketStore(), nil, nil
	}
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			log.Error("closing redis", "error", err)
		}
	})
	return bucket.NewRedisBucketStore(client.Client), []ratelimit.Option{
		ratelimit.WithFallback(bucket.NewInMemoryBucketStore()),
	}, nil
}
