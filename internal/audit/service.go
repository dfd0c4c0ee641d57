package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auditlog/internal/platform/metrics"
	dErrors "auditlog/pkg/domain-errors"
	"auditlog/pkg/platform/sentinel"
	"auditlog/pkg/requestcontext"
)

// Service is the admin read side: filtered pagination and rollups. Failures
// propagate to the caller; there is no retry here.
type Service struct {
	store   Reader
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService builds the read side over store.
func NewService(store Reader, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("audit reader is required")
	}
	s := &Service{
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Query returns one page of matching events, most recent first, and the total
// number of matches. The limit is clamped to MaxQueryLimit.
func (s *Service) Query(ctx context.Context, f Filter, p Page) (*QueryResult, error) {
	if f.EventType != "" && !f.EventType.Valid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unrecognized event_type: "+string(f.EventType))
	}
	if f.Outcome != "" && !f.Outcome.Valid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unrecognized outcome: "+string(f.Outcome))
	}
	p = NormalizePage(p)

	ctx, span := s.tracer.Start(ctx, "audit.Query",
		trace.WithAttributes(
			attribute.Int("audit.limit", p.Limit),
			attribute.Int("audit.offset", p.Offset),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := s.store.Query(ctx, f, p)
	if s.metrics != nil {
		s.metrics.ObserveRead("query", time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		s.logger.ErrorContext(ctx, "audit query failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, translateStoreError(err, "failed to query audit log")
	}
	if result.Logs == nil {
		result.Logs = []Event{}
	}
	span.SetAttributes(attribute.Int("audit.total", result.Total))
	return &result, nil
}

// Stats computes rollups over the current store state. Nothing is cached.
func (s *Service) Stats(ctx context.Context) (*Summary, error) {
	ctx, span := s.tracer.Start(ctx, "audit.Stats")
	defer span.End()

	now := requestcontext.Now(ctx).UTC()
	start := time.Now()
	summary, err := s.store.Stats(ctx, StatsParams{
		RecentSince: now.Add(-RecentWindow),
		TopIPs:      TopIPCount,
	})
	if s.metrics != nil {
		s.metrics.ObserveRead("stats", time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stats failed")
		s.logger.ErrorContext(ctx, "audit stats failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, translateStoreError(err, "failed to compute audit stats")
	}
	if summary.TopIPs == nil {
		summary.TopIPs = []IPCount{}
	}
	if summary.EventBreakdown == nil {
		summary.EventBreakdown = []EventTypeCount{}
	}
	return &summary, nil
}

// NormalizePage applies the default and ceiling to limit and floors offset at 0.
func NormalizePage(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = DefaultQueryLimit
	}
	if p.Limit > MaxQueryLimit {
		p.Limit = MaxQueryLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func translateStoreError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrClosed) || errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
