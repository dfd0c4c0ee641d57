package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"auditlog/internal/audit"
	"auditlog/internal/platform/metrics"
	"auditlog/internal/ratelimit/models"
	"auditlog/internal/ratelimit/ports"
	"auditlog/pkg/platform/httputil"
	metadata "auditlog/pkg/platform/middleware/metadata"
	"auditlog/pkg/requestcontext"
)

type Middleware struct {
	buckets  ports.BucketStore
	fallback ports.BucketStore
	breaker  *circuitBreaker
	recorder ports.AuditRecorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(mw *Middleware) {
		mw.metrics = m
	}
}

// WithFallback answers checks from store while the primary store is failing.
// Without a fallback, primary errors fail open.
func WithFallback(store ports.BucketStore) Option {
	return func(m *Middleware) {
		m.fallback = store
	}
}

// WithClock replaces time.Now for the fallback circuit breaker.
func WithClock(now func() time.Time) Option {
	return func(m *Middleware) {
		m.now = now
	}
}

func New(buckets ports.BucketStore, recorder ports.AuditRecorder, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		buckets:  buckets,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fallback != nil {
		m.breaker = newCircuitBreaker(m.now)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit applies rule per client IP. While the primary store is failing,
// checks go to the fallback store; with no fallback they fail open.
func (m *Middleware) RateLimit(rule models.Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			if ip == "" {
				ip = metadata.ClientIPFromRequest(r)
			}

			result, degraded, err := m.check(ctx, rule, ip)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit",
					"limiter", rule.Name,
					"ip", ip,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}
			addRateLimitHeaders(w, result)

			if !result.Allowed {
				m.reject(w, r, rule, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// check consults the primary store, or the fallback while the primary's
// circuit is open. degraded reports that the fallback answered.
func (m *Middleware) check(ctx context.Context, rule models.Rule, ip string) (_ *models.RateLimitResult, degraded bool, _ error) {
	key := rule.Key(ip)
	if m.fallback == nil {
		result, err := m.buckets.Allow(ctx, key, rule.Limit, rule.Window)
		return result, false, err
	}

	if m.breaker.usePrimary() {
		result, err := m.buckets.Allow(ctx, key, rule.Limit, rule.Window)
		if err == nil {
			if m.breaker.recordSuccess() {
				m.logger.InfoContext(ctx, "rate limit store recovered, leaving fallback")
			}
			return result, false, nil
		}
		m.logger.ErrorContext(ctx, "rate limit store failed, using fallback",
			"limiter", rule.Name,
			"error", err,
		)
		if m.breaker.recordFailure() {
			m.logger.WarnContext(ctx, "rate limit store circuit opened")
		}
	}

	if m.metrics != nil {
		m.metrics.IncLimiterFallback(rule.Name)
	}
	result, err := m.fallback.Allow(ctx, key, rule.Limit, rule.Window)
	return result, true, err
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, rule models.Rule, result *models.RateLimitResult) {
	ctx := r.Context()
	if m.metrics != nil {
		m.metrics.IncRateLimited(rule.Name)
	}
	m.logger.WarnContext(ctx, "rate limit exceeded",
		"limiter", rule.Name,
		"ip", requestcontext.ClientIP(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)

	if rule.Audit {
		entry := audit.Entry{
			EventType: audit.EventRateLimited,
			Outcome:   audit.OutcomeBlocked,
			Metadata: audit.MetadataOf(map[string]any{
				"endpoint": r.URL.RequestURI(),
				"limit":    rule.Limit,
				"window":   models.FormatWindow(rule.Window),
			}),
		}
		if !requestcontext.HasClientMetadata(ctx) {
			id := metadata.Extract(r)
			entry.Identity = &id
		}
		if err := m.recorder.Record(ctx, entry); err != nil {
			m.logger.ErrorContext(ctx, "failed to record rate limit event", "error", err)
		}
	}

	writeRateLimitExceeded(w, rule, result)
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, rule models.Rule, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests. Please try again in " + models.FormatWindow(rule.Window) + ".",
		RetryAfter: result.RetryAfter,
	})
}
