package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auditlog/internal/platform/metrics"
	dErrors "auditlog/pkg/domain-errors"
	"auditlog/pkg/requestcontext"
)

const tracerName = "auditlog/internal/audit"

// Recorder is the write path: validate, classify, append. It runs on the
// caller's goroutine and never lets a storage failure reach the caller.
type Recorder struct {
	store    Store
	detector *Detector
	logger   *slog.Logger
	metrics  *metrics.Metrics
	breaker  *CircuitBreaker
	alerts   AlertPublisher
	tracer   trace.Tracer
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the operational logger. Recording failures are
// reported here and nowhere else.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithRecorderMetrics sets the metrics collector.
func WithRecorderMetrics(m *metrics.Metrics) RecorderOption {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithCircuitBreaker skips the store while it is failing repeatedly.
func WithCircuitBreaker(cb *CircuitBreaker) RecorderOption {
	return func(r *Recorder) {
		r.breaker = cb
	}
}

// WithAlertPublisher forwards committed suspicious events.
func WithAlertPublisher(p AlertPublisher) RecorderOption {
	return func(r *Recorder) {
		r.alerts = p
	}
}

// NewRecorder builds the recording path over store.
func NewRecorder(store Store, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	detector, err := NewDetector(store)
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		store:    store,
		detector: detector,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record validates and persists one event.
//
// The only error it returns is CodeInvalidInput for malformed entries, raised
// before any store interaction. Detector and store failures are logged,
// counted and discarded: audit logging must never fail the caller's request.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	_, _, err := r.RecordEvent(ctx, entry)
	return err
}

// RecordEvent is Record for callers that need the committed row. stored is
// false when the event was dropped or the store rejected it; the failure has
// already been logged and counted.
func (r *Recorder) RecordEvent(ctx context.Context, entry Entry) (_ Event, stored bool, _ error) {
	if err := validateEntry(entry); err != nil {
		return Event{}, false, err
	}

	ctx, span := r.tracer.Start(ctx, "audit.Record",
		trace.WithAttributes(
			attribute.String("audit.event_type", string(entry.EventType)),
			attribute.String("audit.outcome", string(entry.Outcome)),
		),
	)
	defer span.End()

	// Pin one instant for classification and insertion.
	ctx = requestcontext.WithTime(ctx, requestcontext.Now(ctx).UTC())
	event := r.buildEvent(ctx, entry)

	if r.breaker != nil && !r.breaker.Allow() {
		if r.metrics != nil {
			r.metrics.IncCircuitBreakerDropped()
		}
		r.logger.WarnContext(ctx, "audit event dropped, store circuit open",
			"event_type", event.EventType,
			"outcome", event.Outcome,
			"ip", event.IPAddress,
			"request_id", requestcontext.RequestID(ctx),
		)
		span.SetAttributes(attribute.Bool("audit.dropped", true))
		return Event{}, false, nil
	}

	suspicious, err := r.detector.Classify(ctx, event.EventType, event.IPAddress, event.UserEmail)
	if err != nil {
		r.reportFailure(ctx, span, event, "classify", err)
		return Event{}, false, nil
	}
	event.Suspicious = suspicious

	committed, err := r.store.Append(ctx, event)
	if err != nil {
		r.reportFailure(ctx, span, event, "append", err)
		return Event{}, false, nil
	}
	r.recordSuccess()

	span.SetAttributes(
		attribute.Int64("audit.id", committed.ID),
		attribute.Bool("audit.suspicious", committed.Suspicious),
	)
	r.logCommitted(ctx, committed)
	if r.metrics != nil {
		r.metrics.IncRecorded(string(committed.EventType), string(committed.Outcome), committed.Suspicious)
	}

	if committed.Suspicious && r.alerts != nil {
		if err := r.alerts.PublishSuspicious(ctx, committed); err != nil {
			if r.metrics != nil {
				r.metrics.IncAlertFailures()
			}
			r.logger.WarnContext(ctx, "suspicious event alert failed",
				"audit_id", committed.ID,
				"error", err,
			)
		}
	}
	return committed, true, nil
}

func validateEntry(entry Entry) error {
	if !entry.EventType.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unrecognized event_type: "+string(entry.EventType))
	}
	if !entry.Outcome.Valid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unrecognized outcome: "+string(entry.Outcome))
	}
	if len(entry.Metadata) > 0 && !json.Valid(entry.Metadata) {
		return dErrors.New(dErrors.CodeInvalidInput, "metadata must be a JSON document")
	}
	return nil
}

// buildEvent resolves identity and principal, falling back to values the
// middleware placed on the context.
func (r *Recorder) buildEvent(ctx context.Context, entry Entry) Event {
	id := Identity{}
	switch {
	case entry.Identity != nil:
		id = *entry.Identity
	case requestcontext.HasClientMetadata(ctx):
		id = Identity{
			IP:        requestcontext.ClientIP(ctx),
			UserAgent: requestcontext.UserAgent(ctx),
			Endpoint:  requestcontext.Endpoint(ctx),
			Method:    requestcontext.Method(ctx),
		}
	}

	email, role := entry.UserEmail, entry.UserRole
	if email == "" && role == "" {
		if p, ok := requestcontext.PrincipalFrom(ctx); ok {
			email, role = p.Email, p.Role
		}
	}

	ip := id.IP
	if ip == "" {
		ip = UnknownIP
	}

	var metadata json.RawMessage
	if len(entry.Metadata) > 0 {
		metadata = append(json.RawMessage(nil), entry.Metadata...)
	}

	return Event{
		EventType: entry.EventType,
		Outcome:   entry.Outcome,
		UserEmail: email,
		UserRole:  role,
		IPAddress: ip,
		UserAgent: TruncateUserAgent(id.UserAgent),
		Endpoint:  id.Endpoint,
		Method:    id.Method,
		Metadata:  metadata,
	}
}

func (r *Recorder) reportFailure(ctx context.Context, span trace.Span, event Event, stage string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage+" failed")
	if r.metrics != nil {
		r.metrics.IncPersistFailures()
	}
	if r.breaker != nil && r.breaker.RecordFailure() {
		if r.metrics != nil {
			r.metrics.SetCircuitBreakerState(true)
		}
		r.logger.ErrorContext(ctx, "audit store circuit opened")
	}
	r.logger.ErrorContext(ctx, "audit logging failed",
		"stage", stage,
		"event_type", event.EventType,
		"outcome", event.Outcome,
		"ip", event.IPAddress,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}

func (r *Recorder) recordSuccess() {
	if r.breaker == nil {
		return
	}
	if r.breaker.RecordSuccess() && r.metrics != nil {
		r.metrics.SetCircuitBreakerState(false)
	}
}

func (r *Recorder) logCommitted(ctx context.Context, e Event) {
	user := e.UserEmail
	if user == "" {
		user = "anonymous"
	}
	attrs := []any{
		"audit_id", e.ID,
		"event_type", e.EventType,
		"outcome", e.Outcome,
		"user", user,
		"ip", e.IPAddress,
		"request_id", requestcontext.RequestID(ctx),
		"log_type", "audit",
	}
	switch {
	case e.Suspicious:
		r.logger.WarnContext(ctx, "suspicious audit event", attrs...)
	case e.Outcome == OutcomeFailure:
		r.logger.InfoContext(ctx, "audit event failure", attrs...)
	default:
		r.logger.DebugContext(ctx, "audit event", attrs...)
	}
}

// TruncateUserAgent caps a user agent at MaxUserAgentLength characters.
func TruncateUserAgent(ua string) string {
	if utf8.RuneCountInString(ua) <= MaxUserAgentLength {
		return ua
	}
	runes := []rune(ua)
	return string(runes[:MaxUserAgentLength])
}
