package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"auditlog/internal/audit"
	"auditlog/internal/audit/mocks"
	"auditlog/internal/audit/store/memory"
	"auditlog/internal/platform/metrics"
	dErrors "auditlog/pkg/domain-errors"
	"auditlog/pkg/requestcontext"
)

type RecorderSuite struct {
	suite.Suite
	store    *memory.InMemoryStore
	recorder *audit.Recorder
	metrics  *metrics.Metrics
	logs     *bytes.Buffer
	now      time.Time
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.logs = &bytes.Buffer{}
	s.now = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

	var err error
	s.recorder, err = audit.NewRecorder(s.store,
		audit.WithRecorderLogger(slog.New(slog.NewJSONHandler(s.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		audit.WithRecorderMetrics(s.metrics),
	)
	s.Require().NoError(err)
}

func (s *RecorderSuite) ctxAt(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(offset))
}

func (s *RecorderSuite) all() []audit.Event {
	res, err := s.store.Query(context.Background(), audit.Filter{}, audit.Page{Limit: audit.MaxQueryLimit})
	s.Require().NoError(err)
	return res.Logs
}

func loginFailure(ip, email string) audit.Entry {
	return audit.Entry{
		EventType: audit.EventLoginFailure,
		Outcome:   audit.OutcomeFailure,
		UserEmail: email,
		Identity:  &audit.Identity{IP: ip},
	}
}

func (s *RecorderSuite) TestIPThreshold() {
	for i := range 5 {
		entry := loginFailure("10.0.0.1", fmt.Sprintf("user%d@example.com", i))
		s.Require().NoError(s.recorder.Record(s.ctxAt(time.Duration(i)*time.Second), entry))
	}

	logs := s.all()
	s.Require().Len(logs, 5)
	s.True(logs[0].Suspicious, "the fifth failure from one ip is suspicious")
	for _, e := range logs[1:] {
		s.False(e.Suspicious, "event %d", e.ID)
	}

	s.Require().NoError(s.recorder.Record(s.ctxAt(5*time.Second), loginFailure("10.0.0.1", "")))
	s.True(s.all()[0].Suspicious, "later failures stay suspicious")
}

func (s *RecorderSuite) TestEmailThreshold() {
	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		s.Require().NoError(s.recorder.Record(s.ctxAt(time.Duration(i)*time.Second), loginFailure(ip, "a@x.com")))
	}

	logs := s.all()
	s.Require().Len(logs, 3)
	s.True(logs[0].Suspicious, "the third failure for one email is suspicious")
	for _, e := range logs[1:] {
		s.False(e.Suspicious)
	}
}

func (s *RecorderSuite) TestWindowExpiry() {
	for i := range 4 {
		s.Require().NoError(s.recorder.Record(s.ctxAt(time.Duration(i)*time.Second), loginFailure("10.0.0.1", "")))
	}
	s.Require().NoError(s.recorder.Record(s.ctxAt(16*time.Minute), loginFailure("10.0.0.1", "")))
	s.False(s.all()[0].Suspicious, "failures older than the window do not count")
}

func (s *RecorderSuite) TestOnlyLoginFailuresAreSuspicious() {
	for i := range 10 {
		s.Require().NoError(s.recorder.Record(s.ctxAt(time.Duration(i)*time.Second), loginFailure("10.0.0.1", "a@example.com")))
	}
	s.Require().NoError(s.recorder.Record(s.ctxAt(time.Minute), audit.Entry{
		EventType: audit.EventLoginSuccess,
		Outcome:   audit.OutcomeSuccess,
		UserEmail: "a@example.com",
		Identity:  &audit.Identity{IP: "10.0.0.1"},
	}))
	s.False(s.all()[0].Suspicious)
}

func (s *RecorderSuite) TestIdentityNormalization() {
	s.Run("missing ip becomes unknown", func() {
		s.Require().NoError(s.recorder.Record(s.ctxAt(0), audit.Entry{
			EventType: audit.EventUnauthorized,
			Outcome:   audit.OutcomeFailure,
		}))
		s.Equal(audit.UnknownIP, s.all()[0].IPAddress)
	})

	s.Run("long user agent is truncated", func() {
		s.Require().NoError(s.recorder.Record(s.ctxAt(time.Second), audit.Entry{
			EventType: audit.EventProtectedAccess,
			Outcome:   audit.OutcomeSuccess,
			Identity:  &audit.Identity{IP: "10.0.0.1", UserAgent: strings.Repeat("é", 300)},
		}))
		s.Equal(strings.Repeat("é", audit.MaxUserAgentLength), s.all()[0].UserAgent)
	})

	s.Run("identity and principal fall back to the request context", func() {
		ctx := requestcontext.WithClientMetadata(s.ctxAt(2*time.Second), "192.0.2.1", "Mozilla/5.0", "/api/admin/logs", "GET")
		ctx = requestcontext.WithPrincipal(ctx, "admin@example.com", "admin")

		s.Require().NoError(s.recorder.Record(ctx, audit.Entry{
			EventType: audit.EventAdminAction,
			Outcome:   audit.OutcomeSuccess,
		}))
		got := s.all()[0]
		s.Equal("192.0.2.1", got.IPAddress)
		s.Equal("Mozilla/5.0", got.UserAgent)
		s.Equal("/api/admin/logs", got.Endpoint)
		s.Equal("GET", got.Method)
		s.Equal("admin@example.com", got.UserEmail)
		s.Equal("admin", got.UserRole)
	})
}

func (s *RecorderSuite) TestMetadataRoundTrip() {
	s.Require().NoError(s.recorder.Record(s.ctxAt(0), audit.Entry{
		EventType: audit.EventLoginFailure,
		Outcome:   audit.OutcomeFailure,
		Identity:  &audit.Identity{IP: "10.0.0.1"},
		Metadata:  audit.MetadataOf(map[string]string{"reason": "bad_password"}),
	}))
	s.JSONEq(`{"reason":"bad_password"}`, string(s.all()[0].Metadata))
}

func (s *RecorderSuite) TestInvalidInput() {
	cases := []struct {
		name  string
		entry audit.Entry
	}{
		{"unknown event type", audit.Entry{EventType: "LOGIN_MAYBE", Outcome: audit.OutcomeSuccess}},
		{"unknown outcome", audit.Entry{EventType: audit.EventLoginSuccess, Outcome: "partial"}},
		{"malformed metadata", audit.Entry{EventType: audit.EventLoginSuccess, Outcome: audit.OutcomeSuccess, Metadata: json.RawMessage(`{"a":`)}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			err := s.recorder.Record(s.ctxAt(0), tc.entry)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
	s.Empty(s.all(), "nothing is written for rejected input")
}

func (s *RecorderSuite) TestCommittedEventsAreCountedAndLogged() {
	for i := range 6 {
		s.Require().NoError(s.recorder.Record(s.ctxAt(time.Duration(i)*time.Second), loginFailure("10.0.0.1", "")))
	}
	s.Equal(6.0, testutil.ToFloat64(s.metrics.EventsRecorded.WithLabelValues("LOGIN_FAILURE", "failure")))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.SuspiciousEvents))
	s.Contains(s.logs.String(), `"msg":"suspicious audit event"`)
	s.Contains(s.logs.String(), `"log_type":"audit"`)
}

type RecorderFailureSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	store   *mocks.MockStore
	metrics *metrics.Metrics
	logs    *bytes.Buffer
}

func TestRecorderFailureSuite(t *testing.T) {
	suite.Run(t, new(RecorderFailureSuite))
}

func (s *RecorderFailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.logs = &bytes.Buffer{}
}

func (s *RecorderFailureSuite) newRecorder(opts ...audit.RecorderOption) *audit.Recorder {
	opts = append([]audit.RecorderOption{
		audit.WithRecorderLogger(slog.New(slog.NewJSONHandler(s.logs, nil))),
		audit.WithRecorderMetrics(s.metrics),
	}, opts...)
	r, err := audit.NewRecorder(s.store, opts...)
	s.Require().NoError(err)
	return r
}

func (s *RecorderFailureSuite) TestAppendFailureIsSwallowed() {
	r := s.newRecorder()
	s.store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(audit.Event{}, errors.New("database is locked"))

	err := r.Record(context.Background(), audit.Entry{EventType: audit.EventLogout, Outcome: audit.OutcomeSuccess})

	s.NoError(err)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PersistFailures))
	s.Contains(s.logs.String(), `"msg":"audit logging failed"`)
	s.Contains(s.logs.String(), "database is locked")
}

func (s *RecorderFailureSuite) TestDetectorFailureIsSwallowed() {
	r := s.newRecorder()
	s.store.EXPECT().CountByIP(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(0, errors.New("no such table"))

	err := r.Record(context.Background(), loginFailure("10.0.0.1", "a@example.com"))

	s.NoError(err)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PersistFailures))
}

func (s *RecorderFailureSuite) TestCircuitBreakerDropsWhileOpen() {
	r := s.newRecorder(audit.WithCircuitBreaker(audit.NewCircuitBreaker(2, time.Hour)))
	entry := audit.Entry{EventType: audit.EventLogout, Outcome: audit.OutcomeSuccess}

	s.store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(audit.Event{}, errors.New("disk full")).Times(2)
	s.NoError(r.Record(context.Background(), entry))
	s.NoError(r.Record(context.Background(), entry))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CircuitBreakerState))

	// Open: the store is not touched.
	s.NoError(r.Record(context.Background(), entry))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CircuitBreakerDropped))
}

func (s *RecorderFailureSuite) TestSuspiciousEventsArePublished() {
	alerts := mocks.NewMockAlertPublisher(s.ctrl)
	r := s.newRecorder(audit.WithAlertPublisher(alerts))

	s.store.EXPECT().CountByIP(gomock.Any(), audit.EventLoginFailure, "10.0.0.1", gomock.Any()).Return(audit.IPFailureThreshold-1, nil)
	s.store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) (audit.Event, error) {
		s.True(e.Suspicious)
		e.ID = 42
		return e, nil
	})
	alerts.EXPECT().PublishSuspicious(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		s.Equal(int64(42), e.ID)
		return errors.New("broker unreachable")
	})

	s.NoError(r.Record(context.Background(), loginFailure("10.0.0.1", "a@example.com")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AlertFailures))
}

func (s *RecorderFailureSuite) TestUnsuspiciousEventsAreNotPublished() {
	alerts := mocks.NewMockAlertPublisher(s.ctrl)
	r := s.newRecorder(audit.WithAlertPublisher(alerts))

	s.store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) (audit.Event, error) {
		e.ID = 1
		return e, nil
	})

	s.NoError(r.Record(context.Background(), audit.Entry{EventType: audit.EventLoginSuccess, Outcome: audit.OutcomeSuccess}))
}

func (s *RecorderFailureSuite) TestRecordEventReportsWhetherStored() {
	r := s.newRecorder()
	entry := audit.Entry{EventType: audit.EventLogout, Outcome: audit.OutcomeSuccess}

	s.store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(audit.Event{}, errors.New("constraint failed"))
	event, stored, err := r.RecordEvent(context.Background(), entry)
	s.NoError(err)
	s.False(stored)
	s.Zero(event.ID)

	s.store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) (audit.Event, error) {
		e.ID = 7
		return e, nil
	})
	event, stored, err = r.RecordEvent(context.Background(), entry)
	s.NoError(err)
	s.True(stored)
	s.Equal(int64(7), event.ID)
	s.Equal(audit.EventLogout, event.EventType)
}

func TestTruncateUserAgent(t *testing.T) {
	short := "curl/8.4.0"
	if got := audit.TruncateUserAgent(short); got != short {
		t.Fatalf("short user agent changed: %q", got)
	}
	long := strings.Repeat("a", 250)
	if got := audit.TruncateUserAgent(long); len(got) != audit.MaxUserAgentLength {
		t.Fatalf("expected %d characters, got %d", audit.MaxUserAgentLength, len(got))
	}
}
