package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"auditlog/internal/audit"
	"auditlog/internal/audit/store/memory"
	"auditlog/pkg/requestcontext"
	"auditlog/pkg/testutil"
)

// HandlerSuite runs the admin endpoints over real in-memory components.
type HandlerSuite struct {
	suite.Suite
	store  *memory.InMemoryStore
	router http.Handler
	now    time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.now = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc, err := audit.NewService(s.store, audit.WithServiceLogger(logger))
	s.Require().NoError(err)
	rec, err := audit.NewRecorder(s.store, audit.WithRecorderLogger(logger))
	s.Require().NoError(err)

	r := chi.NewRouter()
	r.Use(testutil.PrincipalMiddleware("admin@example.com", "admin"))
	New(svc, rec, logger).Register(r)
	s.router = r
}

func (s *HandlerSuite) seed(offset time.Duration, e audit.Event) {
	_, err := s.store.Append(requestcontext.WithTime(context.Background(), s.now.Add(offset)), e)
	s.Require().NoError(err)
}

func (s *HandlerSuite) get(target string) *httptest.ResponseRecorder {
	req := testutil.WithClient(httptest.NewRequest(http.MethodGet, target, nil), "192.0.2.50", "test-agent")
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) TestLogs() {
	s.seed(-3*time.Minute, audit.Event{EventType: audit.EventLoginFailure, Outcome: audit.OutcomeFailure, IPAddress: "10.0.0.1", Suspicious: true})
	s.seed(-2*time.Minute, audit.Event{EventType: audit.EventLoginSuccess, Outcome: audit.OutcomeSuccess, IPAddress: "10.0.0.2"})
	s.seed(-time.Minute, audit.Event{EventType: audit.EventLoginFailure, Outcome: audit.OutcomeFailure, IPAddress: "10.0.0.3"})

	rec := s.get("/api/admin/logs?event_type=LOGIN_FAILURE&suspicious=true&limit=10")
	s.Require().Equal(http.StatusOK, rec.Code)

	var body struct {
		Logs  []audit.Event `json:"logs"`
		Total int           `json:"total"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&body))
	s.Equal(1, body.Total)
	s.Require().Len(body.Logs, 1)
	s.Equal("10.0.0.1", body.Logs[0].IPAddress)
}

func (s *HandlerSuite) TestLogsRecordsAdminAction() {
	rec := s.get("/api/admin/logs?outcome=failure&search=10.0")
	s.Require().Equal(http.StatusOK, rec.Code)

	res, err := s.store.Query(context.Background(), audit.Filter{EventType: audit.EventAdminAction}, audit.Page{Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(res.Logs, 1)

	e := res.Logs[0]
	s.Equal(audit.OutcomeSuccess, e.Outcome)
	s.Equal("admin@example.com", e.UserEmail)
	s.Equal("admin", e.UserRole)
	s.Equal("192.0.2.50", e.IPAddress)
	s.JSONEq(`{"action":"view_audit_logs","filters":{"outcome":"failure","search":"10.0"}}`, string(e.Metadata))
}

func (s *HandlerSuite) TestLogsEmptyStore() {
	rec := s.get("/api/admin/logs")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"logs":[],"total":0}`, rec.Body.String())
}

func (s *HandlerSuite) TestLogsInvalidFilter() {
	rec := s.get("/api/admin/logs?event_type=NOT_A_KIND")
	s.Equal(http.StatusBadRequest, rec.Code)

	res, err := s.store.Query(context.Background(), audit.Filter{}, audit.Page{Limit: 10})
	s.Require().NoError(err)
	s.Zero(res.Total, "rejected queries are not recorded as admin actions")
}

func (s *HandlerSuite) TestStats() {
	s.seed(-25*time.Hour, audit.Event{EventType: audit.EventLoginFailure, Outcome: audit.OutcomeFailure, IPAddress: "10.0.0.1"})
	s.seed(-time.Hour, audit.Event{EventType: audit.EventLoginFailure, Outcome: audit.OutcomeFailure, IPAddress: "10.0.0.1", Suspicious: true})

	rec := s.get("/api/admin/stats")
	s.Require().Equal(http.StatusOK, rec.Code)

	var sum audit.Summary
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&sum))
	s.Equal(2, sum.Total)
	s.Equal(2, sum.Failures)
	s.Equal(1, sum.Suspicious)
	s.Equal([]audit.IPCount{{IPAddress: "10.0.0.1", Count: 2}}, sum.TopIPs)
	s.Equal([]audit.EventTypeCount{{EventType: audit.EventLoginFailure, Count: 2}}, sum.EventBreakdown)
}

func (s *HandlerSuite) TestStoreFailureHidesDetail() {
	s.Require().NoError(s.store.Close())

	rec := s.get("/api/admin/stats")
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.NotContains(rec.Body.String(), "closed")
}

type failingService struct{}

func (failingService) Query(context.Context, audit.Filter, audit.Page) (*audit.QueryResult, error) {
	return nil, errors.New("disk I/O error")
}

func (failingService) Stats(context.Context) (*audit.Summary, error) {
	return nil, errors.New("disk I/O error")
}

func TestInternalErrorsAre500(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := chi.NewRouter()
	New(failingService{}, nil, logger).Register(r)

	for _, path := range []string{"/api/admin/logs", "/api/admin/stats"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.NotContains(t, rec.Body.String(), "disk I/O error")
	}
}

func TestParseLogsRequest(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  LogsRequest
	}{
		{
			name:  "defaults",
			query: "",
			want:  LogsRequest{Page: audit.Page{Limit: 50}},
		},
		{
			name:  "non-numeric paging falls back",
			query: "limit=abc&offset=xyz",
			want:  LogsRequest{Page: audit.Page{Limit: 50}},
		},
		{
			name:  "all filters",
			query: "limit=20&offset=40&event_type=LOGIN_FAILURE&outcome=failure&search=bob",
			want: LogsRequest{
				Page: audit.Page{Limit: 20, Offset: 40},
				Filter: audit.Filter{
					EventType: audit.EventLoginFailure,
					Outcome:   audit.OutcomeFailure,
					Search:    "bob",
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ParseLogsRequest(q))
		})
	}

	t.Run("suspicious tri-state", func(t *testing.T) {
		assert.Nil(t, ParseLogsRequest(url.Values{}).Filter.Suspicious)

		yes := ParseLogsRequest(url.Values{"suspicious": {"true"}}).Filter.Suspicious
		require.NotNil(t, yes)
		assert.True(t, *yes)

		no := ParseLogsRequest(url.Values{"suspicious": {"no"}}).Filter.Suspicious
		require.NotNil(t, no)
		assert.False(t, *no)
	})
}
