// Package storetest holds the behavioural suite every audit.Store backend
// must pass. Backend packages embed Suite and supply a constructor.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stretchr/testify/suite"

	"auditlog/internal/audit"
	"auditlog/pkg/platform/sentinel"
	"auditlog/pkg/requestcontext"
)

// Suite exercises an audit.Store through its public contract.
type Suite struct {
	suite.Suite

	// NewStore returns an empty store. It is called once per test.
	NewStore func() audit.Store

	store audit.Store
	base  time.Time
}

func (s *Suite) SetupTest() {
	s.Require().NotNil(s.NewStore, "NewStore must be set")
	s.store = s.NewStore()
	s.base = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func (s *Suite) TearDownTest() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

// at returns a context whose clock reads base+offset.
func (s *Suite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.base.Add(offset))
}

func (s *Suite) append(offset time.Duration, e audit.Event) audit.Event {
	stored, err := s.store.Append(s.at(offset), e)
	s.Require().NoError(err)
	return stored
}

func failure(ip, email string) audit.Event {
	return audit.Event{
		EventType: audit.EventLoginFailure,
		Outcome:   audit.OutcomeFailure,
		UserEmail: email,
		IPAddress: ip,
	}
}

func (s *Suite) TestAppend() {
	s.Run("assigns increasing ids and the request time", func() {
		first := s.append(0, failure("10.0.0.1", "a@example.com"))
		second := s.append(time.Second, failure("10.0.0.1", "a@example.com"))

		s.Positive(first.ID)
		s.Greater(second.ID, first.ID)
		s.True(first.Timestamp.Equal(s.base), "got %s", first.Timestamp)
		s.Equal(time.UTC, first.Timestamp.Location())
	})

	s.Run("round trips every field", func() {
		in := audit.Event{
			EventType:  audit.EventAccessDenied,
			Outcome:    audit.OutcomeFailure,
			UserEmail:  "bob@example.com",
			UserRole:   "user",
			IPAddress:  "192.0.2.7",
			UserAgent:  "curl/8.4.0",
			Endpoint:   "/api/admin/logs",
			Method:     "GET",
			Metadata:   json.RawMessage(`{"reason":"bad_password"}`),
			Suspicious: true,
		}
		stored := s.append(time.Minute, in)

		res, err := s.store.Query(s.at(time.Hour), audit.Filter{EventType: audit.EventAccessDenied}, audit.Page{Limit: 10})
		s.Require().NoError(err)
		s.Require().Len(res.Logs, 1)
		got := res.Logs[0]

		s.Equal(stored.ID, got.ID)
		s.True(got.Timestamp.Equal(s.base.Add(time.Minute)))
		s.Equal(in.EventType, got.EventType)
		s.Equal(in.Outcome, got.Outcome)
		s.Equal(in.UserEmail, got.UserEmail)
		s.Equal(in.UserRole, got.UserRole)
		s.Equal(in.IPAddress, got.IPAddress)
		s.Equal(in.UserAgent, got.UserAgent)
		s.Equal(in.Endpoint, got.Endpoint)
		s.Equal(in.Method, got.Method)
		s.JSONEq(`{"reason":"bad_password"}`, string(got.Metadata))
		s.True(got.Suspicious)
	})

	s.Run("absent optional fields stay empty", func() {
		s.append(2*time.Minute, audit.Event{
			EventType: audit.EventRateLimited,
			Outcome:   audit.OutcomeBlocked,
			IPAddress: audit.UnknownIP,
		})
		res, err := s.store.Query(s.at(time.Hour), audit.Filter{EventType: audit.EventRateLimited}, audit.Page{Limit: 10})
		s.Require().NoError(err)
		s.Require().Len(res.Logs, 1)
		got := res.Logs[0]
		s.Empty(got.UserEmail)
		s.Empty(got.UserRole)
		s.Empty(got.UserAgent)
		s.Empty(got.Metadata)
		s.False(got.Suspicious)
	})
}

func (s *Suite) TestCounts() {
	s.append(-20*time.Minute, failure("10.0.0.1", "a@example.com")) // outside window
	s.append(-10*time.Minute, failure("10.0.0.1", "a@example.com"))
	s.append(-5*time.Minute, failure("10.0.0.1", "b@example.com"))
	s.append(-time.Minute, failure("10.0.0.2", "a@example.com"))
	s.append(-time.Minute, audit.Event{
		EventType: audit.EventLoginSuccess,
		Outcome:   audit.OutcomeSuccess,
		UserEmail: "a@example.com",
		IPAddress: "10.0.0.1",
	})
	since := s.base.Add(-15 * time.Minute)

	s.Run("by ip counts only the kind inside the window", func() {
		n, err := s.store.CountByIP(s.at(0), audit.EventLoginFailure, "10.0.0.1", since)
		s.Require().NoError(err)
		s.Equal(2, n)
	})

	s.Run("by email counts across ips", func() {
		n, err := s.store.CountByEmail(s.at(0), audit.EventLoginFailure, "a@example.com", since)
		s.Require().NoError(err)
		s.Equal(2, n)
	})

	s.Run("window start is inclusive", func() {
		n, err := s.store.CountByIP(s.at(0), audit.EventLoginFailure, "10.0.0.1", s.base.Add(-10*time.Minute))
		s.Require().NoError(err)
		s.Equal(2, n)
	})

	s.Run("unknown keys count zero", func() {
		n, err := s.store.CountByIP(s.at(0), audit.EventLoginFailure, "203.0.113.9", since)
		s.Require().NoError(err)
		s.Zero(n)
		n, err = s.store.CountByEmail(s.at(0), audit.EventLoginFailure, "nobody@example.com", since)
		s.Require().NoError(err)
		s.Zero(n)
	})
}

func (s *Suite) TestQuery() {
	yes, no := true, false
	s.append(0, failure("10.0.0.1", "alice@example.com"))
	s.append(time.Minute, audit.Event{
		EventType: audit.EventLoginSuccess, Outcome: audit.OutcomeSuccess,
		UserEmail: "bob@example.com", IPAddress: "10.0.0.2", Endpoint: "/login",
	})
	s.append(2*time.Minute, audit.Event{
		EventType: audit.EventRateLimited, Outcome: audit.OutcomeBlocked,
		IPAddress: "10.0.0.3", Endpoint: "/api/admin/logs",
	})
	s.append(3*time.Minute, audit.Event{
		EventType: audit.EventLoginFailure, Outcome: audit.OutcomeFailure,
		UserEmail: "alice@example.com", IPAddress: "10.0.0.1", Suspicious: true,
	})

	cases := []struct {
		name   string
		filter audit.Filter
		want   int
	}{
		{"no filter", audit.Filter{}, 4},
		{"event type", audit.Filter{EventType: audit.EventLoginFailure}, 2},
		{"outcome", audit.Filter{Outcome: audit.OutcomeBlocked}, 1},
		{"suspicious true", audit.Filter{Suspicious: &yes}, 1},
		{"suspicious false", audit.Filter{Suspicious: &no}, 3},
		{"search email", audit.Filter{Search: "alice"}, 2},
		{"search ip", audit.Filter{Search: "10.0.0.3"}, 1},
		{"search endpoint", audit.Filter{Search: "/admin"}, 1},
		{"search is case sensitive", audit.Filter{Search: "ALICE"}, 0},
		{"filters combine", audit.Filter{EventType: audit.EventLoginFailure, Suspicious: &no}, 1},
		{"no match", audit.Filter{EventType: audit.EventTokenExpired}, 0},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			res, err := s.store.Query(s.at(time.Hour), tc.filter, audit.Page{Limit: 50})
			s.Require().NoError(err)
			s.Equal(tc.want, res.Total)
			s.Len(res.Logs, tc.want)
			s.NotNil(res.Logs)
		})
	}
}

func (s *Suite) TestQueryOrderingAndPaging() {
	var ids []int64
	for i := range 7 {
		// Pairs share a timestamp so the id tie-break is exercised.
		e := s.append(time.Duration(i/2)*time.Second, failure(fmt.Sprintf("10.0.1.%d", i), ""))
		ids = append(ids, e.ID)
	}

	s.Run("most recent first with id tie-break", func() {
		res, err := s.store.Query(s.at(time.Hour), audit.Filter{}, audit.Page{Limit: 50})
		s.Require().NoError(err)
		s.Require().Len(res.Logs, 7)
		for i, e := range res.Logs {
			s.Equal(ids[len(ids)-1-i], e.ID)
		}
	})

	s.Run("pages partition the result", func() {
		var seen []int64
		for offset := 0; offset < 7; offset += 3 {
			res, err := s.store.Query(s.at(time.Hour), audit.Filter{}, audit.Page{Limit: 3, Offset: offset})
			s.Require().NoError(err)
			s.Equal(7, res.Total)
			for _, e := range res.Logs {
				seen = append(seen, e.ID)
			}
		}
		s.Len(seen, 7)
		s.ElementsMatch(ids, seen)
	})

	s.Run("offset past the end is empty with full total", func() {
		res, err := s.store.Query(s.at(time.Hour), audit.Filter{}, audit.Page{Limit: 3, Offset: 100})
		s.Require().NoError(err)
		s.Equal(7, res.Total)
		s.Empty(res.Logs)
	})

	s.Run("repeated queries are stable", func() {
		first, err := s.store.Query(s.at(time.Hour), audit.Filter{}, audit.Page{Limit: 4, Offset: 2})
		s.Require().NoError(err)
		second, err := s.store.Query(s.at(time.Hour), audit.Filter{}, audit.Page{Limit: 4, Offset: 2})
		s.Require().NoError(err)
		s.Equal(first, second)
	})
}

func (s *Suite) TestStats() {
	s.Run("empty store", func() {
		sum, err := s.store.Stats(s.at(0), audit.StatsParams{RecentSince: s.base.Add(-audit.RecentWindow), TopIPs: audit.TopIPCount})
		s.Require().NoError(err)
		s.Zero(sum.Total)
		s.Empty(sum.TopIPs)
		s.Empty(sum.EventBreakdown)
	})

	s.Run("rollups", func() {
		s.append(-25*time.Hour, failure("10.0.0.9", ""))
		s.append(-time.Hour, failure("10.0.0.1", ""))
		s.append(-time.Hour, failure("10.0.0.1", ""))
		s.append(-time.Hour, audit.Event{EventType: audit.EventLoginSuccess, Outcome: audit.OutcomeSuccess, IPAddress: "10.0.0.2"})
		s.append(-time.Hour, audit.Event{EventType: audit.EventRateLimited, Outcome: audit.OutcomeBlocked, IPAddress: "10.0.0.2"})
		s.append(-time.Minute, audit.Event{EventType: audit.EventLoginFailure, Outcome: audit.OutcomeFailure, IPAddress: "10.0.0.3", Suspicious: true})
		for i := range 4 {
			s.append(-time.Minute, audit.Event{EventType: audit.EventAdminAction, Outcome: audit.OutcomeSuccess, IPAddress: fmt.Sprintf("10.0.2.%d", i)})
		}

		sum, err := s.store.Stats(s.at(0), audit.StatsParams{RecentSince: s.base.Add(-audit.RecentWindow), TopIPs: audit.TopIPCount})
		s.Require().NoError(err)

		s.Equal(10, sum.Total)
		s.Equal(4, sum.Failures)
		s.Equal(1, sum.Suspicious)
		s.Equal(9, sum.Last24h, "the 25h old record is excluded")

		s.Equal([]audit.IPCount{
			{IPAddress: "10.0.0.1", Count: 2},
			{IPAddress: "10.0.0.2", Count: 2},
			{IPAddress: "10.0.0.3", Count: 1},
			{IPAddress: "10.0.0.9", Count: 1},
			{IPAddress: "10.0.2.0", Count: 1},
		}, sum.TopIPs)

		s.Equal([]audit.EventTypeCount{
			{EventType: audit.EventAdminAction, Count: 4},
			{EventType: audit.EventLoginFailure, Count: 4},
			{EventType: audit.EventLoginSuccess, Count: 1},
			{EventType: audit.EventRateLimited, Count: 1},
		}, sum.EventBreakdown)
	})
}

func (s *Suite) TestClose() {
	s.append(0, failure("10.0.0.1", ""))
	s.Require().NoError(s.store.Close())
	s.NoError(s.store.Close(), "close is idempotent")

	_, err := s.store.Append(s.at(0), failure("10.0.0.1", ""))
	s.ErrorIs(err, sentinel.ErrClosed)
	_, err = s.store.CountByIP(s.at(0), audit.EventLoginFailure, "10.0.0.1", s.base)
	s.ErrorIs(err, sentinel.ErrClosed)
	_, err = s.store.Query(s.at(0), audit.Filter{}, audit.Page{Limit: 1})
	s.ErrorIs(err, sentinel.ErrClosed)
	_, err = s.store.Stats(s.at(0), audit.StatsParams{RecentSince: s.base, TopIPs: 5})
	s.ErrorIs(err, sentinel.ErrClosed)
}
