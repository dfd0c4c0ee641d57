package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"auditlog/internal/audit"
	"auditlog/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (v stubValidator) ValidateToken(string) (*JWTClaims, error) {
	return v.claims, v.err
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *captureRecorder) Record(_ context.Context, e audit.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

type AuthMiddlewareSuite struct {
	suite.Suite
	recorder *captureRecorder
	reached  bool
	next     http.Handler
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareSuite))
}

func (s *AuthMiddlewareSuite) SetupTest() {
	s.recorder = &captureRecorder{}
	s.reached = false
	s.next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.reached = true
		w.WriteHeader(http.StatusOK)
	})
}

func (s *AuthMiddlewareSuite) middleware(v JWTValidator) *Middleware {
	return New(v, s.recorder, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *AuthMiddlewareSuite) serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/admin/logs", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func (s *AuthMiddlewareSuite) onlyEntry() audit.Entry {
	s.Require().Len(s.recorder.entries, 1)
	return s.recorder.entries[0]
}

func (s *AuthMiddlewareSuite) TestRequireAuth() {
	s.Run("missing token is unauthorized", func() {
		s.SetupTest()
		rr := s.serve(s.middleware(stubValidator{}).RequireAuth(s.next), "")

		s.Equal(http.StatusUnauthorized, rr.Code)
		s.False(s.reached)
		e := s.onlyEntry()
		s.Equal(audit.EventUnauthorized, e.EventType)
		s.Equal(audit.OutcomeFailure, e.Outcome)
		s.JSONEq(`{"reason":"missing_token"}`, string(e.Metadata))
		s.Require().NotNil(e.Identity)
		s.Equal("192.0.2.1", e.Identity.IP)
		s.Equal("/api/admin/logs", e.Identity.Endpoint)
	})

	s.Run("expired token is forbidden", func() {
		s.SetupTest()
		err := errors.Join(ErrTokenExpired, errors.New("token has expired"))
		rr := s.serve(s.middleware(stubValidator{err: err}).RequireAuth(s.next), "stale")

		s.Equal(http.StatusForbidden, rr.Code)
		s.False(s.reached)
		s.Equal(audit.EventTokenExpired, s.onlyEntry().EventType)
	})

	s.Run("invalid token is forbidden", func() {
		s.SetupTest()
		rr := s.serve(s.middleware(stubValidator{err: errors.New("signature is invalid")}).RequireAuth(s.next), "forged")

		s.Equal(http.StatusForbidden, rr.Code)
		e := s.onlyEntry()
		s.Equal(audit.EventTokenInvalid, e.EventType)

		var meta map[string]string
		s.Require().NoError(json.Unmarshal(e.Metadata, &meta))
		s.Equal("signature is invalid", meta["error"])
	})

	s.Run("valid token stores the principal", func() {
		s.SetupTest()
		var got requestcontext.Principal
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = requestcontext.PrincipalFrom(r.Context())
		})
		v := stubValidator{claims: &JWTClaims{Email: "admin@example.com", Role: "admin"}}
		rr := s.serve(s.middleware(v).RequireAuth(next), "good")

		s.Equal(http.StatusOK, rr.Code)
		s.Equal(requestcontext.Principal{Email: "admin@example.com", Role: "admin"}, got)
		s.Empty(s.recorder.entries)
	})
}

func (s *AuthMiddlewareSuite) TestRequireRole() {
	chain := func(role string) http.Handler {
		m := s.middleware(stubValidator{claims: &JWTClaims{Email: "bob@example.com", Role: role}})
		return m.RequireAuth(m.RequireRole("admin")(s.next))
	}

	s.Run("wrong role is denied", func() {
		s.SetupTest()
		rr := s.serve(chain("user"), "tok")

		s.Equal(http.StatusForbidden, rr.Code)
		s.False(s.reached)
		e := s.onlyEntry()
		s.Equal(audit.EventAccessDenied, e.EventType)
		s.Equal("bob@example.com", e.UserEmail)
		s.Equal("user", e.UserRole)
		s.JSONEq(`{"required":["admin"],"actual":"user"}`, string(e.Metadata))
	})

	s.Run("matching role passes", func() {
		s.SetupTest()
		rr := s.serve(chain("admin"), "tok")
		s.Equal(http.StatusOK, rr.Code)
		s.True(s.reached)
		s.Empty(s.recorder.entries)
	})

	s.Run("missing principal is unauthorized", func() {
		s.SetupTest()
		rr := s.serve(s.middleware(stubValidator{}).RequireRole("admin")(s.next), "")
		s.Equal(http.StatusUnauthorized, rr.Code)
	})
}

func (s *AuthMiddlewareSuite) TestLogProtectedAccess() {
	m := s.middleware(stubValidator{claims: &JWTClaims{Email: "bob@example.com", Role: "user"}})
	rr := s.serve(m.RequireAuth(m.LogProtectedAccess(s.next)), "tok")

	s.Equal(http.StatusOK, rr.Code)
	s.True(s.reached)
	e := s.onlyEntry()
	s.Equal(audit.EventProtectedAccess, e.EventType)
	s.Equal(audit.OutcomeSuccess, e.Outcome)
}
