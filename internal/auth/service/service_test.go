package service

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"auditlog/internal/audit"
	auditmemory "auditlog/internal/audit/store/memory"
	"auditlog/internal/auth"
	"auditlog/internal/auth/secrets"
	"auditlog/internal/auth/store/user"
	jwttoken "auditlog/internal/jwt_token"
	dErrors "auditlog/pkg/domain-errors"
	"auditlog/pkg/requestcontext"
)

type LoginSuite struct {
	suite.Suite
	audits  *auditmemory.InMemoryStore
	jwt     *jwttoken.JWTService
	service *Service
	ctx     context.Context
}

func TestLoginSuite(t *testing.T) {
	suite.Run(t, new(LoginSuite))
}

func (s *LoginSuite) SetupTest() {
	hash, err := secrets.Hash("s3cret!", bcrypt.MinCost)
	s.Require().NoError(err)
	users := user.New(auth.User{Email: "admin@example.com", Role: "admin", PasswordHash: hash})

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	s.audits = auditmemory.NewInMemoryStore()
	rec, err := audit.NewRecorder(s.audits, audit.WithRecorderLogger(logger))
	s.Require().NoError(err)

	s.jwt = jwttoken.NewJWTService("test-key", "auditlog")
	s.service, err = New(users, s.jwt, rec, 2*time.Hour, WithLogger(logger))
	s.Require().NoError(err)

	s.ctx = requestcontext.WithClientMetadata(context.Background(), "10.1.1.1", "curl/8", "/api/login", "POST")
}

func (s *LoginSuite) events() []audit.Event {
	res, err := s.audits.Query(context.Background(), audit.Filter{}, audit.Page{Limit: 100})
	s.Require().NoError(err)
	return res.Logs
}

func (s *LoginSuite) TestSuccessfulLogin() {
	result, err := s.service.Login(s.ctx, "admin@example.com", "s3cret!")
	s.Require().NoError(err)
	s.Equal("admin", result.Role)

	claims, err := s.jwt.ValidateToken(result.Token)
	s.Require().NoError(err)
	s.Equal("admin@example.com", claims.Email)
	s.Equal("admin", claims.Role)

	events := s.events()
	s.Require().Len(events, 1)
	s.Equal(audit.EventLoginSuccess, events[0].EventType)
	s.Equal(audit.OutcomeSuccess, events[0].Outcome)
	s.Equal("admin@example.com", events[0].UserEmail)
	s.Equal("10.1.1.1", events[0].IPAddress)
}

func (s *LoginSuite) TestUnknownUser() {
	_, err := s.service.Login(s.ctx, "ghost@example.com", "whatever")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	events := s.events()
	s.Require().Len(events, 1)
	s.Equal(audit.EventLoginFailure, events[0].EventType)
	s.Equal("ghost@example.com", events[0].UserEmail)
	s.Empty(events[0].UserRole)
	s.JSONEq(`{"reason":"user_not_found"}`, string(events[0].Metadata))
}

func (s *LoginSuite) TestWrongPassword() {
	_, err := s.service.Login(s.ctx, "admin@example.com", "nope")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	events := s.events()
	s.Require().Len(events, 1)
	s.Equal(audit.EventLoginFailure, events[0].EventType)
	s.Equal("admin", events[0].UserRole)
	s.JSONEq(`{"reason":"wrong_password"}`, string(events[0].Metadata))
}

func (s *LoginSuite) TestRepeatedFailuresBecomeSuspicious() {
	for range audit.EmailFailureThreshold {
		_, err := s.service.Login(s.ctx, "admin@example.com", "nope")
		s.Require().Error(err)
	}

	events := s.events()
	s.Require().Len(events, audit.EmailFailureThreshold)
	s.True(events[0].Suspicious, "the threshold-th failure for one email is flagged")
	s.False(events[len(events)-1].Suspicious)
}

func (s *LoginSuite) TestMissingFields() {
	_, err := s.service.Login(s.ctx, "", "pw")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	_, err = s.service.Login(s.ctx, "admin@example.com", "")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	s.Empty(s.events(), "malformed requests are not login attempts")
}

func (s *LoginSuite) TestLogout() {
	s.Run("requires a principal", func() {
		err := s.service.Logout(s.ctx)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("records logout for the caller", func() {
		ctx := requestcontext.WithPrincipal(s.ctx, "admin@example.com", "admin")
		s.Require().NoError(s.service.Logout(ctx))

		events := s.events()
		s.Require().Len(events, 1)
		s.Equal(audit.EventLogout, events[0].EventType)
		s.Equal("admin@example.com", events[0].UserEmail)
		s.Equal("admin", events[0].UserRole)
	})
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, nil, nil, time.Hour)
	if err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}
