package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"auditlog/internal/audit"
	auditmemory "auditlog/internal/audit/store/memory"
	"auditlog/internal/auth"
	"auditlog/internal/auth/secrets"
	"auditlog/internal/auth/service"
	"auditlog/internal/auth/store/user"
	jwttoken "auditlog/internal/jwt_token"
	"auditlog/internal/ratelimit/middleware"
	"auditlog/internal/ratelimit/models"
	"auditlog/internal/ratelimit/store/bucket"
	authmw "auditlog/pkg/platform/middleware/auth"
	metadata "auditlog/pkg/platform/middleware/metadata"
	"auditlog/pkg/testutil"
)

type AuthHandlerSuite struct {
	suite.Suite
	audits *auditmemory.InMemoryStore
	router http.Handler
}

func TestAuthHandlerSuite(t *testing.T) {
	suite.Run(t, new(AuthHandlerSuite))
}

func (s *AuthHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	hash, err := secrets.Hash("s3cret!", bcrypt.MinCost)
	s.Require().NoError(err)
	users := user.New(auth.User{Email: "admin@example.com", Role: "admin", PasswordHash: hash})

	s.audits = auditmemory.NewInMemoryStore()
	rec, err := audit.NewRecorder(s.audits, audit.WithRecorderLogger(logger))
	s.Require().NoError(err)

	jwt := jwttoken.NewJWTService("test-key", "auditlog")
	svc, err := service.New(users, jwt, rec, time.Hour, service.WithLogger(logger))
	s.Require().NoError(err)

	limiter := middleware.New(bucket.NewInMemoryBucketStore(), rec, logger)
	authn := authmw.New(jwttoken.NewJWTServiceAdapter(jwt), rec, logger)

	r := chi.NewRouter()
	r.Use(metadata.ClientMetadata)
	New(svc, logger).Register(r,
		limiter.RateLimit(models.Rule{Name: "login", Limit: 3, Window: 15 * time.Minute, Audit: true}),
		authn.RequireAuth,
	)
	s.router = r
}

func (s *AuthHandlerSuite) post(path, body, token string) *httptest.ResponseRecorder {
	req := testutil.WithBearer(testutil.NewJSONRequest(http.MethodPost, path, body), token)
	return testutil.DoRequest(s.router, req)
}

func (s *AuthHandlerSuite) countEvents(kind audit.EventType) int {
	res, err := s.audits.Query(context.Background(), audit.Filter{EventType: kind}, audit.Page{Limit: 100})
	s.Require().NoError(err)
	return res.Total
}

func (s *AuthHandlerSuite) TestLoginAndLogout() {
	rec := s.post("/api/login", `{"email":"admin@example.com","password":"s3cret!"}`, "")
	s.Require().Equal(http.StatusOK, rec.Code)

	body := testutil.UnmarshalResponse[service.LoginResult](s.T(), rec)
	s.Equal("admin", body.Role)
	s.NotEmpty(body.Token)

	rec = s.post("/api/logout", "", body.Token)
	s.Equal(http.StatusOK, rec.Code)

	s.Equal(1, s.countEvents(audit.EventLoginSuccess))
	s.Equal(1, s.countEvents(audit.EventLogout))
}

func (s *AuthHandlerSuite) TestBadCredentials() {
	rec := s.post("/api/login", `{"email":"admin@example.com","password":"wrong"}`, "")
	testutil.AssertStatusAndError(s.T(), rec, http.StatusUnauthorized, "unauthorized")
	s.Equal(1, s.countEvents(audit.EventLoginFailure))
}

func (s *AuthHandlerSuite) TestMalformedBody() {
	s.Equal(http.StatusBadRequest, s.post("/api/login", `{`, "").Code)
	s.Equal(http.StatusBadRequest, s.post("/api/login", `{"email":"admin@example.com"}`, "").Code)
	s.Zero(s.countEvents(audit.EventLoginFailure))
}

func (s *AuthHandlerSuite) TestLogoutWithoutToken() {
	testutil.AssertStatusAndError(s.T(), s.post("/api/logout", "", ""), http.StatusUnauthorized, "unauthorized")
	s.Equal(1, s.countEvents(audit.EventUnauthorized))
}

func (s *AuthHandlerSuite) TestLoginIsRateLimited() {
	for range 3 {
		s.post("/api/login", `{"email":"admin@example.com","password":"wrong"}`, "")
	}
	rec := s.post("/api/login", `{"email":"admin@example.com","password":"s3cret!"}`, "")
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.Equal(1, s.countEvents(audit.EventRateLimited))
	s.Zero(s.countEvents(audit.EventLoginSuccess))
}
