package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"auditlog/internal/audit"
	"auditlog/internal/auth"
	"auditlog/internal/auth/secrets"
	dErrors "auditlog/pkg/domain-errors"
	"auditlog/pkg/platform/sentinel"
	"auditlog/pkg/requestcontext"
)

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (auth.User, error)
}

type TokenIssuer interface {
	GenerateAccessToken(email, role string, expiresIn time.Duration) (string, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Failure reasons carried in LOGIN_FAILURE metadata.
const (
	ReasonUserNotFound  = "user_not_found"
	ReasonWrongPassword = "wrong_password"
)

// LoginResult is returned on a successful login.
type LoginResult struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

// Service checks credentials, issues tokens, and records each attempt.
type Service struct {
	users    UserStore
	tokens   TokenIssuer
	recorder AuditRecorder
	tokenTTL time.Duration
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(users UserStore, tokens TokenIssuer, recorder AuditRecorder, tokenTTL time.Duration, opts ...Option) (*Service, error) {
	if users == nil || tokens == nil || recorder == nil {
		return nil, errors.New("users, token issuer and recorder are required")
	}
	if tokenTTL <= 0 {
		return nil, errors.New("token TTL must be positive")
	}
	s := &Service{
		users:    users,
		tokens:   tokens,
		recorder: recorder,
		tokenTTL: tokenTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login verifies email and password. Unknown users and wrong passwords both
// return the same unauthorized error; only the audit record tells them apart.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if email == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.record(ctx, audit.Entry{
			EventType: audit.EventLoginFailure,
			Outcome:   audit.OutcomeFailure,
			UserEmail: email,
			Metadata:  audit.MetadataOf(map[string]string{"reason": ReasonUserNotFound}),
		})
		return nil, invalidCredentials()
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user")
	}

	if err := secrets.Verify(password, user.PasswordHash); err != nil {
		if !errors.Is(err, secrets.ErrMismatch) {
			s.logger.ErrorContext(ctx, "password verification failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		s.record(ctx, audit.Entry{
			EventType: audit.EventLoginFailure,
			Outcome:   audit.OutcomeFailure,
			UserEmail: user.Email,
			UserRole:  user.Role,
			Metadata:  audit.MetadataOf(map[string]string{"reason": ReasonWrongPassword}),
		})
		return nil, invalidCredentials()
	}

	token, err := s.tokens.GenerateAccessToken(user.Email, user.Role, s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}

	s.record(ctx, audit.Entry{
		EventType: audit.EventLoginSuccess,
		Outcome:   audit.OutcomeSuccess,
		UserEmail: user.Email,
		UserRole:  user.Role,
	})
	return &LoginResult{Token: token, Role: user.Role}, nil
}

// Logout records the caller's logout. Tokens are stateless; the client
// discards its copy.
func (s *Service) Logout(ctx context.Context) error {
	p, ok := requestcontext.PrincipalFrom(ctx)
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	s.record(ctx, audit.Entry{
		EventType: audit.EventLogout,
		Outcome:   audit.OutcomeSuccess,
		UserEmail: p.Email,
		UserRole:  p.Role,
	})
	return nil
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if err := s.recorder.Record(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to record auth event",
			"event_type", entry.EventType,
			"error", err,
		)
	}
}

func invalidCredentials() error {
	return dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
}
