package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/identity/domain"
	"kaldor-iiot/backend/internal/platform/logging"
	"kaldor-iiot/backend/internal/security"
	sessiondomain "kaldor-iiot/backend/internal/session/domain"
	userdomain "kaldor-iiot/backend/internal/user/domain"
)

// DefaultSessionTTL is how long a login session record is kept.
const DefaultSessionTTL = time.Hour

// ErrNotFound is returned by LoadIdentity when no active user matches the
// credentials. Unknown usernames and wrong passwords are not distinguished.
var ErrNotFound = errors.New("identity not found")

// LoginResult is a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Identity  domain.Identity
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByUsername(ctx context.Context, username string) (*userdomain.User, error)
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	Create(ctx context.Context, s *sessiondomain.Session) error
	Delete(ctx context.Context, userID string) error
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(id domain.Identity) (string, time.Time, error)
}

// AuthService implements password login and logout.
type AuthService struct {
	users      UserRepo
	sessions   SessionRepo
	hasher     *security.Hasher
	tokens     TokenIssuer
	sessionTTL time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. sessions
// may be nil, in which case no session records are kept.
func NewAuthService(users UserRepo, sessions SessionRepo, hasher *security.Hasher, tokens TokenIssuer, sessionTTL time.Duration, log *zap.Logger) *AuthService {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &AuthService{
		users:      users,
		sessions:   sessions,
		hasher:     hasher,
		tokens:     tokens,
		sessionTTL: sessionTTL,
		log:        logging.OrNop(log),
		now:        time.Now,
	}
}

// LoadIdentity returns the identity of the active user with username and
// password, or ErrNotFound.
func (s *AuthService) LoadIdentity(ctx context.Context, username, password string) (domain.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.Identity{}, ErrNotFound
	}
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return domain.Identity{}, err
	}
	if u == nil || u.Status != userdomain.UserStatusActive || u.PasswordHash == "" {
		_ = s.hasher.CompareMissing([]byte(password))
		return domain.Identity{}, ErrNotFound
	}
	if err := s.hasher.Compare(u.PasswordHash, []byte(password)); err != nil {
		return domain.Identity{}, ErrNotFound
	}
	return u.Identity(), nil
}

// Login verifies credentials, issues a session token and records the session.
// A session store failure is logged and does not fail the login.
func (s *AuthService) Login(ctx context.Context, username, password, ip string) (*LoginResult, error) {
	id, err := s.LoadIdentity(ctx, username, password)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.tokens.Issue(id)
	if err != nil {
		return nil, err
	}
	if s.sessions != nil {
		now := s.now().UTC()
		sess := &sessiondomain.Session{
			UserID:    id.SubjectID,
			Username:  id.DisplayName,
			IPAddress: ip,
			CreatedAt: now,
			ExpiresAt: now.Add(s.sessionTTL),
		}
		if err := s.sessions.Create(ctx, sess); err != nil {
			s.log.Warn("auth: session store failed", zap.String("user_id", id.SubjectID), zap.Error(err))
		}
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Identity: id}, nil
}

// Logout removes the session record of userID. Issued tokens stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if s.sessions == nil || userID == "" {
		return nil
	}
	return s.sessions.Delete(ctx, userID)
}
