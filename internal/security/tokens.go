package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"kaldor-iiot/backend/internal/identity/domain"
)

// Verification failures. Callers surface all three as Unauthenticated and may
// log the specific one.
var (
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token is expired")
	ErrMalformed        = errors.New("token is malformed")
)

// DefaultTTL is the session token lifetime.
const DefaultTTL = 24 * time.Hour

// SessionClaims holds JWT claims for a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
	Perimeter int      `json:"perimeter"`
}

// TokenService issues and verifies session tokens. It holds no per-token state.
type TokenService struct {
	key    SigningKey
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService returns a TokenService that signs with key. A non-positive
// ttl falls back to DefaultTTL.
func NewTokenService(key SigningKey, issuer string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenService{
		key:    key,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces the time source used for issue and expiry checks.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for id that expires TTL from now.
func (s *TokenService) Issue(id domain.Identity) (token string, expiresAt time.Time, err error) {
	if err := id.Validate(); err != nil {
		return "", time.Time{}, err
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	// JWT dates carry whole seconds; truncate so expiresAt matches the exp claim.
	now := s.now().UTC().Truncate(time.Second)
	expiresAt = now.Add(s.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   id.SubjectID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username:  id.DisplayName,
		Roles:     id.Roles,
		Perimeter: id.Perimeter,
	}
	token, err = jwt.NewWithClaims(s.key.method, claims).SignedString(s.key.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify checks signature, expiry and required claims and returns the embedded
// identity. A token stays valid through the instant it expires and is
// rejected once now is past expiresAt. It returns ErrInvalidSignature,
// ErrExpired or ErrMalformed and never panics on untrusted input.
func (s *TokenService) Verify(tokenString string) (domain.Identity, error) {
	claims := &SessionClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.key.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.key.verifyKey, nil
	})
	if err != nil {
		return domain.Identity{}, classify(err)
	}
	if claims.ExpiresAt == nil {
		return domain.Identity{}, ErrMalformed
	}
	if s.now().After(claims.ExpiresAt.Time) {
		return domain.Identity{}, ErrExpired
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return domain.Identity{}, ErrMalformed
	}
	id := domain.Identity{
		SubjectID:   claims.Subject,
		DisplayName: claims.Username,
		Roles:       claims.Roles,
		Perimeter:   claims.Perimeter,
	}
	if id.Validate() != nil {
		return domain.Identity{}, ErrMalformed
	}
	return id, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrMalformed
	}
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
