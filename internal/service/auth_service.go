package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cqbot/cqbot-backend/internal/config"
	"github.com/cqbot/cqbot-backend/internal/model"
)

// Common auth errors.
var (
	ErrNotAuthenticated   = errors.New("upstream session is not authenticated")
	ErrSessionInvalidated = errors.New("session invalidated")
	ErrNoActiveSession    = errors.New("no active session")
)

// IdentityProvider is the upstream identity surface the auth layer needs.
type IdentityProvider interface {
	Me(ctx context.Context, cookie string) (model.Identity, error)
	Logout(ctx context.Context, cookie string) error
}

// Claims extends JWT standard claims with the gateway identity fields.
type Claims struct {
	jwt.RegisteredClaims
	Login        string `json:"login"`
	IsInstructor bool   `json:"is_instructor,omitempty"`
}

// AuthService exchanges upstream platform sessions for gateway JWTs and
// tracks the active session per user in Redis.
type AuthService struct {
	cfg      *config.Config
	rdb      *redis.Client
	identity IdentityProvider
	log      zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client, identity IdentityProvider, log zerolog.Logger) *AuthService {
	return &AuthService{
		cfg:      cfg,
		rdb:      rdb,
		identity: identity,
		log:      log.With().Str("component", "auth").Logger(),
	}
}

// ResolveIdentity asks the upstream identity service who the cookie belongs
// to. Any failure degrades to the anonymous identity rather than an error;
// an unreachable identity service must not take the gateway down with it.
func (s *AuthService) ResolveIdentity(ctx context.Context, cookie string) model.Identity {
	identity, err := s.identity.Me(ctx, cookie)
	if err != nil {
		s.log.Warn().Err(err).Msg("Identity check failed, treating as anonymous")
		return model.Anonymous()
	}
	return identity
}

// EstablishSession exchanges an authenticated upstream cookie for a gateway
// JWT and registers the session in Redis. A newer session replaces any
// existing one; the old token stops validating.
func (s *AuthService) EstablishSession(ctx context.Context, cookie string) (string, model.Identity, error) {
	identity := s.ResolveIdentity(ctx, cookie)
	if !identity.Authenticated {
		return "", identity, ErrNotAuthenticated
	}

	jti := uuid.New().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   identity.Login,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		Login:        identity.Login,
		IsInstructor: identity.IsInstructor,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", identity, fmt.Errorf("sign token: %w", err)
	}

	// Store session with the same expiry as the JWT.
	sessionKey := config.CacheKey.SessionKey(identity.Login)
	if err := s.rdb.Set(ctx, sessionKey, jti, s.cfg.JWTExpiry).Err(); err != nil {
		return "", identity, fmt.Errorf("store session: %w", err)
	}

	s.log.Info().Str("login", identity.Login).Bool("instructor", identity.IsInstructor).
		Msg("Session established")
	return signed, identity, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// ValidateSession checks that the token's JTI matches the active session in
// Redis.
func (s *AuthService) ValidateSession(ctx context.Context, login, jti string) error {
	stored, err := s.rdb.Get(ctx, config.CacheKey.SessionKey(login)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNoActiveSession
		}
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// Logout removes the gateway session and tells the upstream identity
// service to end its own. The upstream call is best-effort; the local
// session dies either way.
func (s *AuthService) Logout(ctx context.Context, login, cookie string) error {
	if err := s.identity.Logout(ctx, cookie); err != nil {
		s.log.Warn().Err(err).Str("login", login).Msg("Upstream logout failed")
	}
	return s.rdb.Del(ctx, config.CacheKey.SessionKey(login)).Err()
}
