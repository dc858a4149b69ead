package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/visitor-analytics-go/internal/errors"
	"github.com/openclaw/visitor-analytics-go/internal/model"
	redisclient "github.com/openclaw/visitor-analytics-go/internal/redis"
	"github.com/openclaw/visitor-analytics-go/internal/util"
)

const (
	adminTokenIssuer  = "visitor-analytics"
	adminTokenSubject = "admin"

	DefaultStatsLimit = 20
	MaxStatsLimit     = 100
)

// AdminClaims are carried by admin bearer tokens.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenRevocations remembers logged-out token ids until they expire.
type TokenRevocations interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// StatsReader serves warehouse aggregates.
type StatsReader interface {
	TopPages(ctx context.Context, since time.Time, limit int) ([]model.PageStat, error)
	SectionDwell(ctx context.Context, pageName string, since time.Time) ([]model.SectionStat, error)
}

type AdminService struct {
	passwordHash string
	jwtSecret    []byte
	tokenTTL     time.Duration
	revocations  TokenRevocations
	stats        StatsReader
	clock        clock.Clock
}

func NewAdminService(
	passwordHash, jwtSecret string,
	tokenTTL time.Duration,
	revocations TokenRevocations,
	stats StatsReader,
	clk clock.Clock,
) *AdminService {
	if clk == nil {
		clk = clock.New()
	}
	return &AdminService{
		passwordHash: passwordHash,
		jwtSecret:    []byte(jwtSecret),
		tokenTTL:     tokenTTL,
		revocations:  revocations,
		stats:        stats,
		clock:        clk,
	}
}

func (s *AdminService) Enabled() bool {
	return s.passwordHash != "" && len(s.jwtSecret) > 0
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *AdminService) Login(ctx context.Context, password string) (*LoginResult, error) {
	if !s.Enabled() {
		return nil, apperrors.Unavailable("Admin not configured")
	}
	if password == "" || !util.CheckPasswordHash(password, s.passwordHash) {
		return nil, apperrors.Unauthorized("Invalid password")
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &AdminClaims{
		Role: adminTokenSubject,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    adminTokenIssuer,
			Subject:   adminTokenSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign admin token: %w", err)
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt}, nil
}

// ValidateToken parses a bearer token and rejects it when it is expired,
// forged, or revoked by a logout.
func (s *AdminService) ValidateToken(ctx context.Context, tokenString string) (*AdminClaims, error) {
	if !s.Enabled() {
		return nil, apperrors.Unavailable("Admin not configured")
	}

	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(adminTokenIssuer),
		jwt.WithSubject(adminTokenSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, apperrors.InvalidToken("Invalid or expired token").WithCause(err)
	}
	if claims.ID == "" {
		return nil, apperrors.InvalidToken("Token has no id")
	}

	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, apperrors.External("redis", err)
		}
		if revoked {
			return nil, apperrors.InvalidToken("Token has been revoked")
		}
	}

	return claims, nil
}

// Logout revokes the token for the rest of its lifetime.
func (s *AdminService) Logout(ctx context.Context, claims *AdminClaims) error {
	if s.revocations == nil || claims == nil || claims.ExpiresAt == nil {
		return nil
	}

	ttl := claims.ExpiresAt.Time.Sub(s.clock.Now())
	if ttl <= 0 {
		return nil
	}
	if err := s.revocations.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("revoke admin token: %w", err)
	}

	log.Debug().Str("tokenId", claims.ID).Dur("ttl", ttl).Msg("admin token revoked")
	return nil
}

func (s *AdminService) PageStats(ctx context.Context, days, limit int) ([]model.PageStat, error) {
	if s.stats == nil {
		return nil, apperrors.Unavailable("Analytics warehouse not configured")
	}
	if limit < 1 {
		limit = DefaultStatsLimit
	}
	if limit > MaxStatsLimit {
		limit = MaxStatsLimit
	}

	stats, err := s.stats.TopPages(ctx, s.since(days), limit)
	if err != nil {
		return nil, apperrors.External("clickhouse", err)
	}
	return stats, nil
}

func (s *AdminService) SectionStats(ctx context.Context, pageName string, days int) ([]model.SectionStat, error) {
	if s.stats == nil {
		return nil, apperrors.Unavailable("Analytics warehouse not configured")
	}
	if strings.TrimSpace(pageName) == "" {
		return nil, apperrors.MissingRequired("page")
	}

	stats, err := s.stats.SectionDwell(ctx, pageName, s.since(days))
	if err != nil {
		return nil, apperrors.External("clickhouse", err)
	}
	return stats, nil
}

// since converts a look-back window in days into a cutoff; 0 means all time.
func (s *AdminService) since(days int) time.Time {
	if days <= 0 {
		return time.Unix(0, 0).UTC()
	}
	return s.clock.Now().UTC().AddDate(0, 0, -days)
}

type redisTokenRevocations struct {
	client redis.Cmdable
}

func NewRedisTokenRevocations(client redis.Cmdable) TokenRevocations {
	return &redisTokenRevocations{client: client}
}

func (r *redisTokenRevocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	return r.client.Set(ctx, redisclient.RevokedTokenKey(tokenID), 1, ttl).Err()
}

func (r *redisTokenRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, redisclient.RevokedTokenKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
