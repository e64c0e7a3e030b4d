package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"

	"github.com/promise-app-team/promise-api-sub000/metrics"
)

var (
	// ErrMissingToken is returned when a connect carries no token.
	ErrMissingToken = errors.New("missing authentication token")
	// ErrInvalidToken is returned for tokens that fail validation.
	ErrInvalidToken = errors.New("invalid authentication token")
	// ErrRevokedToken is returned for tokens on the revocation list.
	ErrRevokedToken = errors.New("token has been revoked")
)

// Claims are the JWT claims issued by the API. The subject is the user id;
// the 'jti' is used for revocation.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTResolver resolves the user id behind a connect request by validating
// its JWT.
type JWTResolver struct {
	secret        []byte
	revocationKey string
	redisClient   *redis.Client
	log           *slog.Logger
}

// NewJWTResolver creates a resolver. A nil redis client disables the
// revocation check.
func NewJWTResolver(secret, revocationKey string, redisClient *redis.Client, log *slog.Logger) *JWTResolver {
	return &JWTResolver{
		secret:        []byte(secret),
		revocationKey: revocationKey,
		redisClient:   redisClient,
		log:           log,
	}
}

// Resolve validates the token and returns its subject.
func (v *JWTResolver) Resolve(ctx context.Context, tokenString string) (string, error) {
	claims, err := v.validate(ctx, tokenString)
	if err != nil {
		return "", err
	}
	metrics.AuthSuccess.Inc()
	return claims.Subject, nil
}

func (v *JWTResolver) validate(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		metrics.AuthFailures.WithLabelValues("missing").Inc()
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		// Covers parsing errors, bad signatures and expired tokens.
		metrics.AuthFailures.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		metrics.AuthFailures.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidToken
	}

	revoked, err := v.isTokenRevoked(ctx, claims.ID)
	if err != nil {
		// Fail open: a Redis outage must not block every connect.
		v.log.Error("failed to check token revocation", "error", err)
	}
	if revoked {
		metrics.AuthFailures.WithLabelValues("revoked").Inc()
		return nil, ErrRevokedToken
	}

	return claims, nil
}

// isTokenRevoked checks if a token ID (JTI) is in the Redis revocation list.
func (v *JWTResolver) isTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if v.redisClient == nil {
		return false, nil
	}
	if jti == "" {
		v.log.Warn("token is missing 'jti' claim, cannot check for revocation")
		return false, nil
	}

	key := fmt.Sprintf("%s:%s", v.revocationKey, jti)
	exists, err := v.redisClient.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis command failed: %w", err)
	}
	return exists == 1, nil
}

// Passthrough trusts the caller and takes the token as the user id. Used
// when auth is disabled.
type Passthrough struct{}

func (Passthrough) Resolve(_ context.Context, token string) (string, error) {
	return token, nil
}
