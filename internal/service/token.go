package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/taskloop/auth-service/internal/storage"
	"github.com/taskloop/auth-service/internal/util"
)

var (
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrTokenMalformed       = errors.New("token is malformed")
	ErrTokenRevoked         = errors.New("token revoked")
	ErrInvalidSigningMethod = errors.New("invalid signing method")
)

const accessTokenType = "access"

// AccessClaims is the full claim set of an access token. The sid claim
// carries the lineage ID of the session that issued the token, so session
// endpoints know the caller's current session without a store lookup.
type AccessClaims struct {
	UserID    string `json:"uid"`
	TokenType string `json:"token_type"`
	LineageID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies access tokens and generates opaque
// refresh secrets. It holds no per-user state; rotating JwtSecretKey
// invalidates every outstanding access token at once.
type TokenService struct {
	JwtSecretKey []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	tokenStorage storage.TokenStorage
	now          func() time.Time
}

func NewTokenService(cfg *util.TokenConfig, tokenStorage storage.TokenStorage) *TokenService {
	return NewTokenServiceWithClock(cfg, tokenStorage, time.Now)
}

// NewTokenServiceWithClock injects the clock used for issuance and expiry
// checks. Production wiring uses time.Now; clock-driven tests substitute
// their own.
func NewTokenServiceWithClock(cfg *util.TokenConfig, tokenStorage storage.TokenStorage, now func() time.Time) *TokenService {
	return &TokenService{
		JwtSecretKey: cfg.JwtSecretKey,
		accessTTL:    cfg.AccessTTL,
		refreshTTL:   cfg.RefreshTTL,
		tokenStorage: tokenStorage,
		now:          now,
	}
}

func (ts *TokenService) AccessTTL() time.Duration  { return ts.accessTTL }
func (ts *TokenService) RefreshTTL() time.Duration { return ts.refreshTTL }

// CreateAccessToken создает HS512 signed access токен с новым JTI
func (ts *TokenService) CreateAccessToken(userID, lineageID string) (string, string, error) {
	now := ts.now()
	jti := uuid.NewString()
	claims := &AccessClaims{
		UserID:    userID,
		TokenType: accessTokenType,
		LineageID: lineageID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.accessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signedToken, err := token.SignedString(ts.JwtSecretKey)
	if err != nil {
		return "", "", fmt.Errorf("signed string: %w", err)
	}

	return signedToken, jti, nil
}

// ValidateAccessToken verifies signature, expiry and token type using only
// the signing secret and the clock. It never touches storage.
func (ts *TokenService) ValidateAccessToken(token string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(util.JWTLeeWay),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	}

	parsedToken, err := jwt.ParseWithClaims(
		token,
		&AccessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS512.Alg() {
				return nil, ErrInvalidSigningMethod
			}
			return ts.JwtSecretKey, nil
		},
		opts...,
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
	}

	if parsedToken == nil || !parsedToken.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsedToken.Claims.(*AccessClaims)
	if !ok || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != accessTokenType {
		return nil, fmt.Errorf("%w: unexpected token type", ErrTokenInvalid)
	}

	return claims, nil
}

// CreateRefreshSecret generates the opaque refresh credential. The raw
// form selector.verifier goes to the client; only the selector and the
// SHA-256 of the verifier are ever stored.
func (ts *TokenService) CreateRefreshSecret() (token, selector, verifierHash string, err error) {
	rawToken := make([]byte, util.RawTokenLength)
	if _, err = rand.Read(rawToken); err != nil {
		return "", "", "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	selector = base64.RawURLEncoding.EncodeToString(rawToken[:16])
	verifier := base64.RawURLEncoding.EncodeToString(rawToken[16:])

	hashedVerifierBytes := sha256.Sum256([]byte(verifier))
	verifierHash = hex.EncodeToString(hashedVerifierBytes[:])

	token = selector + "." + verifier

	return token, selector, verifierHash, nil
}

// SelectorFromSecret extracts the lookup half of a raw refresh secret.
func (ts *TokenService) SelectorFromSecret(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != util.TokenPartsExpected {
		return "", errors.New("invalid token format")
	}
	return parts[0], nil
}

func (ts *TokenService) VerifyRefreshSecret(token, verifierHash string) error {
	parts := strings.Split(token, ".")
	if len(parts) != util.TokenPartsExpected {
		return errors.New("invalid token format")
	}

	verifier := parts[1]

	hashedVerifierBytes, err := hex.DecodeString(verifierHash)
	if err != nil {
		return fmt.Errorf("failed to decode stored hash: %w", err)
	}

	newHashBytes := sha256.Sum256([]byte(verifier))

	if subtle.ConstantTimeCompare(newHashBytes[:], hashedVerifierBytes) != 1 {
		return errors.New("invalid refresh token")
	}

	return nil
}

// InvalidateAccessToken puts the token on the denylist for its remaining
// lifetime. Used by logout; the hardened middleware checks the list.
func (ts *TokenService) InvalidateAccessToken(ctx context.Context, accessToken string) error {
	claims, err := ts.getClaimsFromToken(accessToken)
	if err != nil {
		return fmt.Errorf("get claims from token: %w", err)
	}

	expiration := claims.ExpiresAt.Sub(ts.now())
	if expiration <= 0 {
		return nil
	}

	if err := ts.tokenStorage.InvalidateToken(ctx, accessToken, expiration); err != nil {
		return fmt.Errorf("invalidate token: %w", err)
	}
	return nil
}

func (ts *TokenService) IsAccessTokenInvalidated(ctx context.Context, accessToken string) (bool, error) {
	isInvalidated, err := ts.tokenStorage.IsTokenInvalidated(ctx, accessToken)
	if err != nil {
		return false, fmt.Errorf("is token invalidated: %w", err)
	}
	return isInvalidated, nil
}

func (ts *TokenService) getClaimsFromToken(token string) (*AccessClaims, error) {
	parsedToken, _, err := new(jwt.Parser).ParseUnverified(token, &AccessClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}

	claims, ok := parsedToken.Claims.(*AccessClaims)
	if !ok || claims.ExpiresAt == nil {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
