package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskloop/auth-service/internal/storage/memory"
	"github.com/taskloop/auth-service/internal/util"
)

// fakeClock is a settable clock shared between issuance and validation.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTokenService(secret string, clock *fakeClock) *TokenService {
	cfg := &util.TokenConfig{
		JwtSecretKey: []byte(secret),
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   30 * 24 * time.Hour,
	}
	return NewTokenServiceWithClock(cfg, memory.NewTokenManager(), clock.Now)
}

func TestAccessTokenValidUntilExpiry(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ts := newTestTokenService("test-secret", clock)

	token, jti, err := ts.CreateAccessToken("user-1", "lineage-1")
	if err != nil {
		t.Fatalf("create access token: %v", err)
	}
	if jti == "" {
		t.Fatal("expected non-empty jti")
	}

	claims, err := ts.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate fresh token: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("expected userID user-1, got %q", claims.UserID)
	}
	if claims.LineageID != "lineage-1" {
		t.Errorf("expected lineageID lineage-1, got %q", claims.LineageID)
	}

	// Still valid just inside the leeway window.
	clock.Advance(15*time.Minute + util.JWTLeeWay - time.Second)
	if _, err := ts.ValidateAccessToken(token); err != nil {
		t.Fatalf("token should be valid within leeway: %v", err)
	}

	// Dead once leeway is exhausted.
	clock.Advance(2 * time.Second)
	_, err = ts.ValidateAccessToken(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestAccessTokenBadSignature(t *testing.T) {
	clock := newFakeClock(time.Now())
	issuer := newTestTokenService("secret-a", clock)
	verifier := newTestTokenService("secret-b", clock)

	token, _, err := issuer.CreateAccessToken("user-1", "lineage-1")
	if err != nil {
		t.Fatalf("create access token: %v", err)
	}

	_, err = verifier.ValidateAccessToken(token)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestAccessTokenMalformed(t *testing.T) {
	clock := newFakeClock(time.Now())
	ts := newTestTokenService("test-secret", clock)

	for _, token := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		_, err := ts.ValidateAccessToken(token)
		if !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("token %q: expected ErrTokenMalformed, got %v", token, err)
		}
	}
}

func TestAccessTokenRejectsWrongType(t *testing.T) {
	clock := newFakeClock(time.Now())
	ts := newTestTokenService("test-secret", clock)

	claims := &AccessClaims{
		UserID:    "user-1",
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(ts.JwtSecretKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	_, err = ts.ValidateAccessToken(token)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for non-access token, got %v", err)
	}
}

func TestAccessTokenRejectsUnsignedAlg(t *testing.T) {
	clock := newFakeClock(time.Now())
	ts := newTestTokenService("test-secret", clock)

	claims := &AccessClaims{
		UserID:    "user-1",
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := ts.ValidateAccessToken(token); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func TestRefreshSecretRoundTrip(t *testing.T) {
	clock := newFakeClock(time.Now())
	ts := newTestTokenService("test-secret", clock)

	raw, selector, verifierHash, err := ts.CreateRefreshSecret()
	if err != nil {
		t.Fatalf("create refresh secret: %v", err)
	}

	gotSelector, err := ts.SelectorFromSecret(raw)
	if err != nil {
		t.Fatalf("selector from secret: %v", err)
	}
	if gotSelector != selector {
		t.Errorf("selector mismatch: %q vs %q", gotSelector, selector)
	}

	if err := ts.VerifyRefreshSecret(raw, verifierHash); err != nil {
		t.Fatalf("verify refresh secret: %v", err)
	}

	// The stored hash must not reveal the verifier.
	parts := strings.Split(raw, ".")
	if strings.Contains(verifierHash, parts[1]) {
		t.Error("verifier hash contains the raw verifier")
	}

	if err := ts.VerifyRefreshSecret(parts[0]+".tampered", verifierHash); err == nil {
		t.Error("expected tampered verifier to fail")
	}
	if err := ts.VerifyRefreshSecret("noseparator", verifierHash); err == nil {
		t.Error("expected malformed secret to fail")
	}
}

func TestRefreshSecretsAreUnique(t *testing.T) {
	clock := newFakeClock(time.Now())
	ts := newTestTokenService("test-secret", clock)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		raw, _, _, err := ts.CreateRefreshSecret()
		if err != nil {
			t.Fatalf("create refresh secret: %v", err)
		}
		if _, dup := seen[raw]; dup {
			t.Fatal("duplicate refresh secret generated")
		}
		seen[raw] = struct{}{}
	}
}

func TestInvalidateAccessToken(t *testing.T) {
	clock := newFakeClock(time.Now())
	ts := newTestTokenService("test-secret", clock)

	token, _, err := ts.CreateAccessToken("user-1", "lineage-1")
	if err != nil {
		t.Fatalf("create access token: %v", err)
	}

	invalidated, err := ts.IsAccessTokenInvalidated(context.Background(), token)
	if err != nil {
		t.Fatalf("check denylist: %v", err)
	}
	if invalidated {
		t.Fatal("fresh token should not be denylisted")
	}

	if err := ts.InvalidateAccessToken(context.Background(), token); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	invalidated, err = ts.IsAccessTokenInvalidated(context.Background(), token)
	if err != nil {
		t.Fatalf("check denylist: %v", err)
	}
	if !invalidated {
		t.Fatal("token should be denylisted after logout")
	}
}
