package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskloop/auth-service/internal/models"
	"github.com/taskloop/auth-service/internal/storage/memory"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct-password-123"
)

var testMeta = models.UserMetadata{UserAgent: "test-agent", IPAddress: "10.0.0.1"}

type authFixture struct {
	svc    *AuthService
	tokens *TokenService
	store  *memory.Storage
	clock  *fakeClock
	userID string
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	// The in-memory store filters expired sessions against the wall
	// clock, so the fixture clock starts there too.
	clock := newFakeClock(time.Now())
	tokens := newTestTokenService("test-secret", clock)
	store := memory.NewStorage()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user, err := store.CreateUser(context.Background(), testEmail, string(hash))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	svc := NewAuthService(tokens, store, nil, nil, zap.NewNop().Sugar())
	return &authFixture{svc: svc, tokens: tokens, store: store, clock: clock, userID: user.ID}
}

func (f *authFixture) login(t *testing.T) *models.TokenPair {
	t.Helper()
	pair, err := f.svc.Login(context.Background(), testEmail, testPassword, testMeta)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return pair
}

func (f *authFixture) lineageOf(t *testing.T, accessToken string) string {
	t.Helper()
	claims, err := f.tokens.ValidateAccessToken(accessToken)
	if err != nil {
		t.Fatalf("validate access token: %v", err)
	}
	return claims.LineageID
}

func TestLoginIssuesVerifiablePair(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.login(t)

	claims, err := f.tokens.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("access token should verify: %v", err)
	}
	if claims.UserID != f.userID {
		t.Errorf("subject mismatch: %q vs %q", claims.UserID, f.userID)
	}
	if pair.RefreshToken == "" {
		t.Fatal("expected refresh secret")
	}
	if pair.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Errorf("unexpected expiresIn %d", pair.ExpiresIn)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), testEmail, "wrong-password", testMeta)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	_, err = f.svc.Login(context.Background(), "nobody@example.com", testPassword, testMeta)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRawSecretNeverPersisted(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.login(t)

	selector, err := f.tokens.SelectorFromSecret(pair.RefreshToken)
	if err != nil {
		t.Fatalf("selector: %v", err)
	}
	rec, ok := f.store.Record(selector)
	if !ok {
		t.Fatal("record not stored")
	}

	verifier := strings.Split(pair.RefreshToken, ".")[1]
	for name, field := range map[string]string{
		"selector":      rec.Selector,
		"verifier_hash": rec.VerifierHash,
		"id":            rec.ID,
	} {
		if strings.Contains(field, verifier) {
			t.Errorf("stored field %s leaks the raw verifier", name)
		}
	}
}

func TestRefreshIsSingleUse(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.login(t)

	next, err := f.svc.Refresh(context.Background(), pair.RefreshToken, testMeta)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh secret was not rotated")
	}

	// Replaying the consumed secret is theft: the whole lineage dies.
	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken, testMeta)
	if !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected ErrTokenReuseDetected, got %v", err)
	}

	// Including the freshly rotated secret.
	_, err = f.svc.Refresh(context.Background(), next.RefreshToken, testMeta)
	if !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected lineage to be dead, got %v", err)
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	f := newAuthFixture(t)

	for _, secret := range []string{"", "no-separator", "unknown.verifier"} {
		_, err := f.svc.Refresh(context.Background(), secret, testMeta)
		if !errors.Is(err, ErrInvalidRefreshToken) {
			t.Errorf("secret %q: expected ErrInvalidRefreshToken, got %v", secret, err)
		}
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.login(t)

	f.clock.Advance(30*24*time.Hour + time.Minute)

	_, err := f.svc.Refresh(context.Background(), pair.RefreshToken, testMeta)
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken for expired secret, got %v", err)
	}
}

func TestRefreshWrongVerifier(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.login(t)

	selector, _ := f.tokens.SelectorFromSecret(pair.RefreshToken)
	_, err := f.svc.Refresh(context.Background(), selector+".forged-verifier", testMeta)
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}

	// A forged verifier must not consume the real secret.
	if _, err := f.svc.Refresh(context.Background(), pair.RefreshToken, testMeta); err != nil {
		t.Fatalf("legitimate refresh after forge attempt: %v", err)
	}
}

func TestLogoutRevokesOnlyOwnLineage(t *testing.T) {
	f := newAuthFixture(t)
	deviceA := f.login(t)
	deviceB := f.login(t)

	lineageA := f.lineageOf(t, deviceA.AccessToken)
	if err := f.svc.Logout(context.Background(), f.userID, lineageA, deviceA.AccessToken); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := f.svc.Refresh(context.Background(), deviceA.RefreshToken, testMeta); err == nil {
		t.Fatal("device A refresh should fail after logout")
	}

	if _, err := f.svc.Refresh(context.Background(), deviceB.RefreshToken, testMeta); err != nil {
		t.Fatalf("device B session should survive device A logout: %v", err)
	}

	// Logged-out access token is denylisted for its remaining lifetime.
	invalidated, err := f.tokens.IsAccessTokenInvalidated(context.Background(), deviceA.AccessToken)
	if err != nil {
		t.Fatalf("denylist check: %v", err)
	}
	if !invalidated {
		t.Error("access token should be denylisted after logout")
	}
}

func TestListSessionsMarksCurrent(t *testing.T) {
	f := newAuthFixture(t)
	f.login(t)
	deviceB := f.login(t)

	lineageB := f.lineageOf(t, deviceB.AccessToken)
	sessions, err := f.svc.ListSessions(context.Background(), f.userID, lineageB)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	current := 0
	for _, s := range sessions {
		if s.IsCurrent {
			current++
			if s.ID != lineageB {
				t.Errorf("wrong session marked current: %s", s.ID)
			}
		}
	}
	if current != 1 {
		t.Fatalf("expected exactly one current session, got %d", current)
	}
}

func TestRevokeSessionForbidsCurrent(t *testing.T) {
	f := newAuthFixture(t)
	deviceA := f.login(t)
	deviceB := f.login(t)

	lineageA := f.lineageOf(t, deviceA.AccessToken)
	lineageB := f.lineageOf(t, deviceB.AccessToken)

	err := f.svc.RevokeSession(context.Background(), f.userID, lineageA, lineageA)
	if !errors.Is(err, ErrRevokeCurrentSession) {
		t.Fatalf("expected ErrRevokeCurrentSession, got %v", err)
	}

	if err := f.svc.RevokeSession(context.Background(), f.userID, lineageB, lineageA); err != nil {
		t.Fatalf("revoke other session: %v", err)
	}

	if _, err := f.svc.Refresh(context.Background(), deviceB.RefreshToken, testMeta); err == nil {
		t.Fatal("revoked session should not refresh")
	}
	if _, err := f.svc.Refresh(context.Background(), deviceA.RefreshToken, testMeta); err != nil {
		t.Fatalf("caller's own session should survive: %v", err)
	}
}

func TestGlobalRevokeKillsEveryLineage(t *testing.T) {
	f := newAuthFixture(t)
	pairs := []*models.TokenPair{f.login(t), f.login(t), f.login(t)}

	if err := f.svc.RevokeAllForUser(context.Background(), f.userID, models.RevokeReasonPasswordReset); err != nil {
		t.Fatalf("global revoke: %v", err)
	}

	for i, pair := range pairs {
		if _, err := f.svc.Refresh(context.Background(), pair.RefreshToken, testMeta); err == nil {
			t.Errorf("lineage %d should be dead after global revoke", i)
		}
	}

	sessions, err := f.svc.ListSessions(context.Background(), f.userID, "")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no live sessions, got %d", len(sessions))
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.login(t)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), pair.RefreshToken, testMeta)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	fail := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if errors.Is(err, ErrTokenReuseDetected) || errors.Is(err, ErrInvalidRefreshToken) {
			fail++
			continue
		}
		t.Fatalf("unexpected refresh error: %v", err)
	}

	if success != 1 {
		t.Fatalf("expected exactly one refresh success, got %d", success)
	}
	if fail != n-1 {
		t.Fatalf("expected %d refresh failures, got %d", n-1, fail)
	}
}

func TestReuseRetainsAuditRecords(t *testing.T) {
	f := newAuthFixture(t)
	pair := f.login(t)

	next, err := f.svc.Refresh(context.Background(), pair.RefreshToken, testMeta)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), pair.RefreshToken, testMeta); !errors.Is(err, ErrTokenReuseDetected) {
		t.Fatalf("expected reuse detection, got %v", err)
	}

	// Revoked rows stay in the store with the revocation reason.
	selector, _ := f.tokens.SelectorFromSecret(next.RefreshToken)
	rec, ok := f.store.Record(selector)
	if !ok {
		t.Fatal("rotated head should be retained after revocation")
	}
	if rec.Status != models.SessionStatusRevoked {
		t.Fatalf("expected revoked status, got %s", rec.Status)
	}
	if rec.RevokedReason != models.RevokeReasonReuseDetected {
		t.Fatalf("expected reuse_detected reason, got %q", rec.RevokedReason)
	}
}
