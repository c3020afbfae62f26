package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type stubAttemptStore struct {
	trimErr   error
	count     int
	countErr  error
	oldest    time.Time
	hasOldest bool
	oldestErr error
	recordErr error

	recordCalls int
	lastKey     string
}

func (s *stubAttemptStore) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	s.lastKey = identifier
	return s.trimErr
}

func (s *stubAttemptStore) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	return s.count, s.countErr
}

func (s *stubAttemptStore) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	s.recordCalls++
	return s.recordErr
}

func (s *stubAttemptStore) OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	return s.oldest, s.hasOldest, s.oldestErr
}

func loginRouter(t *testing.T, store *stubAttemptStore, now time.Time, rule RateLimitRule) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })

	router := gin.New()
	router.POST("/api/v1/auth/login", limiter.RateLimit(rule), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func fixedIdentifier(id string) func(*gin.Context) (string, bool) {
	return func(*gin.Context) (string, bool) { return id, true }
}

func TestLoginRateLimitUnderThreshold(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	oldest := now.Add(-45 * time.Second)

	store := &stubAttemptStore{count: 3, oldest: oldest, hasOldest: true}
	router := loginRouter(t, store, now, RateLimitRule{
		Name:       "auth_login_ip",
		Limit:      10,
		Window:     time.Minute,
		Identifier: fixedIdentifier("203.0.113.7"),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if store.recordCalls != 1 {
		t.Fatalf("expected one recorded attempt, got %d", store.recordCalls)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Fatalf("limit header = %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "6" {
		t.Fatalf("remaining header = %q", got)
	}
	wantReset := strconv.FormatInt(oldest.Add(time.Minute).Unix(), 10)
	if got := rr.Header().Get("X-RateLimit-Reset"); got != wantReset {
		t.Fatalf("reset header = %q, want %s", got, wantReset)
	}
	if got := rr.Header().Get("Retry-After"); got != "" {
		t.Fatalf("unexpected Retry-After header %q", got)
	}
}

func TestLoginRateLimitAtThreshold(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	oldest := now.Add(-45 * time.Second)

	store := &stubAttemptStore{count: 10, oldest: oldest, hasOldest: true}
	router := loginRouter(t, store, now, RateLimitRule{
		Name:       "auth_login_ip",
		Limit:      10,
		Window:     time.Minute,
		Identifier: fixedIdentifier("203.0.113.7"),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if store.recordCalls != 0 {
		t.Fatalf("blocked request must not be recorded, got %d calls", store.recordCalls)
	}
	if got := rr.Header().Get("Retry-After"); got != "15" {
		t.Fatalf("Retry-After = %q, want 15", got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem body: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests {
		t.Fatalf("problem status = %d", problem.Status)
	}
	if problem.RetryAfter != 15 {
		t.Fatalf("problem retry_after = %d, want 15", problem.RetryAfter)
	}
}

func TestLoginRateLimitFailsOpenWhenStoreDown(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	store := &stubAttemptStore{trimErr: errors.New("connection refused")}
	router := loginRouter(t, store, now, RateLimitRule{
		Name:       "auth_login_ip",
		Limit:      10,
		Window:     time.Minute,
		Identifier: fixedIdentifier("203.0.113.7"),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected fail-open 200, got %d", rr.Code)
	}
	if store.recordCalls != 0 {
		t.Fatalf("expected no recorded attempts, got %d", store.recordCalls)
	}
}

func TestLoginRateLimitSkipsWhenIdentifierAbsent(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	store := &stubAttemptStore{count: 100}
	router := loginRouter(t, store, now, RateLimitRule{
		Name:       "auth_login_ip",
		Limit:      10,
		Window:     time.Minute,
		Identifier: func(*gin.Context) (string, bool) { return "", false },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 when identifier is absent, got %d", rr.Code)
	}
	if store.recordCalls != 0 {
		t.Fatalf("expected store untouched, got %d record calls", store.recordCalls)
	}
}
