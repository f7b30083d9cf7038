package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Requests <= 0 {
		t.Error("Requests should be positive")
	}
	if cfg.Window <= 0 {
		t.Error("Window should be positive")
	}
	if cfg.Strategy == "" {
		t.Error("Strategy should not be empty")
	}
}

func TestNewDefaultsToMemory(t *testing.T) {
	limiter, err := New(&Config{Backend: "memory", Requests: 5, Window: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer limiter.Close()

	if _, ok := limiter.(*MemoryLimiter); !ok {
		t.Errorf("New() = %T, want *MemoryLimiter", limiter)
	}
}

func TestMemoryLimiter_Allow(t *testing.T) {
	cfg := &Config{
		Requests:        5,
		Window:          time.Second,
		Strategy:        "sliding_window",
		CleanupInterval: time.Minute,
	}
	limiter := NewMemoryLimiter(cfg)
	defer limiter.Close()

	ctx := context.Background()
	key := "api"

	// Первые 5 запросов разрешены
	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// Шестой - нет
	allowed, err := limiter.Allow(ctx, key)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("6th request should be denied")
	}
}

func TestMemoryLimiter_PerKeyIsolation(t *testing.T) {
	cfg := &Config{
		Requests:        1,
		Window:          time.Second,
		Strategy:        "sliding_window",
		CleanupInterval: time.Minute,
	}
	limiter := NewMemoryLimiter(cfg)
	defer limiter.Close()

	ctx := context.Background()

	if allowed, _ := limiter.Allow(ctx, "api"); !allowed {
		t.Error("first request to api should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, "api"); allowed {
		t.Error("second request to api should be denied")
	}
	// Лимит другого сервиса не тронут
	if allowed, _ := limiter.Allow(ctx, "payments"); !allowed {
		t.Error("first request to payments should be allowed")
	}
}

func TestMemoryLimiter_AllowN(t *testing.T) {
	cfg := &Config{
		Requests:        10,
		Window:          time.Second,
		Strategy:        "sliding_window",
		CleanupInterval: time.Minute,
	}
	limiter := NewMemoryLimiter(cfg)
	defer limiter.Close()

	ctx := context.Background()

	if allowed, _ := limiter.AllowN(ctx, "k", 5); !allowed {
		t.Error("5 requests should be allowed")
	}
	if allowed, _ := limiter.AllowN(ctx, "k", 5); !allowed {
		t.Error("another 5 requests should be allowed")
	}
	if allowed, _ := limiter.AllowN(ctx, "k", 1); allowed {
		t.Error("11th request should be denied")
	}
}

func TestMemoryLimiter_Reset(t *testing.T) {
	cfg := &Config{
		Requests:        1,
		Window:          time.Minute,
		Strategy:        "sliding_window",
		CleanupInterval: time.Minute,
	}
	limiter := NewMemoryLimiter(cfg)
	defer limiter.Close()

	ctx := context.Background()

	if allowed, _ := limiter.Allow(ctx, "k"); !allowed {
		t.Fatal("first request should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, "k"); allowed {
		t.Fatal("limit should be exhausted")
	}

	if err := limiter.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if allowed, _ := limiter.Allow(ctx, "k"); !allowed {
		t.Error("request after reset should be allowed")
	}
}

func TestMemoryLimiter_GetInfo(t *testing.T) {
	cfg := &Config{
		Requests:        3,
		Window:          time.Minute,
		Strategy:        "sliding_window",
		CleanupInterval: time.Minute,
	}
	limiter := NewMemoryLimiter(cfg)
	defer limiter.Close()

	ctx := context.Background()

	info, err := limiter.GetInfo(ctx, "k")
	if err != nil {
		t.Fatalf("GetInfo() error = %v", err)
	}
	if info.Remaining != 3 {
		t.Errorf("Remaining = %d, want 3", info.Remaining)
	}

	_, _ = limiter.Allow(ctx, "k")
	info, _ = limiter.GetInfo(ctx, "k")
	if info.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2", info.Remaining)
	}
}

func TestMemoryLimiter_WaitUnblocks(t *testing.T) {
	cfg := &Config{
		Requests:        1,
		Window:          100 * time.Millisecond,
		Strategy:        "sliding_window",
		CleanupInterval: time.Minute,
	}
	limiter := NewMemoryLimiter(cfg)
	defer limiter.Close()

	ctx := context.Background()

	if allowed, _ := limiter.Allow(ctx, "k"); !allowed {
		t.Fatal("first request should be allowed")
	}

	// Окно истекает - Wait должен вернуться без ошибки
	start := time.Now()
	if err := limiter.Wait(ctx, "k"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Wait() took too long")
	}
}

func TestMemoryLimiter_WaitCancelled(t *testing.T) {
	cfg := &Config{
		Requests:        1,
		Window:          time.Hour,
		Strategy:        "sliding_window",
		CleanupInterval: time.Minute,
	}
	limiter := NewMemoryLimiter(cfg)
	defer limiter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, _ = limiter.Allow(ctx, "k")

	if err := limiter.Wait(ctx, "k"); err == nil {
		t.Error("Wait() should fail on context cancellation")
	}
}

func TestMemoryLimiter_ClosedErrors(t *testing.T) {
	limiter := NewMemoryLimiter(nil)
	if err := limiter.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := limiter.Allow(context.Background(), "k"); err != ErrLimiterClosed {
		t.Errorf("Allow() after close = %v, want ErrLimiterClosed", err)
	}

	// Повторное закрытие безопасно
	if err := limiter.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestTokenBucketStrategy(t *testing.T) {
	cfg := &Config{
		Requests:        10,
		Window:          time.Second,
		Strategy:        "token_bucket",
		BurstSize:       5,
		CleanupInterval: time.Minute,
	}
	limiter := NewMemoryLimiter(cfg)
	defer limiter.Close()

	ctx := context.Background()

	// Бакет стартует полным: requests + burst
	allowed, err := limiter.AllowN(ctx, "k", 15)
	if err != nil {
		t.Fatalf("AllowN() error = %v", err)
	}
	if !allowed {
		t.Error("full bucket should allow requests+burst")
	}

	if allowed, _ := limiter.AllowN(ctx, "k", 5); allowed {
		t.Error("empty bucket should deny")
	}
}
