package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const testPrefix = "rl:test:"

// newTestLimiter connects to a local Redis instance and clears the test keys.
// Tests that call this helper require a running Redis on localhost:6379.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, testPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewLimiter(client, zerolog.Nop())
}

func TestAllow_UpToLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Name: "test", Key: testPrefix, Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "alice", rule)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, err := l.Allow(ctx, "alice", rule)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Error("fourth request should be rate limited")
	}

	// Other identifiers have their own budget.
	if ok, _ := l.Allow(ctx, "bob", rule); !ok {
		t.Error("bob should not share alice's budget")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Name: "test", Key: testPrefix, Limit: 5, Window: time.Minute}

	n, err := l.Remaining(ctx, "carol", rule)
	if err != nil || n != 5 {
		t.Fatalf("expected full budget, got %d (%v)", n, err)
	}
	l.Allow(ctx, "carol", rule)
	l.Allow(ctx, "carol", rule)
	if n, _ := l.Remaining(ctx, "carol", rule); n != 3 {
		t.Errorf("expected 3 remaining, got %d", n)
	}
}

func TestWindowExpires(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Name: "test", Key: testPrefix, Limit: 1, Window: time.Second}

	l.Allow(ctx, "dave", rule)
	if ok, _ := l.Allow(ctx, "dave", rule); ok {
		t.Fatal("second request inside the window should be limited")
	}
	time.Sleep(1100 * time.Millisecond)
	if ok, _ := l.Allow(ctx, "dave", rule); !ok {
		t.Error("request after the window should be allowed")
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	ok, err := l.Allow(context.Background(), "anyone", RuleCodeNow)
	if !ok || err != nil {
		t.Errorf("nil limiter must allow, got %v, %v", ok, err)
	}
	if n, _ := l.Remaining(context.Background(), "anyone", RuleCodeNow); n != RuleCodeNow.Limit {
		t.Errorf("nil limiter must report the full budget, got %d", n)
	}
}

func TestFailsOpenWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	l := NewLimiter(client, zerolog.Nop())

	ok, err := l.Allow(context.Background(), "erin", RuleAffinities)
	if !ok {
		t.Error("limiter must fail open")
	}
	if err == nil {
		t.Error("expected the redis error to be reported")
	}
}
