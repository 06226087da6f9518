package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCacheSetGet(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("got %q, want %q", val, "value1")
	}
}

func TestLRUCacheMiss(t *testing.T) {
	c := NewLRUCache(10)

	val, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil for missing key, got %q", val)
	}
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "ephemeral", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	val, err := c.Get(ctx, "ephemeral")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected expired entry to be gone, got %q", val)
	}
}

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache(3)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("key%d", i)
		if err := c.Set(ctx, key, []byte(key), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	// Oldest entry is evicted at capacity.
	val, err := c.Get(ctx, "key0")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Error("expected key0 to be evicted")
	}

	if size, capacity := c.Stats(); size != 3 || capacity != 3 {
		t.Errorf("Stats() = (%d, %d), want (3, 3)", size, capacity)
	}
}

func TestLRUCacheRecentUseSurvivesEviction(t *testing.T) {
	c := NewLRUCache(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("key%d", i)
		if err := c.Set(ctx, key, []byte(key), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	// Touch the oldest entry, then push one more.
	if _, err := c.Get(ctx, "key0"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := c.Set(ctx, "key3", []byte("key3"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "key0")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val == nil {
		t.Error("recently used key0 should have survived eviction")
	}
	val, err = c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Error("least recently used key1 should have been evicted")
	}
}

func TestLRUCacheDelete(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "key", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Delete(ctx, "key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	val, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Error("expected key to be deleted")
	}
}

func TestLRUCacheUpdateExisting(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "key", []byte("old"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Set(ctx, "key", []byte("new"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "new" {
		t.Errorf("got %q, want %q", val, "new")
	}
	if size, _ := c.Stats(); size != 1 {
		t.Errorf("expected a single entry after update, got %d", size)
	}
}

func TestPredictionRoundTrip(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	want := &domain.PredictionResult{
		TransactionID: "tx-1",
		Label:         domain.LabelFraud,
		Confidence:    0.93,
		Fraud:         true,
	}
	if err := c.SetPrediction(ctx, "tx-1", want, time.Minute); err != nil {
		t.Fatalf("SetPrediction failed: %v", err)
	}

	got, err := c.GetPrediction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetPrediction failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached prediction")
	}
	if *got != *want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestPredictionMiss(t *testing.T) {
	c := NewLRUCache(10)

	got, err := c.GetPrediction(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("GetPrediction failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for uncached prediction, got %+v", got)
	}
}

func TestNewMemoryCache(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 5, LocalTTL: time.Minute})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "v" {
		t.Errorf("got %q, want %q", val, "v")
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewUnknownCacheType(t *testing.T) {
	if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unknown cache type")
	}
}
