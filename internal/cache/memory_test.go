package cache

import (
	"testing"
	"time"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache[string](time.Minute)
	defer c.Close()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", "alpha")
	if v, ok := c.Get("a"); !ok || v != "alpha" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("expected entry to be expired")
	}

	c.purge()
	if c.Size() != 0 {
		t.Errorf("expected purge to drop expired entries, size = %d", c.Size())
	}

	c.Set("b", "beta")
	c.Delete("b")
	if _, ok := c.Get("b"); ok {
		t.Error("expected deleted entry to be gone")
	}
}
