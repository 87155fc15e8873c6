package retrievecache

import (
	"testing"

	"alexandria/internal/rag/retrieve"
)

func TestKeyIsDeterministicAndOptionSensitive(t *testing.T) {
	opts := retrieve.Options{Limit: 5, ContextMode: retrieve.ModeContextual}

	k1 := Key("books", "what is a monad", opts)
	k2 := Key("books", "what is a monad", opts)
	if k1 != k2 {
		t.Fatalf("expected identical inputs to produce identical keys, got %s vs %s", k1, k2)
	}

	if k3 := Key("books", "what is a monad", retrieve.Options{Limit: 10, ContextMode: retrieve.ModeContextual}); k3 == k1 {
		t.Fatalf("expected a different Limit to change the cache key")
	}

	if k4 := Key("other-collection", "what is a monad", opts); k4 == k1 {
		t.Fatalf("expected a different collection to change the cache key")
	}
}

func TestNilCacheIsANoop(t *testing.T) {
	var c *Cache
	if _, ok := c.Get(nil, "x"); ok {
		t.Fatalf("expected nil cache Get to always miss")
	}
	if err := c.Set(nil, "x", retrieve.Result{}); err != nil {
		t.Fatalf("expected nil cache Set to no-op, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("expected nil cache Close to no-op, got %v", err)
	}
}
