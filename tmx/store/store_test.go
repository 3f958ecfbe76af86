package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestMemoryStoreValues(t *testing.T) {
	t.Log("\n🔍 Testing MemoryStore values...")

	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.SetValueWithTTL(ctx, "tmx:snapshot:a", "1", 60); err != nil {
		t.Fatalf("❌ SetValueWithTTL failed: %v", err)
	}
	if err := s.SetValue(ctx, "other", "2"); err != nil {
		t.Fatalf("❌ SetValue failed: %v", err)
	}

	v, err := s.GetValue(ctx, "tmx:snapshot:a")
	if err != nil || v != "1" {
		t.Errorf("❌ Expected value 1, got %q (%v)", v, err)
	}
	if _, err := s.GetValue(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("❌ Expected ErrNotFound, got %v", err)
	}

	if ttl, _ := s.GetTTL(ctx, "tmx:snapshot:a"); ttl != 60 {
		t.Errorf("❌ Expected ttl 60, got %d", ttl)
	}
	if ttl, _ := s.GetTTL(ctx, "other"); ttl != -1 {
		t.Errorf("❌ Expected ttl -1, got %d", ttl)
	}
	if ttl, _ := s.GetTTL(ctx, "missing"); ttl != -2 {
		t.Errorf("❌ Expected ttl -2, got %d", ttl)
	}

	keys, err := s.ListKeys(ctx, "tmx:snapshot:*")
	if err != nil {
		t.Fatalf("❌ ListKeys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "tmx:snapshot:a" {
		t.Errorf("❌ Unexpected keys %v", keys)
	}

	if err := s.DeleteValue(ctx, "tmx:snapshot:a"); err != nil {
		t.Fatalf("❌ DeleteValue failed: %v", err)
	}
	if _, err := s.GetValue(ctx, "tmx:snapshot:a"); err == nil {
		t.Error("❌ Expected deleted key to be gone")
	}

	t.Log("✅ MemoryStore values test passed")
}

func TestMemoryStoreLists(t *testing.T) {
	t.Log("\n🔍 Testing MemoryStore lists...")

	ctx := context.Background()
	s := NewMemoryStore()

	n, err := s.AppendList(ctx, "scanlog:abc", "a", "b")
	if err != nil || n != 2 {
		t.Fatalf("❌ Expected length 2, got %d (%v)", n, err)
	}
	n, _ = s.AppendList(ctx, "scanlog:abc", "c")
	if n != 3 {
		t.Errorf("❌ Expected length 3, got %d", n)
	}

	cases := []struct {
		start, stop int64
		want        string
	}{
		{0, -1, "[a b c]"},
		{1, 1, "[b]"},
		{-2, -1, "[b c]"},
		{0, 10, "[a b c]"},
		{5, 6, "[]"},
	}
	for _, tc := range cases {
		got, err := s.ListRange(ctx, "scanlog:abc", tc.start, tc.stop)
		if err != nil {
			t.Fatalf("❌ ListRange failed: %v", err)
		}
		if fmt.Sprint(got) != tc.want {
			t.Errorf("❌ ListRange(%d,%d) = %v, expected %s", tc.start, tc.stop, got, tc.want)
		}
	}

	if got, _ := s.ListRange(ctx, "scanlog:none", 0, -1); len(got) != 0 {
		t.Errorf("❌ Expected empty range, got %v", got)
	}

	t.Log("✅ MemoryStore lists test passed")
}

func TestValkeyStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("TMX_TEST_VALKEY_ADDR")
	if addr == "" {
		t.Skip("TMX_TEST_VALKEY_ADDR not set")
	}
	t.Log("\n🔍 Testing Valkey store round trip...")

	s, err := NewValkeyStore(&Config{Addr: addr})
	if err != nil {
		t.Fatalf("❌ Failed to connect: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	key := fmt.Sprintf("tmx:test:%d", time.Now().UnixNano())
	defer s.DeleteValue(ctx, key)

	if _, err := s.AppendList(ctx, key, "one", "two"); err != nil {
		t.Fatalf("❌ AppendList failed: %v", err)
	}
	if err := s.SetExpire(ctx, key, 30); err != nil {
		t.Fatalf("❌ SetExpire failed: %v", err)
	}
	got, err := s.ListRange(ctx, key, 0, -1)
	if err != nil {
		t.Fatalf("❌ ListRange failed: %v", err)
	}
	if len(got) != 2 || got[1] != "two" {
		t.Errorf("❌ Unexpected list %v", got)
	}
	if ttl, _ := s.GetTTL(ctx, key); ttl <= 0 {
		t.Errorf("❌ Expected positive ttl, got %d", ttl)
	}

	t.Log("✅ Valkey store round trip test passed")
}
