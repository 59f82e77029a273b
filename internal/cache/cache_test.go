package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedis_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	c, err := OpenRedis(ctx, "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("OpenRedis error: %v", err)
	}
	defer c.Close()

	if _, ok, err := c.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "k", []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(got) != `{"a":1}` {
		t.Fatalf("Get = %q ok=%v err=%v", got, ok, err)
	}
	if !mr.Exists("kbyg:k") {
		t.Fatal("expected prefixed key in redis")
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected key to expire")
	}
}

func TestOpenRedis_Errors(t *testing.T) {
	if _, err := OpenRedis(context.Background(), "not a url"); err == nil {
		t.Fatal("expected parse error")
	}
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := OpenRedis(context.Background(), "redis://"+addr); err == nil {
		t.Fatal("expected ping error for closed server")
	}
}

func TestKey(t *testing.T) {
	a := Key("event", "https://x", "acme")
	if a != Key("event", "https://x", "acme") {
		t.Fatal("key should be deterministic")
	}
	if a == Key("event", "https://xacme") {
		t.Fatal("parts must be separated")
	}
	if len(a) != len("event:")+64 {
		t.Fatalf("unexpected key length: %d", len(a))
	}
}
