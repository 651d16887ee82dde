package ristretto

import (
	"context"
	"testing"
	"time"
)

func TestCacheRoundTrip(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "k1", []byte(`{"tier":"cheap"}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	c.c.Wait()

	got, ok, err := c.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != `{"tier":"cheap"}` {
		t.Errorf("value = %s", got)
	}

	if err := c.Delete(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	c.c.Wait()
	if _, ok, _ := c.Get(ctx, "k1"); ok {
		t.Error("value survived delete")
	}
}

func TestCacheMiss(t *testing.T) {
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()

	if _, ok, err := c.Get(context.Background(), "absent"); ok || err != nil {
		t.Errorf("get absent: ok=%v err=%v", ok, err)
	}
}
