package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestGetSetDel(t *testing.T) {
	rc, _ := newMini(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, ok, err := rc.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}

	if err := rc.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := rc.Get(ctx, "k1")
	if err != nil || !ok || string(got) != "v1" {
		t.Fatalf("Get k1: %q ok=%v err=%v", got, ok, err)
	}

	if err := rc.Del(ctx, "k1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := rc.Get(ctx, "k1"); ok {
		t.Fatal("k1 should be gone after Del")
	}
}

func TestDelPrefix(t *testing.T) {
	rc, mr := newMini(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	seed := map[string]string{
		"geojson:shelters:s=a": "1",
		"geojson:shelters:s=b": "2",
		"geojson:roads:s=a":    "3",
		"toc:PREPAREDNESS":     "4",
	}
	for k, v := range seed {
		if err := rc.Set(ctx, k, []byte(v), 0); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	removed, err := rc.DelPrefix(ctx, "geojson:shelters:")
	if err != nil {
		t.Fatalf("DelPrefix: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed=%d want 2", removed)
	}
	if mr.Exists("geojson:shelters:s=a") || mr.Exists("geojson:shelters:s=b") {
		t.Fatal("prefixed keys survived DelPrefix")
	}
	if !mr.Exists("geojson:roads:s=a") || !mr.Exists("toc:PREPAREDNESS") {
		t.Fatal("unrelated keys must survive DelPrefix")
	}
}

func TestDelPrefix_NoMatches(t *testing.T) {
	rc, _ := newMini(t)
	ctx := context.Background()
	removed, err := rc.DelPrefix(ctx, "legend:")
	if err != nil {
		t.Fatalf("DelPrefix: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed=%d want 0", removed)
	}
}
