package kafkaconsumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/opendmis/map-session/internal/cache/keys"
	"github.com/opendmis/map-session/internal/cache/redisstore"
	"github.com/opendmis/map-session/internal/invalidation"
)

func newConsumer(t *testing.T) (*Consumer, *miniredis.Miniredis, *redisstore.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := zerolog.Nop()
	c := New(DefaultConfig([]string{"localhost:9092"}, "layer-catalog-events", "test"), &log, invalidation.NewPurger(store))
	return c, mr, store
}

func msg(t *testing.T, v any) *sarama.ConsumerMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "layer-catalog-events", Value: b}
}

func TestProcessOne_PurgesLayerState(t *testing.T) {
	c, mr, store := newConsumer(t)
	ctx := context.Background()

	_ = store.Set(ctx, keys.Catalog("UNKNOWN"), []byte("x"), 0)
	_ = store.Set(ctx, keys.GeoJSON("shelters", "src"), []byte("x"), 0)
	_ = store.Set(ctx, keys.GeoJSON("roads", "src"), []byte("x"), 0)

	ev := invalidation.Event{Version: 1, Op: "update", LayerName: "shelters", TS: time.Now()}
	if err := c.ProcessOne(ctx, msg(t, ev)); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	if mr.Exists(keys.Catalog("UNKNOWN")) || mr.Exists(keys.GeoJSON("shelters", "src")) {
		t.Fatal("TOC and changed-layer entries must be purged")
	}
	if !mr.Exists(keys.GeoJSON("roads", "src")) {
		t.Fatal("unrelated layer must survive")
	}
}

func TestProcessOne_RejectsBadPayloads(t *testing.T) {
	c, _, _ := newConsumer(t)
	ctx := context.Background()

	if err := c.ProcessOne(ctx, &sarama.ConsumerMessage{Value: []byte("not json")}); err == nil {
		t.Fatal("expected decode error")
	}

	bad := invalidation.Event{Version: 7, Op: "update", LayerName: "x", TS: time.Now()}
	if err := c.ProcessOne(ctx, msg(t, bad)); err == nil {
		t.Fatal("expected validation error")
	}
}
