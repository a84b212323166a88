package redis

import (
	"context"
	"testing"
	"time"

	"github.com/osvaldoandrade/netdemo/pkg/domain"
	"github.com/osvaldoandrade/netdemo/pkg/persistence"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisPluginFromProviderConfig(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()

	plugin, err := persistence.NewPersistence(
		persistence.ProviderConfig{Type: "redis", Config: []byte(`{"addr":"` + mr.Addr() + `"}`)},
		persistence.PluginConfig{Retention: time.Minute},
	)
	if err != nil {
		t.Fatalf("NewPersistence: %v", err)
	}
	defer plugin.Close()

	ctx := context.Background()
	if err := plugin.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if plugin.Backend() != "redis" {
		t.Fatalf("backend = %s", plugin.Backend())
	}
	store := plugin.JobStorage()
	if err := store.Submit(ctx, domain.NewJob("j1", "d", nil, time.Now())); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestRedisPluginRequiresAddr(t *testing.T) {
	_, err := NewPlugin(persistence.PluginConfig{Config: []byte(`{}`)})
	if err == nil {
		t.Fatalf("expected error without addr")
	}
}

func TestRedisPluginHealthFailsWhenDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	plugin, err := NewPlugin(persistence.PluginConfig{Config: []byte(`{"addr":"` + addr + `"}`)})
	if err != nil {
		t.Fatalf("NewPlugin: %v", err)
	}
	defer plugin.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := plugin.Health(ctx); err == nil {
		t.Fatalf("expected health error")
	}
}
