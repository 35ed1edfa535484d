package querysource_test

import (
	"context"
	"testing"

	"github.com/Sternrassler/query-metrics/pkg/querycount"
	"github.com/Sternrassler/query-metrics/pkg/querysource"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func setupMiniRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 1})
	client.AddHook(querysource.NewRedisHook("cache", zerolog.Nop()))
	t.Cleanup(func() { _ = client.Close() })

	// Establish the connection outside any scope so handshake commands are
	// not attributed to a test counter.
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("Failed to ping miniredis: %v", err)
	}
	return client
}

func TestRedisHook_Commands(t *testing.T) {
	client := setupMiniRedis(t)

	ctx, counter := querycount.Open(context.Background())
	if err := client.Set(ctx, "user:1", "alice", 0).Err(); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	_ = client.Get(ctx, "user:1").Err()
	_ = client.Get(ctx, "user:1").Err()
	_ = client.Get(ctx, "user:2").Err() // redis.Nil still counts as a query
	counter.Close()

	if got := counter.TotalQueryCountByAlias()["cache"]; got != 4 {
		t.Errorf("count = %d, want 4", got)
	}
	if got := counter.TotalDuplicateCountByAlias()["cache"]; got != 1 {
		t.Errorf("duplicates = %d, want 1", got)
	}
	if got := counter.Events()[1].Identity; got != "get user:1" {
		t.Errorf("identity = %q, want %q", got, "get user:1")
	}
}

func TestRedisHook_Pipeline(t *testing.T) {
	client := setupMiniRedis(t)

	ctx, counter := querycount.Open(context.Background())
	_, err := client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, "hits")
		p.Incr(ctx, "hits")
		p.Get(ctx, "hits")
		return nil
	})
	if err != nil {
		t.Fatalf("Pipelined failed: %v", err)
	}
	counter.Close()

	if got := counter.TotalQueryCountByAlias()["cache"]; got != 3 {
		t.Errorf("count = %d, want 3", got)
	}
	if got := counter.TotalDuplicateCountByAlias()["cache"]; got != 1 {
		t.Errorf("duplicates = %d, want 1", got)
	}
}

func TestRedisHook_TxPipelineSkipsWrapper(t *testing.T) {
	client := setupMiniRedis(t)

	ctx, counter := querycount.Open(context.Background())
	for _, key := range []string{"a", "b"} {
		_, err := client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Incr(ctx, key)
			return nil
		})
		if err != nil {
			t.Fatalf("TxPipelined(%s) failed: %v", key, err)
		}
	}
	counter.Close()

	if got := counter.TotalQueryCountByAlias()["cache"]; got != 2 {
		t.Errorf("count = %d, want 2", got)
	}
	if got := counter.TotalDuplicateCountByAlias()["cache"]; got != 0 {
		t.Errorf("duplicates = %d, want 0", got)
	}

	var identities []string
	for _, ev := range counter.Events() {
		identities = append(identities, ev.Identity)
	}
	if len(identities) != 2 || identities[0] != "incr a" || identities[1] != "incr b" {
		t.Errorf("identities = %v, want [incr a incr b]", identities)
	}
}

func TestRedisHook_NoScope(t *testing.T) {
	client := setupMiniRedis(t)

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Errorf("Set without scope failed: %v", err)
	}
}
