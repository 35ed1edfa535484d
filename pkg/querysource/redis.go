package querysource

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Sternrassler/query-metrics/pkg/querycount"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisHook reports go-redis commands to the current query counter.
// Pipelined commands are reported one event each, sharing the pipeline's
// elapsed time split evenly. The MULTI/EXEC wrapper of a transaction is not
// reported.
type RedisHook struct {
	alias  string
	logger zerolog.Logger
}

// NewRedisHook creates a hook reporting commands under alias.
func NewRedisHook(alias string, logger zerolog.Logger) *RedisHook {
	return &RedisHook{alias: alias, logger: logger}
}

// DialHook implements redis.Hook. Dials are not queries.
func (h *RedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

// ProcessHook implements redis.Hook.
func (h *RedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)

		if querycount.Current(ctx) != nil {
			report(ctx, h.logger, h.alias, commandIdentity(cmd), time.Since(start))
		}
		return err
	}
}

// ProcessPipelineHook implements redis.Hook.
func (h *RedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)

		if querycount.Current(ctx) == nil {
			return err
		}

		queries := make([]redis.Cmder, 0, len(cmds))
		for _, cmd := range cmds {
			if !isTxWrapper(cmd) {
				queries = append(queries, cmd)
			}
		}
		if len(queries) == 0 {
			return err
		}

		share := time.Since(start) / time.Duration(len(queries))
		for _, cmd := range queries {
			report(ctx, h.logger, h.alias, commandIdentity(cmd), share)
		}
		return err
	}
}

// isTxWrapper reports whether cmd is the MULTI or EXEC go-redis adds around
// a TxPipeline.
func isTxWrapper(cmd redis.Cmder) bool {
	switch strings.ToLower(cmd.Name()) {
	case "multi", "exec":
		return true
	}
	return false
}

// commandIdentity renders the command name and arguments, e.g. "get user:1".
func commandIdentity(cmd redis.Cmder) string {
	args := cmd.Args()
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprint(arg)
	}
	return strings.Join(parts, " ")
}

var _ redis.Hook = (*RedisHook)(nil)
