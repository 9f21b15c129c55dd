package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vjranagit/tsgather/internal/config"
	"github.com/vjranagit/tsgather/pkg/cache"
	"github.com/vjranagit/tsgather/pkg/client"
	"github.com/vjranagit/tsgather/pkg/collector"
	"github.com/vjranagit/tsgather/pkg/fanout"
	"github.com/vjranagit/tsgather/pkg/types"
)

const version = "0.1.0"

func main() {
	start := flag.Int64("start", 0, "window start (inclusive)")
	end := flag.Int64("end", 0, "window end (exclusive)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	keys := flag.Args()
	if len(keys) == 0 || *end <= *start {
		fmt.Fprintf(os.Stderr, "tsgather v%s\nusage: tsgather -start N -end N key [key...]\n", version)
		os.Exit(2)
	}

	zapCfg := zap.NewProductionConfig()
	if *verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, keys, *start, *end); err != nil {
		logger.Fatal("Query failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, keys []string, start, end int64) error {
	req := &types.ReadRequest{Keys: keys, Start: start, End: end}

	var resultCache *cache.ResultCache
	if cfg.Cache.Enabled {
		var err error
		resultCache, err = cache.New(cfg.ToCacheConfig())
		if err != nil {
			return fmt.Errorf("failed to open result cache: %w", err)
		}
		defer resultCache.Close()

		if res, ok := resultCache.Get(req); ok {
			logger.Info("Serving result from cache",
				zap.Int("keys", len(keys)),
				zap.Bool("all_success", res.AllSuccess))
			return printResult(res)
		}
	}

	coll, err := collector.New(len(keys), len(cfg.Replicas.Addrs), start, end)
	if err != nil {
		return err
	}

	fetches := make([]fanout.Fetch, len(cfg.Replicas.Addrs))
	for i, addr := range cfg.Replicas.Addrs {
		rc := client.NewReadClient(addr, 0, logger.With(zap.String("replica", cfg.Replicas.Names[i])))
		fetches[i] = fanout.Fetch{Replica: i, Fn: rc.FetchFunc(req)}
	}

	queryCtx, cancel := context.WithTimeout(ctx, cfg.Query.Timeout)
	defer cancel()

	stats := fanout.Execute(queryCtx, coll, fetches, fanout.Options{
		PerReplicaTimeout: cfg.Query.PerReplicaTimeout,
		CancelOnComplete:  cfg.Query.CancelOnComplete,
		Logger:            logger,
	})
	logger.Info("Fan-out finished",
		zap.Int("reports", stats.Reports),
		zap.Int("failures", stats.Failures),
		zap.Bool("complete", stats.Complete))

	drops := coll.Drops()
	for r, n := range drops {
		if n > 0 {
			logger.Warn("Replica missing keys",
				zap.String("replica", cfg.Replicas.Names[r]),
				zap.Int("missing_keys", n))
		}
	}

	res, err := coll.Finalize(cfg.Query.RequireComplete, cfg.Replicas.Names)
	if err != nil {
		return err
	}

	if resultCache != nil {
		if err := resultCache.Put(req, &res); err != nil {
			logger.Warn("Failed to cache result", zap.Error(err))
		}
	}

	return printResult(&res)
}

func printResult(res *types.GetResult) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
