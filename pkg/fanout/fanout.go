// Package fanout issues replica fetches in parallel and feeds the
// responses into a collector as they arrive. It decides how long to
// wait; the collector decides what the answers mean.
package fanout

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vjranagit/tsgather/pkg/collector"
	"github.com/vjranagit/tsgather/pkg/types"
)

const (
	// DefaultPerReplicaTimeout bounds each replica fetch.
	DefaultPerReplicaTimeout = 2 * time.Second
)

// FetchFunc retrieves one replica's report. It returns the report and
// the logical key index for each of its series. The context carries
// the per-fetch deadline.
type FetchFunc func(ctx context.Context, replica int) (*types.ReplicaReport, []int, error)

// Fetch binds a fetch function to the replica index it reports for.
// Several fetches may target the same replica (hedged requests against
// a backup endpoint); the collector's duplicate handling makes the
// extra delivery a no-op.
type Fetch struct {
	Replica int
	Fn      FetchFunc
}

// Options controls a fan-out run.
type Options struct {
	// PerReplicaTimeout bounds each individual fetch. Zero means
	// DefaultPerReplicaTimeout.
	PerReplicaTimeout time.Duration

	// CancelOnComplete stops outstanding fetches once the collector
	// reports the first full copy of the result set.
	CancelOnComplete bool

	// Logger for per-replica outcomes. Nil means no logging.
	Logger *zap.Logger
}

// Stats summarizes one fan-out run.
type Stats struct {
	// Reports and Failures partition the fetches; cancelled
	// stragglers count as failures.
	Reports  int
	Failures int

	// Complete is true if the result set reached full attendance
	// during the run.
	Complete bool
}

// Execute runs every fetch in parallel and merges each response into
// coll. A fetch failure is counted and logged but never aborts the
// others; cancellation of ctx stops the run. Execute returns once
// every fetch has finished or been cancelled. The caller finalizes
// the collector afterwards.
func Execute(ctx context.Context, coll *collector.Collector, fetches []Fetch, opts Options) Stats {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.PerReplicaTimeout
	if timeout <= 0 {
		timeout = DefaultPerReplicaTimeout
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, len(fetches))
	completed := make(chan struct{}, 1)

	g, gCtx := errgroup.WithContext(runCtx)
	for _, f := range fetches {
		f := f
		g.Go(func() error {
			fetchCtx, fetchCancel := context.WithTimeout(gCtx, timeout)
			defer fetchCancel()

			report, indices, err := f.Fn(fetchCtx, f.Replica)
			if err != nil {
				logger.Warn("Replica fetch failed",
					zap.Int("replica", f.Replica),
					zap.Error(err))
				results <- err
				return nil
			}

			done, err := coll.AddResults(report, indices, f.Replica)
			if err != nil {
				logger.Warn("Replica report rejected",
					zap.Int("replica", f.Replica),
					zap.Error(err))
				results <- err
				return nil
			}

			logger.Debug("Replica report merged",
				zap.Int("replica", f.Replica),
				zap.Int("series", len(report.Series)))
			results <- nil
			if done {
				select {
				case completed <- struct{}{}:
				default:
				}
				if opts.CancelOnComplete {
					cancel()
				}
			}
			return nil
		})
	}
	g.Wait()
	close(results)

	var stats Stats
	for err := range results {
		if err != nil {
			stats.Failures++
		} else {
			stats.Reports++
		}
	}
	select {
	case <-completed:
		stats.Complete = true
	default:
	}
	return stats
}
