package fanout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vjranagit/tsgather/pkg/collector"
	"github.com/vjranagit/tsgather/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fullReport(keys int, value float64) (*types.ReplicaReport, []int) {
	rep := &types.ReplicaReport{Series: make([]types.Series, keys)}
	indices := make([]int, keys)
	for k := 0; k < keys; k++ {
		rep.Series[k] = types.Series{{Timestamp: int64(k + 1), Value: value}}
		indices[k] = k
	}
	return rep, indices
}

func fastFetch(keys int) FetchFunc {
	return func(ctx context.Context, replica int) (*types.ReplicaReport, []int, error) {
		rep, indices := fullReport(keys, 1)
		return rep, indices, nil
	}
}

func TestExecuteMergesAllReplicas(t *testing.T) {
	const keys, replicas = 4, 3

	coll, err := collector.New(keys, replicas, 0, 1000)
	require.NoError(t, err)

	fetches := make([]Fetch, replicas)
	for r := 0; r < replicas; r++ {
		fetches[r] = Fetch{Replica: r, Fn: fastFetch(keys)}
	}

	stats := Execute(context.Background(), coll, fetches, Options{})
	assert.Equal(t, replicas, stats.Reports)
	assert.Equal(t, 0, stats.Failures)
	assert.True(t, stats.Complete)

	res, err := coll.Finalize(true, nil)
	require.NoError(t, err)
	assert.True(t, res.AllSuccess)
	for k := 0; k < keys; k++ {
		assert.Len(t, res.Results[k], 1)
	}
}

func TestExecuteToleratesReplicaFailure(t *testing.T) {
	const keys, replicas = 2, 3

	coll, err := collector.New(keys, replicas, 0, 1000)
	require.NoError(t, err)

	fetches := []Fetch{
		{Replica: 0, Fn: fastFetch(keys)},
		{Replica: 1, Fn: func(ctx context.Context, replica int) (*types.ReplicaReport, []int, error) {
			return nil, nil, errors.New("connection refused")
		}},
		{Replica: 2, Fn: fastFetch(keys)},
	}

	stats := Execute(context.Background(), coll, fetches, Options{})
	assert.Equal(t, 2, stats.Reports)
	assert.Equal(t, 1, stats.Failures)
	assert.False(t, stats.Complete)

	res, err := coll.Finalize(false, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.False(t, res.AllSuccess, "one replica never reported")
	assert.Len(t, res.Results[0], 1, "surviving replicas still produce data")
}

func TestExecuteCancelsHedgedFetchOnComplete(t *testing.T) {
	const keys, replicas = 2, 2

	coll, err := collector.New(keys, replicas, 0, 1000)
	require.NoError(t, err)

	backupCancelled := make(chan struct{})
	fetches := []Fetch{
		{Replica: 0, Fn: fastFetch(keys)},
		{Replica: 1, Fn: fastFetch(keys)},
		// Hedged backup for replica 1; should be cancelled once the
		// two primaries assemble a full copy.
		{Replica: 1, Fn: func(ctx context.Context, replica int) (*types.ReplicaReport, []int, error) {
			defer close(backupCancelled)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(10 * time.Second):
				rep, indices := fullReport(keys, 1)
				return rep, indices, nil
			}
		}},
	}

	start := time.Now()
	stats := Execute(context.Background(), coll, fetches, Options{CancelOnComplete: true})
	<-backupCancelled

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 2, stats.Reports)
	assert.Equal(t, 1, stats.Failures, "cancelled backup counts as failure")
	assert.True(t, stats.Complete)

	res, err := coll.Finalize(true, nil)
	require.NoError(t, err)
	assert.True(t, res.AllSuccess)
}

func TestExecutePerFetchTimeout(t *testing.T) {
	const keys = 1

	coll, err := collector.New(keys, 2, 0, 1000)
	require.NoError(t, err)

	stragglerDone := make(chan struct{})
	fetches := []Fetch{
		{Replica: 0, Fn: fastFetch(keys)},
		{Replica: 1, Fn: func(ctx context.Context, replica int) (*types.ReplicaReport, []int, error) {
			defer close(stragglerDone)
			<-ctx.Done()
			return nil, nil, ctx.Err()
		}},
	}

	stats := Execute(context.Background(), coll, fetches, Options{
		PerReplicaTimeout: 50 * time.Millisecond,
	})
	<-stragglerDone
	assert.Equal(t, 1, stats.Reports)
	assert.Equal(t, 1, stats.Failures)
	assert.False(t, stats.Complete)

	res, err := coll.Finalize(false, nil)
	require.NoError(t, err)
	assert.False(t, res.AllSuccess)
}

func TestExecuteParentCancellation(t *testing.T) {
	coll, err := collector.New(1, 1, 0, 1000)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := Execute(ctx, coll, []Fetch{
		{Replica: 0, Fn: func(ctx context.Context, replica int) (*types.ReplicaReport, []int, error) {
			<-ctx.Done()
			return nil, nil, ctx.Err()
		}},
	}, Options{})
	assert.Equal(t, 1, stats.Failures)
	assert.False(t, stats.Complete)
}
