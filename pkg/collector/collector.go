// Package collector reconciles partial, redundant and possibly
// conflicting read responses from independent replicas into a single
// merged result, tracking how much data was missing or contradictory
// per replica.
package collector

import (
	"math/bits"
	"strconv"
	"sync"

	"github.com/vjranagit/tsgather/pkg/types"
)

const (
	// MaxReplicas caps the replica count per query. The mismatch
	// table holds one counter per subset of the replica set, so its
	// size is 2^replicas; 20 keeps the worst case at 8 MiB.
	MaxReplicas = 20

	// Per-sample and per-key costs used for the memory estimate.
	bytesPerSample = 16
	bytesPerKey    = 64
)

// keyStats tracks which replicas have reported a given key.
// count == popcount(received) at all times.
type keyStats struct {
	count    uint32
	received uint32
}

// Collector accumulates replica reports for one query as they arrive
// from a concurrent fan-out. It is single-use: construct, feed via
// AddResults from any number of goroutines, then Finalize exactly once.
//
// To attribute mismatches quickly it uses memory exponential in the
// number of replicas; a typical deployment has no more than 3-5
// replicas of the data, so this is fine.
type Collector struct {
	begin, end int64

	// How many copies we're expecting for each key.
	numReplicas int

	mu sync.Mutex

	// Keys that do not yet have a contribution from every replica.
	remaining int

	stats   []keyStats
	results []types.Series

	// Sample-level value conflicts, indexed by the attendance bitmask
	// the key had before the disagreeing replica merged.
	mismatches []int64

	done bool
}

// New creates a collector for a query over `keys` series fanned out to
// `replicas` service instances, keeping only samples in [begin, end).
func New(keys, replicas int, begin, end int64) (*Collector, error) {
	if replicas < 1 || replicas > MaxReplicas {
		return nil, &CapacityError{Replicas: replicas, Max: MaxReplicas}
	}
	return &Collector{
		begin:       begin,
		end:         end,
		numReplicas: replicas,
		remaining:   keys,
		stats:       make([]keyStats, keys),
		results:     make([]types.Series, keys),
		mismatches:  make([]int64, 1<<uint(replicas)),
	}, nil
}

// AddResults merges one replica's report into the accumulated state.
// indices[j] is the logical key index of report.Series[j]. Returns
// true on the single call that completes the first full copy of the
// result set; every other call returns false.
//
// Keys already complete, and (key, replica) pairs already seen, are
// skipped, so duplicate delivery of a report is a no-op. Safe for
// concurrent use. After Finalize it does nothing.
func (c *Collector) AddResults(report *types.ReplicaReport, indices []int, replica int) (bool, error) {
	if replica < 0 || replica >= c.numReplicas {
		return false, &MalformedReportError{Reason: "replica index out of range"}
	}
	if len(indices) != len(report.Series) {
		return false, &MalformedReportError{Reason: "key index count does not match series count"}
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(c.stats) {
			return false, &MalformedReportError{Reason: "key index out of range"}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return false, nil
	}

	completed := false
	bit := uint32(1) << uint(replica)
	for j, idx := range indices {
		ks := &c.stats[idx]
		if int(ks.count) == c.numReplicas {
			// Already have a full copy of this key.
			continue
		}
		if ks.received&bit != 0 {
			// Duplicate delivery from this replica.
			continue
		}
		c.merge(idx, report.Series[j])
		ks.received |= bit
		ks.count++
		if int(ks.count) == c.numReplicas {
			c.remaining--
			if c.remaining == 0 {
				completed = true
			}
		}
	}
	return completed, nil
}

// merge folds one replica's series for one key into the merged
// sequence, which stays time-ordered with unique timestamps. On a
// timestamp present in both with differing values the previously
// merged value wins and the conflict is charged to the set of
// replicas that had already contributed to this key.
func (c *Collector) merge(key int, in types.Series) {
	prior := c.stats[key].received
	cur := c.results[key]

	merged := make(types.Series, 0, len(cur)+len(in))
	i := 0
	for j := 0; j < len(in); j++ {
		s := in[j]
		if s.Timestamp < c.begin || s.Timestamp >= c.end {
			continue
		}
		if j > 0 && s.Timestamp == in[j-1].Timestamp {
			// Duplicate timestamp within one replica's series.
			continue
		}
		for i < len(cur) && cur[i].Timestamp < s.Timestamp {
			merged = append(merged, cur[i])
			i++
		}
		if i < len(cur) && cur[i].Timestamp == s.Timestamp {
			if cur[i].Value != s.Value {
				c.mismatches[prior]++
			}
			merged = append(merged, cur[i])
			i++
			continue
		}
		merged = append(merged, s)
	}
	merged = append(merged, cur[i:]...)
	c.results[key] = merged
}

// Finalize freezes the collector, records per-replica loss, and hands
// the result to the caller. If validate is set and some key is missing
// a replica's contribution, it fails with an IncompleteError naming
// each replica and how many keys it failed to report. replicaNames[r]
// labels replica r in that error.
//
// Calling Finalize twice is a programming error and panics. After
// Finalize, AddResults calls are ignored.
func (c *Collector) Finalize(validate bool, replicaNames []string) (types.GetResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		panic("collector: Finalize called twice")
	}
	c.done = true

	allSuccess := c.remaining == 0

	drops := make([]int, c.numReplicas)
	var samples int64
	for i := range c.stats {
		missing := ^c.stats[i].received
		for r := 0; r < c.numReplicas; r++ {
			if missing&(uint32(1)<<uint(r)) != 0 {
				drops[r]++
			}
		}
		samples += int64(len(c.results[i]))
	}

	if validate && !allSuccess {
		missing := make(map[string]int, c.numReplicas)
		for r, n := range drops {
			if n == 0 {
				continue
			}
			name := "replica-" + strconv.Itoa(r)
			if r < len(replicaNames) {
				name = replicaNames[r]
			}
			missing[name] = n
		}
		return types.GetResult{}, &IncompleteError{Missing: missing}
	}

	res := types.GetResult{
		Results:        c.results,
		AllSuccess:     allSuccess,
		MemoryEstimate: samples*bytesPerSample + int64(len(c.stats))*bytesPerKey,
	}
	// Ownership of the merged series moves to the caller.
	c.results = nil
	return res, nil
}

// MismatchesForTesting exposes the raw mismatch table. Counter m holds
// the number of value conflicts charged to the replica subset m.
// Use in tests only.
func (c *Collector) MismatchesForTesting() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.mismatches))
	copy(out, c.mismatches)
	return out
}

// Drops returns, for each replica, how many keys it never reported.
// Meaningful once intake has quiesced; computed from the attendance
// table, not accumulated.
func (c *Collector) Drops() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	drops := make([]int, c.numReplicas)
	for i := range c.stats {
		for r := 0; r < c.numReplicas; r++ {
			if c.stats[i].received&(uint32(1)<<uint(r)) == 0 {
				drops[r]++
			}
		}
	}
	return drops
}

// popcount sanity helper for keyStats; kept close to the invariant it
// documents: count == popcount(received).
func (ks keyStats) consistent() bool {
	return int(ks.count) == bits.OnesCount32(ks.received)
}
