package cache

import (
	"testing"
	"time"

	"github.com/vjranagit/tsgather/pkg/types"
)

func testCache(t *testing.T, ttl time.Duration) *ResultCache {
	t.Helper()
	rc, err := New(&Config{
		Path:             t.TempDir(),
		MemoryEntries:    4,
		TTL:              ttl,
		CompressionLevel: 1,
	})
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	t.Cleanup(func() { rc.Close() })
	return rc
}

func testResult() *types.GetResult {
	return &types.GetResult{
		Results: []types.Series{
			{{Timestamp: 100, Value: 1.5}, {Timestamp: 160, Value: 2.5}},
		},
		AllSuccess:     true,
		MemoryEstimate: 96,
	}
}

func TestCachePutGet(t *testing.T) {
	rc := testCache(t, time.Minute)

	req := &types.ReadRequest{Keys: []string{"cpu"}, Start: 100, End: 200}
	if _, ok := rc.Get(req); ok {
		t.Fatal("Expected miss on empty cache")
	}

	if err := rc.Put(req, testResult()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok := rc.Get(req)
	if !ok {
		t.Fatal("Expected hit after Put")
	}
	if !got.AllSuccess || len(got.Results) != 1 || len(got.Results[0]) != 2 {
		t.Errorf("Cached result corrupted: %+v", got)
	}

	stats := rc.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %+v", stats)
	}
}

func TestCachePersistentLayerSurvivesMemoryEviction(t *testing.T) {
	rc := testCache(t, time.Minute)

	req := &types.ReadRequest{Keys: []string{"cpu"}, Start: 100, End: 200}
	if err := rc.Put(req, testResult()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Push the original entry out of the small memory layer.
	for i := 0; i < 8; i++ {
		other := &types.ReadRequest{Keys: []string{"mem"}, Start: int64(i), End: int64(i + 100)}
		if err := rc.Put(other, testResult()); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	got, ok := rc.Get(req)
	if !ok {
		t.Fatal("Expected hit from persistent layer after memory eviction")
	}
	if len(got.Results[0]) != 2 {
		t.Errorf("Persistent result corrupted: %+v", got)
	}
}

func TestCacheMemoryTTL(t *testing.T) {
	rc := testCache(t, 10*time.Millisecond)

	req := &types.ReadRequest{Keys: []string{"cpu"}, Start: 100, End: 200}
	if err := rc.Put(req, testResult()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	// Memory entry is stale; the badger entry carries the same TTL,
	// so the lookup misses both layers.
	if _, ok := rc.Get(req); ok {
		t.Error("Expected miss after TTL expiry")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := &types.ReadRequest{Keys: []string{"cpu", "mem"}, Start: 100, End: 200}

	variants := []*types.ReadRequest{
		{Keys: []string{"cpu", "mem"}, Start: 100, End: 201},
		{Keys: []string{"cpu", "mem"}, Start: 99, End: 200},
		{Keys: []string{"mem", "cpu"}, Start: 100, End: 200},
		{Keys: []string{"cpume", "m"}, Start: 100, End: 200},
	}
	fp := Fingerprint(base)
	if fp != Fingerprint(&types.ReadRequest{Keys: []string{"cpu", "mem"}, Start: 100, End: 200}) {
		t.Error("Fingerprint must be deterministic")
	}
	for i, v := range variants {
		if Fingerprint(v) == fp {
			t.Errorf("Variant %d should produce a different fingerprint", i)
		}
	}
}
