package types

// Sample represents a single time-series sample
type Sample struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Series is an ordered sequence of samples for one key, as returned
// by one replica in one report. It may be empty and may contain
// duplicate or out-of-window entries.
type Series []Sample

// ReplicaReport is one replica's answer to a query: one series per
// reported key. The mapping from report position to logical key index
// travels alongside the report (a replica may answer for a subset of
// keys, in arbitrary order).
type ReplicaReport struct {
	Series []Series
}

// GetResult holds the merged results of a query.
// Results are in the same order as the keys were queried; keys that
// were never reported have empty series.
//
// AllSuccess is true if a full copy of the results was assembled.
// MemoryEstimate approximates how much memory the query consumed, for
// comparing the relative expense of different queries.
type GetResult struct {
	Results        []Series `json:"results"`
	AllSuccess     bool     `json:"all_success"`
	MemoryEstimate int64    `json:"memory_estimate"`
}

// ReadRequest is the read request sent to each replica.
type ReadRequest struct {
	Keys  []string `json:"keys"`
	Start int64    `json:"start"`
	End   int64    `json:"end"`
}

// KeyResult is one key's data within a replica's read response.
// KeyIndex refers back to the position in ReadRequest.Keys.
type KeyResult struct {
	KeyIndex int    `json:"key_index"`
	Samples  Series `json:"samples"`
}

// ReadResponse is the body a replica returns for a ReadRequest.
type ReadResponse struct {
	Results []KeyResult `json:"results"`
}
