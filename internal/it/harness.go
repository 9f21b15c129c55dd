// Package it provides an in-process integration harness: fake replica
// HTTP servers speaking the read API, with configurable dropped keys,
// divergent values and latency.
package it

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/vjranagit/tsgather/pkg/types"
)

// Replica is one fake service instance. Data maps key name to the
// full series this replica holds; DropKeys lists key names it omits
// from responses; Latency delays each response.
type Replica struct {
	Data     map[string]types.Series
	DropKeys map[string]bool
	Latency  time.Duration

	server *httptest.Server
}

// Start brings the replica up on a local listener.
func (r *Replica) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/read", r.handleRead)
	r.server = httptest.NewServer(mux)
}

// URL returns the replica's base URL. Valid after Start.
func (r *Replica) URL() string {
	return r.server.URL
}

// Stop shuts the replica down.
func (r *Replica) Stop() {
	r.server.Close()
}

// handleRead serves the read API: in-window samples for every
// requested key the replica holds and does not drop.
func (r *Replica) handleRead(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var readReq types.ReadRequest
	if err := json.NewDecoder(req.Body).Decode(&readReq); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	if r.Latency > 0 {
		select {
		case <-time.After(r.Latency):
		case <-req.Context().Done():
			return
		}
	}

	resp := types.ReadResponse{Results: []types.KeyResult{}}
	for i, key := range readReq.Keys {
		if r.DropKeys[key] {
			continue
		}
		series, ok := r.Data[key]
		if !ok {
			// Unknown keys still get an entry, just an empty one.
			resp.Results = append(resp.Results, types.KeyResult{KeyIndex: i, Samples: types.Series{}})
			continue
		}
		out := types.Series{}
		for _, s := range series {
			if s.Timestamp >= readReq.Start && s.Timestamp < readReq.End {
				out = append(out, s)
			}
		}
		resp.Results = append(resp.Results, types.KeyResult{KeyIndex: i, Samples: out})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Cluster is a set of fake replicas for one test.
type Cluster struct {
	Replicas []*Replica
}

// NewCluster starts n replicas sharing the same base data.
func NewCluster(n int, data map[string]types.Series) *Cluster {
	c := &Cluster{}
	for i := 0; i < n; i++ {
		// Each replica gets its own copy so tests can diverge them.
		copied := make(map[string]types.Series, len(data))
		for k, v := range data {
			s := make(types.Series, len(v))
			copy(s, v)
			copied[k] = s
		}
		r := &Replica{Data: copied, DropKeys: map[string]bool{}}
		r.Start()
		c.Replicas = append(c.Replicas, r)
	}
	return c
}

// URLs returns the base URL of every replica.
func (c *Cluster) URLs() []string {
	urls := make([]string, len(c.Replicas))
	for i, r := range c.Replicas {
		urls[i] = r.URL()
	}
	return urls
}

// Stop shuts every replica down.
func (c *Cluster) Stop() {
	for _, r := range c.Replicas {
		r.Stop()
	}
}
