package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/tsgather/pkg/types"
)

func TestReadClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/read", r.URL.Path)

		var req types.ReadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"cpu", "mem"}, req.Keys)
		assert.Equal(t, int64(100), req.Start)
		assert.Equal(t, int64(200), req.End)

		// Answer for the second key only, simulating a partial reply.
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.ReadResponse{
			Results: []types.KeyResult{
				{KeyIndex: 1, Samples: types.Series{{Timestamp: 150, Value: 3.5}}},
			},
		})
	}))
	defer srv.Close()

	c := NewReadClient(srv.URL, time.Second, nil)
	req := &types.ReadRequest{Keys: []string{"cpu", "mem"}, Start: 100, End: 200}

	report, indices, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, report.Series, 1)
	assert.Equal(t, []int{1}, indices)
	assert.Equal(t, types.Series{{Timestamp: 150, Value: 3.5}}, report.Series[0])
}

func TestReadClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "shard unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewReadClient(srv.URL, time.Second, nil)
	_, _, err := c.Fetch(context.Background(), &types.ReadRequest{Keys: []string{"cpu"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "shard unavailable")
}

func TestReadClientRejectsBadKeyIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.ReadResponse{
			Results: []types.KeyResult{{KeyIndex: 7}},
		})
	}))
	defer srv.Close()

	c := NewReadClient(srv.URL, time.Second, nil)
	_, _, err := c.Fetch(context.Background(), &types.ReadRequest{Keys: []string{"cpu"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key index 7")
}

func TestReadClientContextCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and
		// can observe the client disconnect; with unread body bytes the
		// request context is never canceled and Close deadlocks.
		io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewReadClient(srv.URL, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, _, err := c.Fetch(ctx, &types.ReadRequest{Keys: []string{"cpu"}})
	require.Error(t, err)
}
