// Package client implements the HTTP read client for one replica of
// the time-series service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vjranagit/tsgather/pkg/fanout"
	"github.com/vjranagit/tsgather/pkg/types"
)

const readPath = "/api/v1/read"

// ReadClient reads time-series data from a single replica over its
// JSON API.
type ReadClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewReadClient creates a client for the replica at baseURL. A zero
// timeout disables the client-side limit; the fan-out layer applies
// its own per-fetch deadline through the request context.
func NewReadClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ReadClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Read sends req to the replica and returns its response.
func (c *ReadClient) Read(ctx context.Context, req *types.ReadRequest) (*types.ReadResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode read request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+readPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build read request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("read request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("replica %s returned status %d: %s", c.baseURL, resp.StatusCode, msg)
	}

	var out types.ReadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode read response from %s: %w", c.baseURL, err)
	}

	c.logger.Debug("Replica read completed",
		zap.String("replica", c.baseURL),
		zap.Int("keys_requested", len(req.Keys)),
		zap.Int("keys_returned", len(out.Results)),
		zap.Duration("elapsed", time.Since(start)))

	return &out, nil
}

// Fetch adapts a read response into the collector's report shape,
// validating key indices against the request.
func (c *ReadClient) Fetch(ctx context.Context, req *types.ReadRequest) (*types.ReplicaReport, []int, error) {
	resp, err := c.Read(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	report := &types.ReplicaReport{Series: make([]types.Series, 0, len(resp.Results))}
	indices := make([]int, 0, len(resp.Results))
	for _, kr := range resp.Results {
		if kr.KeyIndex < 0 || kr.KeyIndex >= len(req.Keys) {
			return nil, nil, fmt.Errorf("replica %s returned key index %d outside request of %d keys",
				c.baseURL, kr.KeyIndex, len(req.Keys))
		}
		report.Series = append(report.Series, kr.Samples)
		indices = append(indices, kr.KeyIndex)
	}
	return report, indices, nil
}

// FetchFunc returns a fan-out fetch function bound to this replica
// and the given request.
func (c *ReadClient) FetchFunc(req *types.ReadRequest) fanout.FetchFunc {
	return func(ctx context.Context, replica int) (*types.ReplicaReport, []int, error) {
		return c.Fetch(ctx, req)
	}
}
