package trino

import (
	"context"
	"net/http"
)

// ClusterStats is the coordinator's live workload snapshot from /v1/cluster.
type ClusterStats struct {
	// Query mix currently known to the coordinator.
	RunningQueries    int `json:"runningQueries"`
	BlockedQueries    int `json:"blockedQueries"`
	QueuedQueries     int `json:"queuedQueries"`
	AdjustedQueueSize int `json:"adjustedQueueSize"`

	// Execution resources in use.
	ActiveWorkers  int     `json:"activeWorkers"`
	RunningDrivers int     `json:"runningDrivers"`
	RunningTasks   int     `json:"runningTasks"`
	ReservedMemory float64 `json:"reservedMemory"`

	// Lifetime counters since coordinator start.
	TotalInputRows   int `json:"totalInputRows"`
	TotalInputBytes  int `json:"totalInputBytes"`
	TotalCpuTimeSecs int `json:"totalCpuTimeSecs"`
}

// GetClusterInfo fetches the current cluster statistics.
func (s *Session) GetClusterInfo(ctx context.Context, opts ...RequestOption) (*ClusterStats, *http.Response, error) {
	req, err := s.NewRequest("GET", "v1/cluster", nil, opts...)
	if err != nil {
		return nil, nil, err
	}

	stats := new(ClusterStats)
	resp, err := s.Do(ctx, req, stats)
	if err != nil {
		return nil, resp, err
	}
	return stats, resp, nil
}
