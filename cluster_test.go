package trino_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	trino "github.com/sergeytiron/trino-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClusterInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/cluster", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"runningQueries": 5,
			"blockedQueries": 2,
			"queuedQueries": 3,
			"activeWorkers": 10,
			"runningDrivers": 50,
			"runningTasks": 20,
			"reservedMemory": 1048576,
			"totalInputRows": 4200
		}`))
	}))
	defer srv.Close()

	c, err := trino.NewClient(srv.URL)
	require.NoError(t, err)

	stats, resp, err := c.NewSession().GetClusterInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, stats.RunningQueries)
	assert.Equal(t, 2, stats.BlockedQueries)
	assert.Equal(t, 10, stats.ActiveWorkers)
	assert.Equal(t, float64(1048576), stats.ReservedMemory)
	assert.Equal(t, 4200, stats.TotalInputRows)
}

func TestGetClusterInfo_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no coordinator", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := trino.NewClient(srv.URL)
	require.NoError(t, err)

	_, _, err = c.NewSession().GetClusterInfo(context.Background())
	require.Error(t, err)

	var errResp *trino.ErrorResponse
	require.ErrorAs(t, err, &errResp)
	assert.Equal(t, http.StatusInternalServerError, errResp.Response.StatusCode)
}
