package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/muse-engine/internal/origin"
	"github.com/danielpatrickdp/muse-engine/internal/registry"
	"github.com/danielpatrickdp/muse-engine/internal/taxonomy"
)

func testServer(t *testing.T) (*httptest.Server, *registry.Store) {
	t.Helper()
	store, err := registry.NewStore(filepath.Join(t.TempDir(), "api_test.db"), origin.Builtin())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(New(store, ":0").Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func seedDiscovery(t *testing.T, store *registry.Store) {
	t.Helper()
	_, err := store.Upsert(taxonomy.Discovery{
		Tier:           taxonomy.TierPure,
		Domain:         taxonomy.DomainColor,
		Key:            "240-0-0-100",
		Name:           "Velora",
		DepthBreakdown: map[string]float64{"red": 100},
		DepthPct:       100,
		Good:           true,
		SourceRunIDs:   []string{"run-1"},
	})
	require.NoError(t, err)
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestRegistryListsDomain(t *testing.T) {
	srv, store := testServer(t)
	seedDiscovery(t, store)

	resp, err := http.Get(srv.URL + "/registry/color")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body []discoveryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body, 1)
	assert.Equal(t, taxonomy.TierPure, body[0].Tier)
	assert.Equal(t, "240-0-0-100", body[0].Key)
	assert.Equal(t, "Velora", body[0].Name)
	assert.Equal(t, int64(1), body[0].Count)
	assert.True(t, body[0].Good)
}

func TestRegistryUnknownDomain(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/registry/flavor")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCoverageReportsAllDomains(t *testing.T) {
	srv, store := testServer(t)
	seedDiscovery(t, store)

	resp, err := http.Get(srv.URL + "/coverage")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snaps []taxonomy.CoverageSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snaps))
	require.Len(t, snaps, len(taxonomy.AllDomains()))

	byDomain := map[taxonomy.Domain]taxonomy.CoverageSnapshot{}
	for _, s := range snaps {
		byDomain[s.Domain] = s
	}
	assert.Equal(t, int64(1), byDomain[taxonomy.DomainColor].ObservedCount)
	assert.Greater(t, byDomain[taxonomy.DomainColor].CoveragePct, 0.0)
	assert.Equal(t, int64(0), byDomain[taxonomy.DomainMotion].ObservedCount)
}

func TestMetricsExposed(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
