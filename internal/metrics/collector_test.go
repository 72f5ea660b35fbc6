package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/ipalloc"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_SetRoster(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, nil)

	users := []model.User{
		{ID: "1", Status: model.UserConnected},
		{ID: "2", Status: model.UserConnected},
		{ID: "3", Status: model.UserDisconnected},
	}
	peers := []model.Peer{
		{ID: 1, Kind: model.KindWireguard, Status: model.PeerConnected},
		{ID: 2, Kind: model.KindXray, Status: model.PeerDisconnected},
	}
	c.SetRoster(users, peers)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.users.WithLabelValues(model.UserConnected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.users.WithLabelValues(model.UserDisconnected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.peers.WithLabelValues(model.KindWireguard, model.PeerConnected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.peers.WithLabelValues(model.KindXray, model.PeerDisconnected)))

	// A fresh snapshot replaces the counts instead of stacking on them.
	c.SetRoster(users[:1], nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.users.WithLabelValues(model.UserConnected)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.users.WithLabelValues(model.UserDisconnected)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.peers.WithLabelValues(model.KindWireguard, model.PeerConnected)))
}

func TestCollector_IPPoolGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	ips := ipalloc.New([]string{"10.9.0.2", "10.9.0.3"})
	NewCollector(reg, ips)

	expected := `
# HELP gatewarden_ip_pool_available Free addresses left in the tunnel IP pool
# TYPE gatewarden_ip_pool_available gauge
gatewarden_ip_pool_available 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "gatewarden_ip_pool_available"))

	_, err := ips.Acquire()
	require.NoError(t, err)

	expected = `
# HELP gatewarden_ip_pool_available Free addresses left in the tunnel IP pool
# TYPE gatewarden_ip_pool_available gauge
gatewarden_ip_pool_available 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "gatewarden_ip_pool_available"))
}

func TestCollector_ProbeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, nil)

	c.ObserveProbeCycle("probe_all", 250*time.Millisecond)
	c.IncProbeError("probe_all")
	c.IncProbeError("probe_all")

	assert.Equal(t, 1, testutil.CollectAndCount(c.probeCycles))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.probeErrors.WithLabelValues("probe_all")))
}

func TestServer_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, nil)
	c.SetRoster([]model.User{{ID: "1", Status: model.UserConnected}}, nil)

	srv := NewServer(":0", reg)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gatewarden_users")
}
