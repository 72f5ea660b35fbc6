package peerops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/wghub"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const backendTestConfig = `[Interface]
Address = 10.9.0.1/24
ListenPort = 51820
PrivateKey = server-priv

# laptop
[Peer]
PublicKey = pub-laptop
PresharedKey = psk-laptop
AllowedIPs = 10.9.0.2/32
`

type stubControl struct {
	syncs int
}

func (c *stubControl) Strip(_ context.Context, _, path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}

func (c *stubControl) SyncConf(_ context.Context, _, _ string) error {
	c.syncs++
	return nil
}

type stubProber struct {
	alive map[string]bool
	err   error
}

func (p stubProber) Probe(_ context.Context, addr string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.alive[addr], nil
}

func testServerConfig(path string) config.WireguardConfig {
	return config.WireguardConfig{
		Path:         path,
		IP:           "10.9.0",
		IPMask:       24,
		PrivateKey:   "server-priv",
		PublicKey:    "server-pub",
		EndpointIP:   "203.0.113.7",
		EndpointPort: 51820,
		DNS:          "1.1.1.1",
		Junk: &config.JunkParams{
			S1: "15", S2: "78",
			H1: "1234567890", H2: "9876", H3: "4321", H4: "5678",
		},
	}
}

func newTestBackend(t *testing.T, prober Prober) (*WireguardBackend, *stubControl, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wg0.conf")
	require.NoError(t, os.WriteFile(path, []byte(backendTestConfig), 0o600))

	control := &stubControl{}
	hub, err := wghub.New(path, control, true, zerolog.Nop())
	require.NoError(t, err)

	backend := NewWireguardBackend(hub, prober, testServerConfig(path), zerolog.Nop())
	return backend, control, path
}

func wgBackendPeer(id int64, name, pub string) *model.Peer {
	return &model.Peer{
		ID:     id,
		UserID: "42",
		Name:   name,
		Kind:   model.KindWireguard,
		Status: model.PeerDisconnected,
		Wireguard: &model.WireguardPeer{
			PeerID:       id,
			PrivateKey:   "priv-" + name,
			PublicKey:    pub,
			PresharedKey: "psk-" + name,
			SharedIP:     "10.9.0.3",
		},
	}
}

func TestWireguardBackend_Add(t *testing.T) {
	backend, control, path := newTestBackend(t, stubProber{})

	require.NoError(t, backend.Add(context.Background(), wgBackendPeer(7, "phone", "pub-phone")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# phone")
	assert.Contains(t, string(data), "PublicKey = pub-phone")
	assert.Equal(t, 1, control.syncs)
}

func TestWireguardBackend_Add_MissingExt(t *testing.T) {
	backend, _, _ := newTestBackend(t, stubProber{})

	peer := wgBackendPeer(7, "phone", "pub-phone")
	peer.Wireguard = nil
	err := backend.Add(context.Background(), peer)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestWireguardBackend_EnableDisable(t *testing.T) {
	backend, _, path := newTestBackend(t, stubProber{})
	ctx := context.Background()
	peer := wgBackendPeer(7, "laptop", "pub-laptop")

	require.NoError(t, backend.Disable(ctx, peer))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "#!PublicKey = pub-laptop")

	require.NoError(t, backend.Enable(ctx, peer))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "#!")
}

func TestWireguardBackend_Delete(t *testing.T) {
	backend, _, path := newTestBackend(t, stubProber{})
	peer := wgBackendPeer(7, "laptop", "pub-laptop")

	require.NoError(t, backend.Delete(context.Background(), peer))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "pub-laptop")
}

func TestWireguardBackend_Delete_AlreadyGone(t *testing.T) {
	backend, control, _ := newTestBackend(t, stubProber{})
	peer := wgBackendPeer(7, "ghost", "pub-ghost")

	before := control.syncs
	require.NoError(t, backend.Delete(context.Background(), peer))
	assert.Equal(t, before, control.syncs)
}

func TestWireguardBackend_GroupTogglesSyncOnce(t *testing.T) {
	backend, control, path := newTestBackend(t, stubProber{})
	ctx := context.Background()

	phone := wgBackendPeer(7, "phone", "pub-phone")
	require.NoError(t, backend.Add(ctx, phone))

	peers := []*model.Peer{wgBackendPeer(6, "laptop", "pub-laptop"), phone}
	before := control.syncs
	require.NoError(t, backend.DisableGroup(ctx, peers))
	assert.Equal(t, before+1, control.syncs)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "#!PublicKey = pub-laptop")
	assert.Contains(t, string(data), "#!PublicKey = pub-phone")

	require.NoError(t, backend.EnableGroup(ctx, peers))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "#!")
}

func TestWireguardBackend_IsConnected(t *testing.T) {
	backend, _, _ := newTestBackend(t, stubProber{alive: map[string]bool{"10.9.0.3": true}})
	ctx := context.Background()

	alive, err := backend.IsConnected(ctx, wgBackendPeer(7, "phone", "pub-phone"))
	require.NoError(t, err)
	assert.True(t, alive)

	other := wgBackendPeer(8, "tablet", "pub-tablet")
	other.Wireguard.SharedIP = "10.9.0.4"
	alive, err = backend.IsConnected(ctx, other)
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestWireguardBackend_IsConnected_ProbeError(t *testing.T) {
	backend, _, _ := newTestBackend(t, stubProber{err: errors.New("no route")})

	_, err := backend.IsConnected(context.Background(), wgBackendPeer(7, "phone", "pub-phone"))
	assert.Error(t, err)
}

func TestWireguardBackend_ConnectionString(t *testing.T) {
	backend, _, _ := newTestBackend(t, stubProber{})

	conf, err := backend.ConnectionString(context.Background(), wgBackendPeer(7, "phone", "pub-phone"))
	require.NoError(t, err)

	expected := `[Interface]
Address = 10.9.0.3/24
DNS = 1.1.1.1
PrivateKey = priv-phone

[Peer]
PublicKey = server-pub
PresharedKey = psk-phone
AllowedIPs = 0.0.0.0/0
Endpoint = 203.0.113.7:51820
PersistentKeepalive = 60
`
	assert.Equal(t, expected, conf)
}

func TestWireguardBackend_ConnectionString_Amnezia(t *testing.T) {
	backend, _, _ := newTestBackend(t, stubProber{})

	peer := wgBackendPeer(7, "phone", "pub-phone")
	peer.Kind = model.KindAmneziaWireguard
	peer.Wireguard.IsAmnezia = true
	peer.Wireguard.Jc = 5
	peer.Wireguard.Jmin = 50
	peer.Wireguard.Jmax = 1000

	conf, err := backend.ConnectionString(context.Background(), peer)
	require.NoError(t, err)

	assert.Contains(t, conf, "Jc = 5\nJmin = 50\nJmax = 1000\n")
	assert.Contains(t, conf, "S1 = 15\nS2 = 78\nH1 = 1234567890\nH2 = 9876\nH3 = 4321\nH4 = 5678\n")
	assert.Contains(t, conf, "PersistentKeepalive = 60")
}

func TestWireguardBackend_ConnectionString_AmneziaWithoutJunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wg0.conf")
	require.NoError(t, os.WriteFile(path, []byte(backendTestConfig), 0o600))
	hub, err := wghub.New(path, &stubControl{}, true, zerolog.Nop())
	require.NoError(t, err)

	server := testServerConfig(path)
	server.Junk = nil
	backend := NewWireguardBackend(hub, stubProber{}, server, zerolog.Nop())

	peer := wgBackendPeer(7, "phone", "pub-phone")
	peer.Wireguard.IsAmnezia = true
	_, err = backend.ConnectionString(context.Background(), peer)
	assert.ErrorIs(t, err, model.ErrValidation)
}
