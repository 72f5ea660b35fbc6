package peerops

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Prober reports liveness for one tunnel address.
type Prober interface {
	Probe(ctx context.Context, addr string) (bool, error)
}

// ICMPProber sends a single echo request. A WireGuard peer answers on its
// tunnel address only while the tunnel is up, so one echo is enough.
type ICMPProber struct {
	Timeout    time.Duration
	Privileged bool
}

// Probe pings addr once and reports whether a reply came back.
func (p ICMPProber) Probe(ctx context.Context, addr string) (bool, error) {
	pinger, err := probing.NewPinger(addr)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", addr, err)
	}
	pinger.Count = 1
	pinger.Timeout = p.Timeout
	if pinger.Timeout <= 0 {
		pinger.Timeout = time.Second
	}
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return false, fmt.Errorf("ping %s: %w", addr, err)
	}
	return pinger.Statistics().PacketsRecv > 0, nil
}
