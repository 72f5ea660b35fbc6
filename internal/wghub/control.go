package wghub

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Control pushes an on-disk config to the running interface. Strip resolves
// wg-quick extensions to plain wg syntax; SyncConf applies the stripped
// config without dropping active sessions.
type Control interface {
	Strip(ctx context.Context, device, path string) (string, error)
	SyncConf(ctx context.Context, device, stripped string) error
}

// ExecControl drives the wg and wg-quick binaries, or their awg twins when
// Amnezia is set.
type ExecControl struct {
	Amnezia bool
}

func (c ExecControl) binary() string {
	if c.Amnezia {
		return "awg"
	}
	return "wg"
}

func (c ExecControl) quickBinary() string {
	return c.binary() + "-quick"
}

func (c ExecControl) Strip(ctx context.Context, device, path string) (string, error) {
	cmd := exec.CommandContext(ctx, c.quickBinary(), "strip", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s strip %s: %s: %w", c.quickBinary(), path, strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// SyncConf stages the stripped config in a temp file because wg syncconf
// only reads from a path.
func (c ExecControl) SyncConf(ctx context.Context, device, stripped string) error {
	tmp, err := os.CreateTemp("", device+"-syncconf-*.conf")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(stripped); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}

	out, err := exec.CommandContext(ctx, c.binary(), "syncconf", device, tmp.Name()).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s syncconf %s: %s: %w", c.binary(), device, strings.TrimSpace(string(out)), err)
	}
	return nil
}
