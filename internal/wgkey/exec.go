package wgkey

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExecKeyTool shells out to the wg binary, or awg when Amnezia is set.
// Keys generated by either binary are interchangeable; the split exists so
// hosts with only the Amnezia userspace tools installed still work.
type ExecKeyTool struct {
	Amnezia bool
}

func (t ExecKeyTool) binary() string {
	if t.Amnezia {
		return "awg"
	}
	return "wg"
}

func (t ExecKeyTool) GeneratePrivateKey(ctx context.Context) (string, error) {
	return t.run(ctx, "", "genkey")
}

func (t ExecKeyTool) GeneratePresharedKey(ctx context.Context) (string, error) {
	return t.run(ctx, "", "genpsk")
}

func (t ExecKeyTool) PublicKey(ctx context.Context, privateKey string) (string, error) {
	return t.run(ctx, privateKey, "pubkey")
}

func (t ExecKeyTool) run(ctx context.Context, stdin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.binary(), args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %s: %w", t.binary(), strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	key := strings.TrimSpace(string(out))
	if !ValidKey(key) {
		return "", fmt.Errorf("%s %s produced malformed key %q", t.binary(), strings.Join(args, " "), key)
	}
	return key, nil
}
