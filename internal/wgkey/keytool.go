// Package wgkey produces the Curve25519 key material WireGuard peers need.
// The CLI-backed implementation delegates to wg/awg; the local one generates
// keys in-process and backs tests.
package wgkey

import (
	"context"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// KeyTool generates WireGuard key material. All keys are base64-encoded
// 32-byte Curve25519 keys.
type KeyTool interface {
	GeneratePrivateKey(ctx context.Context) (string, error)
	GeneratePresharedKey(ctx context.Context) (string, error)
	PublicKey(ctx context.Context, privateKey string) (string, error)
}

// LocalKeyTool generates keys in-process without shelling out.
type LocalKeyTool struct{}

func (LocalKeyTool) GeneratePrivateKey(_ context.Context) (string, error) {
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", fmt.Errorf("generate private key: %w", err)
	}
	return key.String(), nil
}

func (LocalKeyTool) GeneratePresharedKey(_ context.Context) (string, error) {
	key, err := wgtypes.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generate preshared key: %w", err)
	}
	return key.String(), nil
}

// PublicKey derives the public key for a base64-encoded private key.
func (LocalKeyTool) PublicKey(_ context.Context, privateKey string) (string, error) {
	priv, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return "", fmt.Errorf("decode private key: %w", err)
	}
	if len(priv) != curve25519.ScalarSize {
		return "", fmt.Errorf("private key is %d bytes, want %d", len(priv), curve25519.ScalarSize)
	}

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("derive public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}

// ValidKey reports whether s is a well-formed base64 Curve25519 key.
func ValidKey(s string) bool {
	_, err := wgtypes.ParseKey(s)
	return err == nil
}
