package wgkey

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func TestLocalKeyTool_GeneratePrivateKey(t *testing.T) {
	ctx := context.Background()
	tool := LocalKeyTool{}

	first, err := tool.GeneratePrivateKey(ctx)
	require.NoError(t, err)
	assert.True(t, ValidKey(first))

	second, err := tool.GeneratePrivateKey(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestLocalKeyTool_GeneratePresharedKey(t *testing.T) {
	ctx := context.Background()
	tool := LocalKeyTool{}

	psk, err := tool.GeneratePresharedKey(ctx)
	require.NoError(t, err)
	assert.True(t, ValidKey(psk))
}

func TestLocalKeyTool_PublicKey(t *testing.T) {
	ctx := context.Background()
	tool := LocalKeyTool{}

	priv, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)

	pub, err := tool.PublicKey(ctx, priv.String())
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey().String(), pub)

	again, err := tool.PublicKey(ctx, priv.String())
	require.NoError(t, err)
	assert.Equal(t, pub, again)
}

func TestLocalKeyTool_PublicKey_BadInput(t *testing.T) {
	ctx := context.Background()
	tool := LocalKeyTool{}

	_, err := tool.PublicKey(ctx, "not base64!!!")
	assert.Error(t, err)

	_, err = tool.PublicKey(ctx, "c2hvcnQ=")
	assert.ErrorContains(t, err, "32")
}

func TestValidKey(t *testing.T) {
	key, err := wgtypes.GenerateKey()
	require.NoError(t, err)

	assert.True(t, ValidKey(key.String()))
	assert.False(t, ValidKey("nonsense"))
	assert.False(t, ValidKey(""))
}
