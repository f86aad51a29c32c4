package qrcode

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func TestPNG(t *testing.T) {
	png, err := PNG(`{"session_id":"s-1","code":"abc","expires_at":1}`, 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))

	_, err = PNG("", 128)
	assert.Error(t, err)
}

func TestDataURL(t *testing.T) {
	url, err := DataURL("hello", 128)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, pngMagic))
}
