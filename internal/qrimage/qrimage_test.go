package qrimage

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPNGDecodes(t *testing.T) {
	raw, err := PNG(`{"classId":"c1","qrCode":"abc"}`, 256)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 256, img.Bounds().Dx())
}

func TestDataURL(t *testing.T) {
	url, err := DataURL("hello", 0)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	_, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(url, "data:image/png;base64,"))
	require.NoError(t, err)
}
