package cloudinary

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.Nop())
	require.Error(t, err)

	c, err := New(Config{CloudName: "demo", APIKey: "key", APISecret: "secret", Folder: "/qr/"}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "qr", c.folder)
}

func TestQRPublicID(t *testing.T) {
	require.Equal(t, "qr-2f0c-11aa", QRPublicID("2f0c-11aa"))
	require.Equal(t, "qr-a-b", QRPublicID("a/b"))
}
