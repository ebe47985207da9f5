package cloudinary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	cld "github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// Config holds Cloudinary credentials.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Configured reports whether all credentials are present.
func (c Config) Configured() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// UploadResult holds the fields callers use from an upload.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
}

// Client hosts QR images on Cloudinary.
type Client struct {
	cld    *cld.Cloudinary
	folder string
	log    zerolog.Logger
}

// New creates a Cloudinary client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if !cfg.Configured() {
		return nil, errors.New("cloudinary credentials must be provided")
	}
	c, err := cld.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: init: %w", err)
	}
	return &Client{
		cld:    c,
		folder: strings.Trim(cfg.Folder, "/"),
		log:    logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// UploadQR uploads a QR PNG under a public id derived from the class. Each
// class has one hosted image that is overwritten on reissue.
func (c *Client) UploadQR(ctx context.Context, classID string, png []byte) (*UploadResult, error) {
	overwrite := true
	res, err := c.cld.Upload.Upload(ctx, bytes.NewReader(png), uploader.UploadParams{
		Folder:       c.folder,
		PublicID:     QRPublicID(classID),
		Overwrite:    &overwrite,
		ResourceType: "image",
	})
	if err != nil {
		return nil, fmt.Errorf("cloudinary: upload failed: %w", err)
	}
	if res.Error.Message != "" {
		return nil, fmt.Errorf("cloudinary: %s", res.Error.Message)
	}
	c.log.Info().Str("public_id", res.PublicID).Msg("qr image uploaded")
	return &UploadResult{
		PublicID:  res.PublicID,
		SecureURL: res.SecureURL,
		Width:     res.Width,
		Height:    res.Height,
		Bytes:     res.Bytes,
	}, nil
}

// QRPublicID returns the public id used for a class's QR image.
func QRPublicID(classID string) string {
	id := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '-'
	}, classID)
	return "qr-" + strings.Trim(id, "-")
}
