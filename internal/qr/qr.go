// Package qr renders pairing payloads into the two artifact forms the API
// serves: a PNG file addressable by session id and an inline data URI held in
// memory for immediate responses.
package qr

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	qrcode "github.com/skip2/go-qrcode"
)

const pngSize = 256

// Inline encodes the payload as a base64 PNG data URI.
func Inline(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, pngSize)
	if err != nil {
		return "", fmt.Errorf("qr encode: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// WriteImage renders the payload as a PNG file at the session's artifact path.
func WriteImage(payload, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("qr dir: %w", err)
	}
	if err := qrcode.WriteFile(payload, qrcode.Medium, pngSize, path); err != nil {
		return fmt.Errorf("qr write: %w", err)
	}
	return nil
}

// ImagePath is the artifact location for a session's current QR image.
func ImagePath(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".png")
}

// Remove deletes the session's QR image if present.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
