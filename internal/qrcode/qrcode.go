// Package qrcode renders token payloads as scannable PNG images.
package qrcode

import (
	"encoding/base64"
	"errors"

	qr "github.com/skip2/go-qrcode"
)

const defaultSize = 256

// PNG encodes payload as a QR code of size pixels square.
func PNG(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, errors.New("empty qr payload")
	}
	if size <= 0 {
		size = defaultSize
	}
	return qr.Encode(payload, qr.Medium, size)
}

// DataURL returns the QR code as a data URL suitable for an <img> tag.
func DataURL(payload string, size int) (string, error) {
	png, err := PNG(payload, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
