package qrpayload

import (
	"fmt"

	"station-svc/models"

	qrcode "github.com/skip2/go-qrcode"
)

const DefaultImageSize = 220

// EncodePNG renders the encoded payload as a QR code image.
func EncodePNG(p models.Payload, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultImageSize
	}
	png, err := qrcode.Encode(Encode(p), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}
	return png, nil
}
