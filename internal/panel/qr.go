package panel

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// QRCode renders text as a compact terminal QR code using half-block
// characters.
func QRCode(text string) (string, error) {
	qr, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("generate qr code: %w", err)
	}
	return qr.ToSmallString(false), nil
}
