package captcha

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
)

// TesseractRecognizer adapts the external tesseract binary to the Recognizer
// interface. The OCR engine itself stays an external collaborator; this only
// shuttles PNG bytes in and recognized text out over a subprocess.
type TesseractRecognizer struct {
	binary string
	logger *zap.Logger
}

var _ schemas.Recognizer = (*TesseractRecognizer)(nil)

// NewTesseractRecognizer wires the adapter. An empty binary falls back to
// "tesseract" on PATH.
func NewTesseractRecognizer(binary string, logger *zap.Logger) *TesseractRecognizer {
	if binary == "" {
		binary = "tesseract"
	}
	return &TesseractRecognizer{
		binary: binary,
		logger: logger.Named("tesseract"),
	}
}

// Recognize runs the engine over img in single-line mode, the shape captcha
// challenges come in.
func (r *TesseractRecognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	var input bytes.Buffer
	if err := png.Encode(&input, img); err != nil {
		return "", fmt.Errorf("captcha: encoding image for recognition: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.binary, "stdin", "stdout", "--psm", "7")
	cmd.Stdin = &input

	var output, stderr bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		r.logger.Debug("Recognition subprocess failed.",
			zap.String("binary", r.binary),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err),
		)
		return "", fmt.Errorf("captcha: running %s: %w", r.binary, err)
	}
	return output.String(), nil
}
