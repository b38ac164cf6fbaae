// Package captcha turns challenge image payloads into recognized text. The
// recognition engine itself is an injected collaborator; this package owns the
// preprocessing (decode, greyscale) and the validation of what comes back.
package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	// Challenge payloads are PNG or JPEG depending on which endpoint served
	// them; register both decoders.
	_ "image/jpeg"
	"image/png"

	homedir "github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-cli/api/schemas"
	"github.com/xkilldash9x/checkout-cli/internal/workerpool"
)

// ErrRecognitionFailed marks a bad read. It is a routine outcome, not a fault:
// callers record the attempt as failed and move on, they never crash on it.
var ErrRecognitionFailed = errors.New("captcha: recognition failed")

// Solver decodes challenge images, converts them to greyscale and hands them
// to the recognizer on the shared worker pool, because recognition blocks for
// hundreds of milliseconds of CPU.
type Solver struct {
	recognizer  schemas.Recognizer
	pool        *workerpool.Pool
	logger      *zap.Logger
	minLength   int
	artifactDir string // "" disables image persistence
}

// New builds a Solver. minLength is the shortest output accepted as a
// plausible solution. artifactDir, when non-empty, receives a copy of every
// challenge image for operator debugging; it supports ~ expansion.
func New(recognizer schemas.Recognizer, pool *workerpool.Pool, minLength int, artifactDir string, logger *zap.Logger) (*Solver, error) {
	if recognizer == nil {
		return nil, errors.New("captcha: recognizer must not be nil")
	}
	if pool == nil {
		return nil, errors.New("captcha: worker pool must not be nil")
	}

	dir := ""
	if artifactDir != "" {
		expanded, err := homedir.Expand(artifactDir)
		if err != nil {
			return nil, fmt.Errorf("captcha: resolving artifact dir %q: %w", artifactDir, err)
		}
		if err := os.MkdirAll(expanded, 0o755); err != nil {
			return nil, fmt.Errorf("captcha: creating artifact dir: %w", err)
		}
		dir = expanded
	}

	return &Solver{
		recognizer:  recognizer,
		pool:        pool,
		logger:      logger.Named("captcha"),
		minLength:   minLength,
		artifactDir: dir,
	}, nil
}

var _ schemas.CaptchaSolver = (*Solver)(nil)

// Solve decodes imageData and returns the recognized text. Output shorter
// than the configured minimum (after trimming) returns ErrRecognitionFailed.
// slug names the persisted debug image, when persistence is enabled.
func (s *Solver) Solve(ctx context.Context, imageData string, slug string) (string, error) {
	raw, err := decodePayload(imageData)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognitionFailed, err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: decoding image: %v", ErrRecognitionFailed, err)
	}

	// Greyscale conversion is a required preprocessing step, not an
	// optimization; recognition rates on the colored challenge images are
	// markedly worse.
	grey := toGreyscale(img)

	if s.artifactDir != "" {
		s.persistImage(grey, slug)
	}

	var text string
	task, err := s.pool.Submit(ctx, func(taskCtx context.Context) error {
		out, recErr := s.recognizer.Recognize(taskCtx, grey)
		if recErr != nil {
			return fmt.Errorf("%w: %v", ErrRecognitionFailed, recErr)
		}
		text = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("captcha: submitting recognition: %w", err)
	}
	if err := task.Wait(ctx); err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if len(text) < s.minLength {
		return "", fmt.Errorf("%w: output %q shorter than %d chars", ErrRecognitionFailed, text, s.minLength)
	}

	s.logger.Debug("Captcha recognized.", zap.String("slug", slug), zap.Int("length", len(text)))
	return text, nil
}

// decodePayload strips an optional data-URL prefix and base64-decodes the rest.
func decodePayload(imageData string) ([]byte, error) {
	payload := imageData
	if strings.HasPrefix(payload, "data:image") {
		idx := strings.IndexByte(payload, ',')
		if idx < 0 {
			return nil, errors.New("malformed data URL")
		}
		payload = payload[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}
	return raw, nil
}

// toGreyscale re-renders the image into an 8-bit grey buffer.
func toGreyscale(img image.Image) *image.Gray {
	bounds := img.Bounds()
	grey := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			grey.Set(x, y, img.At(x, y))
		}
	}
	return grey
}

// persistImage writes the preprocessed image next to the other artifacts.
// Failures are logged and swallowed; debug copies are best effort.
func (s *Solver) persistImage(img image.Image, slug string) {
	path := filepath.Join(s.artifactDir, slug+".png")
	f, err := os.Create(path)
	if err != nil {
		s.logger.Warn("Could not persist challenge image.", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		s.logger.Warn("Could not encode challenge image.", zap.String("path", path), zap.Error(err))
	}
}
