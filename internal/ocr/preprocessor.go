package ocr

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// minShortEdge is the minimum short-edge size fed to the OCR engine. Small
// photos upscale to this before recognition.
const minShortEdge = 1200

// sigmoidFactor steepens the contrast curve around the midpoint, which
// darkens ink and bleaches paper background on typical invoice scans.
const sigmoidFactor = 12.0

// Preprocess enhances an image for OCR: upscale so the short edge is at
// least minShortEdge, grayscale, then a sigmoid contrast curve centered on
// mid-gray. Returns PNG bytes.
func Preprocess(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	img = upscale(img)
	img = imaging.Grayscale(img)
	img = imaging.AdjustSigmoid(img, 0.5, sigmoidFactor)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func upscale(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	short := w
	if h < w {
		short = h
	}
	if short >= minShortEdge {
		return imaging.Clone(img)
	}

	scale := float64(minShortEdge) / float64(short)
	return imaging.Resize(img, int(float64(w)*scale+0.5), int(float64(h)*scale+0.5), imaging.Lanczos)
}
