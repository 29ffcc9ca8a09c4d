package ocr

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// FirstPageImage pulls the largest embedded raster image from the first
// page of a PDF. Scanned invoices are almost always a single full-page
// image, which then goes through the normal image OCR path.
func FirstPageImage(data []byte) ([]byte, error) {
	images, err := api.ExtractImagesRaw(bytes.NewReader(data), []string{"1"}, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("failed to extract PDF images: %w", err)
	}

	var largest []byte
	for _, pageImages := range images {
		for _, img := range pageImages {
			raw, err := io.ReadAll(img)
			if err != nil {
				continue
			}
			if len(raw) > len(largest) {
				largest = raw
			}
		}
	}

	if len(largest) == 0 {
		return nil, fmt.Errorf("no raster image found on first PDF page")
	}
	return largest, nil
}
