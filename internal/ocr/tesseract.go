package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// TesseractEngine runs the tesseract binary over an image and reports the
// recognized text plus a mean word confidence in [0,1].
type TesseractEngine struct {
	binary string
}

// NewTesseractEngine creates an engine around the given binary path
// ("tesseract" when empty).
func NewTesseractEngine(binary string) *TesseractEngine {
	if binary == "" {
		binary = "tesseract"
	}
	return &TesseractEngine{binary: binary}
}

// Extract OCRs the image with the given language spec (e.g. "eng" or
// "eng+spa"). Confidence is the mean of per-word confidences from the TSV
// output, scaled to [0,1].
func (t *TesseractEngine) Extract(ctx context.Context, image []byte, languages string) (string, float64, error) {
	inputFile := filepath.Join(os.TempDir(), fmt.Sprintf("ocr_%s.png", uuid.New().String()[:8]))
	if err := os.WriteFile(inputFile, image, 0o644); err != nil {
		return "", 0, fmt.Errorf("failed to write temp image: %w", err)
	}
	defer os.Remove(inputFile)

	cmd := exec.CommandContext(ctx, t.binary, inputFile, "stdout", "-l", languages, "--psm", "3", "tsv")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", 0, fmt.Errorf("tesseract failed: %w - %s", err, strings.TrimSpace(stderr.String()))
	}

	text, confidence := parseTSV(stdout.String())
	return text, confidence, nil
}

// parseTSV walks tesseract's TSV output and reconstructs line-broken text
// from word rows (level 5), averaging their confidences.
func parseTSV(output string) (string, float64) {
	var text strings.Builder
	var confSum float64
	var confCount int

	prevLine := ""
	for i, row := range strings.Split(output, "\n") {
		if i == 0 {
			continue // header
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		if cols[0] != "5" {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}

		// block/par/line numbers identify the physical text line
		lineKey := cols[2] + ":" + cols[3] + ":" + cols[4]
		if text.Len() > 0 {
			if lineKey == prevLine {
				text.WriteByte(' ')
			} else {
				text.WriteByte('\n')
			}
		}
		prevLine = lineKey
		text.WriteString(word)

		if conf, err := strconv.ParseFloat(cols[10], 64); err == nil && conf >= 0 {
			confSum += conf
			confCount++
		}
	}

	if confCount == 0 {
		return text.String(), 0
	}
	return text.String(), confSum / float64(confCount) / 100.0
}
