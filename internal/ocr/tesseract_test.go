package ocr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func tsvRow(level, block, par, line, conf, word string) string {
	return strings.Join([]string{level, "1", block, par, line, "1", "0", "0", "10", "10", conf, word}, "\t")
}

func TestParseTSVLineGrouping(t *testing.T) {
	output := strings.Join([]string{
		"level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext",
		tsvRow("1", "1", "1", "1", "-1", ""), // page row, ignored
		tsvRow("5", "1", "1", "1", "90", "INVOICE"),
		tsvRow("5", "1", "1", "1", "80", "1234"),
		tsvRow("5", "1", "1", "2", "70", "Total"),
		tsvRow("5", "1", "1", "2", "60", "500.00"),
	}, "\n")

	text, conf := parseTSV(output)

	assert.Equal(t, "INVOICE 1234\nTotal 500.00", text)
	assert.InDelta(t, 0.75, conf, 1e-9)
}

func TestParseTSVIgnoresNonWordRows(t *testing.T) {
	output := strings.Join([]string{
		"header",
		tsvRow("4", "1", "1", "1", "95", "line-level-row"),
		tsvRow("5", "1", "1", "1", "-1", "noconf"),
		tsvRow("5", "1", "1", "1", "50", "word"),
		"short\trow",
	}, "\n")

	text, conf := parseTSV(output)

	assert.Equal(t, "noconf word", text)
	// Negative confidences do not drag the mean down.
	assert.InDelta(t, 0.50, conf, 1e-9)
}

func TestParseTSVEmptyOutput(t *testing.T) {
	text, conf := parseTSV("header only\n")
	assert.Empty(t, text)
	assert.Zero(t, conf)
}
