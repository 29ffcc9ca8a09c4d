package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObjectKeyLayout(t *testing.T) {
	now := time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC)

	key := ObjectKey("acct-1", "doc-9", "application/pdf", now)
	assert.Equal(t, "acct-1/2026/03/doc-9.pdf", key)

	key = ObjectKey("acct-1", "doc-9", "image/jpeg", now)
	assert.Equal(t, "acct-1/2026/03/doc-9.jpg", key)
}

func TestFileExtension(t *testing.T) {
	assert.Equal(t, ".pdf", FileExtension("application/pdf"))
	assert.Equal(t, ".jpg", FileExtension("image/jpeg"))
	assert.Equal(t, ".png", FileExtension("image/png"))
	assert.Equal(t, ".bin", FileExtension("application/octet-stream"))
}
