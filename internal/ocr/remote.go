package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/invoiceai/invoice-pipeline-service/internal/storage"
)

// RemoteClient calls an OCR.space-compatible HTTP OCR API. It is the third
// rung of the extraction chain and only participates when an API key is
// configured.
type RemoteClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewRemoteClient creates a client for the remote OCR API.
func NewRemoteClient(endpoint, apiKey string) *RemoteClient {
	return &RemoteClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

type remoteResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
}

// Extract uploads the document (original bytes, PDFs included) and returns
// the parsed text.
func (c *RemoteClient) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "document"+storage.FileExtension(mimeType))
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write file part: %w", err)
	}
	_ = writer.WriteField("language", "eng")
	_ = writer.WriteField("scale", "true")
	_ = writer.WriteField("OCREngine", "2")
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote OCR request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("remote OCR returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode remote OCR response: %w", err)
	}
	if parsed.IsErroredOnProcessing {
		return "", fmt.Errorf("remote OCR processing error: %s", string(parsed.ErrorMessage))
	}

	var text strings.Builder
	for _, result := range parsed.ParsedResults {
		text.WriteString(result.ParsedText)
	}
	return strings.TrimSpace(text.String()), nil
}
