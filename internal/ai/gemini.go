package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiProvider talks to Google's Gemini API. The client is created per
// call since genai.NewClient needs a context.
type GeminiProvider struct {
	apiKey string
	model  string
}

// NewGeminiProvider creates the provider.
func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey, model: model}
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (*Response, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	defer client.Close()

	model := client.GenerativeModel(p.model)
	model.SetTemperature(0.1)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		status := 0
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			status = apiErr.Code
		}
		return nil, &ProviderError{Provider: p.Name(), Status: status, Err: err}
	}

	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	if text.Len() == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: errors.New("empty completion")}
	}

	var units int64
	if resp.UsageMetadata != nil {
		units = int64(resp.UsageMetadata.TotalTokenCount)
	}

	return &Response{Text: text.String(), Units: units}, nil
}
