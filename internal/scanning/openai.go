package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model name is configured
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI implements the Extractor interface using an OpenAI-compatible chat API
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a new OpenAI Extractor. baseURL may point at any
// OpenAI-compatible endpoint; it is used without the /v1 suffix.
func NewOpenAI(apiKey, baseURL, modelName string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if modelName == "" {
		modelName = DefaultOpenAIModel
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
	}, nil
}

// ExtractBill sends the image as a data URL and parses the JSON answer
func (o *OpenAI) ExtractBill(ctx context.Context, imageData []byte, contentType string) (*BillData, error) {
	finalImageData, mimeType, _, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(finalImageData))

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: billExtractionPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	data, err := parseBillJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing bill data: %w", err)
	}
	return data, nil
}

// Close is a no-op for the HTTP client
func (o *OpenAI) Close() error {
	return nil
}
