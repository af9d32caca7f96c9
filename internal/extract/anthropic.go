// Package extract derives structured listing fields from a session's
// accumulated text and photos.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/lotline/internal/domain"
	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// Engine is the extraction contract consumed by the pipeline. A failure is
// treated as "invalid" by the orchestrator, never left unresolved.
type Engine interface {
	Extract(ctx context.Context, fragments []string, items []domain.MediaItem) (*domain.ExtractionResult, error)
}

const extractionPrompt = `You are given photos a car dealer sent over chat, plus their accompanying text.

Decide whether the photos show a single vehicle being offered for sale. If they do not (random photos, screenshots, multiple unrelated vehicles), set "valid" to false and leave the other fields empty.

Otherwise fill in the listing fields from the photos and the text. The text fragments are in the order the dealer sent them; when they conflict, the LATER fragment wins (dealers often correct the price in a follow-up message). Pick the index of the photo that best represents the vehicle as "primary_media_index" (0-based). List any of make/model/year/price you could not determine in "missing_fields".

Respond with ONLY a JSON object, no prose:
{"make": "", "model": "", "year": 0, "mileage": 0, "color": "", "price": 0, "valid": true, "primary_media_index": 0, "missing_fields": []}

Dealer text:
%s`

// AnthropicEngine implements Engine against the Anthropic Messages API
// using vision input.
type AnthropicEngine struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicEngine creates an Anthropic-backed extraction engine.
func NewAnthropicEngine(apiKey, model string) *AnthropicEngine {
	return &AnthropicEngine{
		client: anthropic.NewClient(apiKey),
		model:  model,
	}
}

// Extract sends the staged photos and joined text to the model and parses
// its JSON reply.
func (e *AnthropicEngine) Extract(ctx context.Context, fragments []string, items []domain.MediaItem) (*domain.ExtractionResult, error) {
	content := make([]anthropic.MessageContent, 0, len(items)+1)
	for _, item := range items {
		data, err := os.ReadFile(item.URL)
		if err != nil {
			return nil, fmt.Errorf("read staged media %s: %w", item.StorageID, err)
		}
		content = append(content, anthropic.NewImageMessageContent(
			anthropic.NewMessageContentSource(
				anthropic.MessagesContentSourceTypeBase64,
				mediaTypeForPath(item.URL),
				data,
			),
		))
	}

	text := strings.Join(fragments, "\n")
	if text == "" {
		text = "(none)"
	}
	content = append(content, anthropic.NewTextMessageContent(fmt.Sprintf(extractionPrompt, text)))

	temperature := float32(0)
	req := anthropic.MessagesRequest{
		Model: anthropic.Model(e.model),
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: content},
		},
		MaxTokens:   1024,
		Temperature: &temperature,
	}

	resp, err := e.client.CreateMessages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("anthropic extraction call: %w", err)
	}

	var reply string
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			reply += *block.Text
		}
	}

	result, err := parseResult(reply)
	if err != nil {
		return nil, fmt.Errorf("parse extraction reply: %w", err)
	}
	if result.PrimaryMediaIndex < 0 || result.PrimaryMediaIndex >= len(items) {
		result.PrimaryMediaIndex = 0
	}
	return result, nil
}

// parseResult pulls the JSON object out of the model reply, tolerating
// code fences and surrounding prose.
func parseResult(reply string) (*domain.ExtractionResult, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var result domain.ExtractionResult
	if err := json.Unmarshal([]byte(reply[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("decode result JSON: %w", err)
	}
	return &result, nil
}

func mediaTypeForPath(path string) string {
	switch filepath.Ext(path) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
