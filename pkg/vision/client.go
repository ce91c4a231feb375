// Package vision extracts raw clinical field observations from document
// images using a vision-capable Claude model. Its output is untrusted:
// everything it produces goes through the normalizer before use.
package vision

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clinbridge/edcfill/internal/config"
	"github.com/clinbridge/edcfill/internal/model"
	"github.com/clinbridge/edcfill/internal/resilience"
)

// Document is one source page image to extract from.
type Document struct {
	ID        string
	MediaType string // e.g. "image/png", "image/jpeg"
	Base64    string
}

// Client defines the vision extraction operations used by the pipeline.
type Client interface {
	ExtractDocument(ctx context.Context, doc Document) ([]model.RawObservation, error)
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

// NewClient creates a vision client backed by the SDK.
func NewClient(cfg config.AnthropicConfig) Client {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "extract_document")
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(cfg.Key),
		),
		model:     cfg.Model,
		maxTokens: maxTokens,
		retry:     retry,
	}
}

func (c *sdkClient) ExtractDocument(ctx context.Context, doc Document) ([]model.RawObservation, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlockBase64(doc.MediaType, doc.Base64),
				sdk.NewTextBlock(extractionPrompt),
			),
		},
	}

	msg, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*sdk.Message, error) {
		return c.client.Messages.New(ctx, params)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "vision: extract document %s", doc.ID)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	observations, err := ParseExtraction(doc.ID, text)
	if err != nil {
		return nil, eris.Wrapf(err, "vision: parse extraction for %s", doc.ID)
	}

	zap.L().Info("vision: document extracted",
		zap.String("document_id", doc.ID),
		zap.Int("observations", len(observations)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	return observations, nil
}
