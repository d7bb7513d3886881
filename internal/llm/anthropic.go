package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// defaultAnthropicMaxTokens is used when the request does not set a limit;
// the Anthropic API requires one.
const defaultAnthropicMaxTokens = 4096

// AnthropicClient implements Client over the Anthropic messages API.
type AnthropicClient struct {
	client sdk.Client
}

// NewAnthropicClient creates a client for the Anthropic provider.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key must not be empty")
	}
	return &AnthropicClient{client: sdk.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	messages := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapAnthropicError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &Response{
		Content:      sb.String(),
		Model:        req.Model,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func wrapAnthropicError(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		return &APIError{Status: apierr.StatusCode, Err: err}
	}
	return &APIError{Err: err}
}
