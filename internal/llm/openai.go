package llm

import (
	"context"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
)

// OpenAIClient implements Client over the OpenAI chat completions API. It
// also serves OpenAI-compatible servers via a custom base URL.
type OpenAIClient struct {
	client oai.Client
}

// OpenAIOptions configures the OpenAI client.
type OpenAIOptions struct {
	// APIKey authenticates requests.
	APIKey string

	// BaseURL overrides the default endpoint for compatible providers.
	BaseURL string
}

// NewOpenAIClient creates a client for the OpenAI-compatible provider.
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai: api key must not be empty")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	return &OpenAIClient{client: oai.NewClient(reqOpts...)}, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, oai.SystemMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &APIError{Err: fmt.Errorf("openai: empty choices in response")}
	}

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        req.Model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func wrapOpenAIError(err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		return &APIError{Status: apierr.StatusCode, Err: err}
	}
	return &APIError{Err: err}
}
