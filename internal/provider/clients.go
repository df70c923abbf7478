package provider

import (
	"context"
	"net/http"
	"strings"

	"byok-api/internal/config"

	"github.com/anthropics/anthropic-sdk-go"
	anoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	oaoption "github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

// callParams 一次上游调用所需的全部参数
type callParams struct {
	provider  *config.ProviderConfig
	model     string
	system    string
	turns     []Turn
	maxTokens int
	defaults  map[string]interface{}
	client    *http.Client
}

func openAIOptions(c callParams) []oaoption.RequestOption {
	opts := []oaoption.RequestOption{
		oaoption.WithAPIKey(c.provider.APIKey),
		oaoption.WithHTTPClient(c.client),
		oaoption.WithMaxRetries(1),
	}
	if base := strings.TrimSpace(c.provider.BaseURL); base != "" {
		opts = append(opts, oaoption.WithBaseURL(base))
	}
	for k, v := range c.provider.Headers {
		opts = append(opts, oaoption.WithHeader(k, v))
	}
	for _, k := range sortedDefaults(c.defaults, MaxTokensKey(c.provider.Type)) {
		opts = append(opts, oaoption.WithJSONSet(k, c.defaults[k]))
	}
	return opts
}

// callOpenAIChat Chat Completions 接口
func callOpenAIChat(ctx context.Context, c callParams) (string, error) {
	client := openai.NewClient(openAIOptions(c)...)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(c.turns)+1)
	if strings.TrimSpace(c.system) != "" {
		messages = append(messages, openai.SystemMessage(c.system))
	}
	for _, t := range c.turns {
		if t.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(t.Text))
		} else {
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// callOpenAIResponses Responses 接口
func callOpenAIResponses(ctx context.Context, c callParams) (string, error) {
	client := openai.NewClient(openAIOptions(c)...)

	items := make([]responses.ResponseInputItemUnionParam, 0, len(c.turns))
	for _, t := range c.turns {
		role := responses.EasyInputMessageRoleUser
		if t.Role == RoleAssistant {
			role = responses.EasyInputMessageRoleAssistant
		}
		items = append(items, responses.ResponseInputItemUnionParam{
			OfMessage: &responses.EasyInputMessageParam{
				Role: role,
				Content: responses.EasyInputMessageContentUnionParam{
					OfString: openai.String(t.Text),
				},
			},
		})
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(c.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam(items),
		},
	}
	if strings.TrimSpace(c.system) != "" {
		params.Instructions = openai.String(c.system)
	}
	if c.maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(c.maxTokens))
	}

	resp, err := client.Responses.New(ctx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String(), nil
}

// callAnthropic Messages 接口
func callAnthropic(ctx context.Context, c callParams) (string, error) {
	opts := []anoption.RequestOption{
		anoption.WithAPIKey(c.provider.APIKey),
		anoption.WithHTTPClient(c.client),
		anoption.WithMaxRetries(1),
	}
	if base := strings.TrimSpace(c.provider.BaseURL); base != "" {
		opts = append(opts, anoption.WithBaseURL(base))
	}
	for k, v := range c.provider.Headers {
		opts = append(opts, anoption.WithHeader(k, v))
	}
	for _, k := range sortedDefaults(c.defaults, MaxTokensKey(c.provider.Type)) {
		opts = append(opts, anoption.WithJSONSet(k, c.defaults[k]))
	}
	client := anthropic.NewClient(opts...)

	messages := make([]anthropic.MessageParam, 0, len(c.turns))
	for _, t := range c.turns {
		if t.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Text)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
		}
	}

	maxTokens := c.maxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if strings.TrimSpace(c.system) != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.system}}
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
