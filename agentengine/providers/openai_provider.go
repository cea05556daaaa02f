package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"

	domain "github.com/zapa-ai/zapa/agentengine/domain"
)

// OpenAIProvider is the adapter for the OpenAI chat-completions API and every
// OpenAI-compatible surface (Anthropic, Ollama, custom gateways). The base
// URL selects the backend; credentials arrive per request and are never kept.
type OpenAIProvider struct {
	name         string
	baseURL      string
	defaultModel string
}

// NewOpenAIProvider creates an adapter bound to one backend profile.
func NewOpenAIProvider(name, baseURL, defaultModel string) *OpenAIProvider {
	return &OpenAIProvider{
		name:         name,
		baseURL:      baseURL,
		defaultModel: defaultModel,
	}
}

// Chat implements the AIProvider interface over chat completions with
// function calling.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	if req.APIKey == "" {
		return domain.ChatResponse{}, &domain.ProviderError{
			Provider: p.name, Kind: domain.ErrAuth, Err: errors.New("missing api key"),
		}
	}

	opts := []option.RequestOption{option.WithAPIKey(req.APIKey)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	client := openai.NewClient(opts...)

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(*req.MaxTokens)
	}

	// System prompt
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	// History
	for _, t := range req.History {
		// Parity check: if we carry RawContent from a previous round, re-send
		// it untouched so the backend sees its own message verbatim.
		if t.RawContent != nil {
			if msg, ok := t.RawContent.(openai.ChatCompletionMessageParamUnion); ok {
				messages = append(messages, msg)
				continue
			}
		}

		// Assistant turn carrying tool calls
		if len(t.ToolCalls) > 0 {
			var toolCalls []openai.ChatCompletionMessageToolCallUnionParam
			for _, tc := range t.ToolCalls {
				argsData, _ := json.Marshal(tc.Args)
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(argsData),
						},
						Type: "function",
					},
				})
			}
			msg := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: toolCalls,
			}
			if t.Text != "" {
				msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(t.Text),
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &msg,
			})
			continue
		}

		// Tool results (tool role, one message per response)
		if len(t.ToolResponses) > 0 {
			for _, tr := range t.ToolResponses {
				data, _ := json.Marshal(tr.Data)
				messages = append(messages, openai.ToolMessage(string(data), tr.ID))
			}
			continue
		}

		// Plain turns
		if t.Role == domain.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(t.Text))
		} else {
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}

	// Current user text
	if req.UserText != "" {
		messages = append(messages, openai.UserMessage(req.UserText))
	}

	params.Messages = messages

	// Tools
	var tools []openai.ChatCompletionToolUnionParam
	for _, t := range req.Tools {
		tools = append(tools, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.InputSchema),
				},
			},
		})
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.ChatResponse{}, p.classify(err)
	}

	if len(completion.Choices) == 0 {
		return domain.ChatResponse{}, &domain.ProviderError{
			Provider: p.name, Kind: domain.ErrUnavailable,
			Err: fmt.Errorf("no choices in completion"),
		}
	}

	choice := completion.Choices[0]
	resp := domain.ChatResponse{
		Text:       choice.Message.Content,
		RawContent: choice.Message.ToParam(),
		Usage: &domain.UsageStats{
			Model:        model,
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		resp.ToolCalls = append(resp.ToolCalls, domain.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	logrus.WithFields(logrus.Fields{
		"chat_key":       req.ChatKey,
		"provider":       p.name,
		"model":          model,
		"input_tokens":   resp.Usage.InputTokens,
		"output_tokens":  resp.Usage.OutputTokens,
		"has_tool_calls": len(resp.ToolCalls) > 0,
	}).Debug("[AGENT] Chat completed")

	return resp, nil
}

// classify maps SDK errors onto the retry taxonomy. HTTP statuses come from
// the typed API error; anything without a status is a transport failure.
func (p *OpenAIProvider) classify(err error) error {
	kind := domain.ErrUnavailable

	var apierr *openai.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = domain.ErrTimeout
	case errors.As(err, &apierr):
		switch {
		case apierr.StatusCode == 401 || apierr.StatusCode == 403:
			kind = domain.ErrAuth
		case apierr.StatusCode == 429:
			kind = domain.ErrRateLimited
		case apierr.StatusCode == 400:
			kind = domain.ErrInvalid
		}
	}

	return &domain.ProviderError{Provider: p.name, Kind: kind, Err: err}
}
