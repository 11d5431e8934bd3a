package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loamlabs/loam/internal/agent"
	"github.com/loamlabs/loam/pkg/models"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	// APIKey is the OpenAI API authentication key.
	APIKey string

	// BaseURL overrides the API endpoint, for OpenAI-compatible servers.
	BaseURL string

	// DefaultModel is used when the request does not specify a model.
	DefaultModel string

	// MaxRetries sets the retry attempts for transient failures. Default: 3
	MaxRetries int

	// RetryDelay is the base delay between retries. Default: 1s
	RetryDelay time.Duration
}

// OpenAIProvider implements agent.ChatProvider on top of OpenAI's streaming
// chat completions API. Tool call fragments are accumulated across delta
// chunks and returned as complete calls.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

var _ agent.ChatProvider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a new OpenAI provider. An empty API key is
// allowed for delayed configuration; Chat fails until one is set.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	p := &OpenAIProvider{
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 3
	}
	if p.retryDelay <= 0 {
		p.retryDelay = time.Second
	}
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if base := strings.TrimSpace(cfg.BaseURL); base != "" {
			clientCfg.BaseURL = strings.TrimRight(base, "/")
		}
		p.client = openai.NewClientWithConfig(clientCfg)
	}
	return p
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Chat sends a chat request and aggregates the streamed response.
func (p *OpenAIProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	if p.client == nil {
		return nil, NewProviderError("openai", "", errors.New("api key not configured")).WithCode("invalid_api_key")
	}
	if req == nil {
		return nil, errors.New("request is nil")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: buildOpenAIMessages(req),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !IsRetryable(wrapOpenAIError(lastErr, model)) {
			return nil, wrapOpenAIError(lastErr, model)
		}
	}
	if lastErr != nil {
		return nil, wrapOpenAIError(lastErr, model)
	}
	defer stream.Close()

	return p.readStream(ctx, stream, req.OnDelta, model)
}

func (p *OpenAIProvider) readStream(ctx context.Context, stream *openai.ChatCompletionStream, onDelta func(string), model string) (*agent.ChatResponse, error) {
	var content strings.Builder
	// OpenAI streams tool calls incrementally; fragments are keyed by index.
	pending := make(map[int]*models.ToolCall)
	order := []int{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, NewProviderError("openai", model, err)
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, wrapOpenAIError(err, model)
		}
		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if onDelta != nil {
				onDelta(delta.Content)
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call, ok := pending[index]
			if !ok {
				call = &models.ToolCall{}
				pending[index] = call
				order = append(order, index)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Arguments = append(call.Arguments, tc.Function.Arguments...)
			}
		}
	}

	result := &agent.ChatResponse{Content: content.String()}
	for _, index := range order {
		call := pending[index]
		if call.Name == "" {
			continue
		}
		if len(call.Arguments) == 0 {
			call.Arguments = json.RawMessage(`{}`)
		}
		result.ToolCalls = append(result.ToolCalls, *call)
	}
	return result, nil
}

func buildOpenAIMessages(req *agent.ChatRequest) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)

	if system := strings.TrimSpace(req.System); system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			result = append(result, oaiMsg)
		case models.RoleTool:
			// Each tool result becomes its own message keyed by call id.
			if len(msg.ToolResults) > 0 {
				for _, tr := range msg.ToolResults {
					content := tr.Content
					if !tr.Success && tr.Error != "" {
						content = "Error: " + tr.Error
					}
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    content,
						ToolCallID: tr.ToolCallID,
					})
				}
			} else {
				result = append(result, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleTool,
					Content: msg.Content,
				})
			}
		default:
			role := msg.Role
			if role == "" {
				role = openai.ChatMessageRoleUser
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:    string(role),
				Content: msg.Content,
			})
		}
	}
	return result
}

func wrapOpenAIError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError("openai", model, err).WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		return providerErr
	}
	return NewProviderError("openai", model, err)
}
