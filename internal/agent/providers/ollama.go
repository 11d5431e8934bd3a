// Package providers contains chat provider implementations.
package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/loamlabs/loam/internal/agent"
	"github.com/loamlabs/loam/pkg/models"
)

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// OllamaProvider talks to a local Ollama daemon over its NDJSON chat API.
// The response is streamed internally and aggregated into a single
// ChatResponse; incremental text is forwarded through OnDelta.
type OllamaProvider struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

var _ agent.ChatProvider = (*OllamaProvider)(nil)

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaProvider{
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

// Name returns the provider name.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// BaseURL returns the daemon endpoint this provider targets.
func (p *OllamaProvider) BaseURL() string {
	return p.baseURL
}

// Chat sends a chat request and aggregates the streamed response.
func (p *OllamaProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, NewProviderError("ollama", req.Model, errors.New("model is required"))
	}

	payload := ollamaChatRequest{
		Model:    model,
		Stream:   true,
		Messages: buildOllamaMessages(req),
	}
	if len(req.Tools) > 0 {
		payload.Tools = toOpenAITools(req.Tools)
	}
	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if len(options) > 0 {
		payload.Options = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError("ollama", model, fmt.Errorf("marshal request: %w", err))
	}

	url := p.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if readErr != nil {
			return nil, NewProviderError("ollama", model, fmt.Errorf("ollama status %d (read body failed: %w)", resp.StatusCode, readErr)).WithStatus(resp.StatusCode)
		}
		return nil, NewProviderError("ollama", model, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}

	return p.readStream(ctx, resp.Body, req.OnDelta, model)
}

func (p *OllamaProvider) readStream(ctx context.Context, body io.Reader, onDelta func(string), model string) (*agent.ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var content strings.Builder
	var toolCalls []models.ToolCall
	emitted := map[string]struct{}{}
	result := &agent.ChatResponse{}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, NewProviderError("ollama", model, err)
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return nil, NewProviderError("ollama", model, fmt.Errorf("decode response: %w", err))
		}
		if chunk.Error != "" {
			return nil, NewProviderError("ollama", model, errors.New(chunk.Error))
		}

		if chunk.Message != nil {
			if chunk.Message.Content != "" {
				content.WriteString(chunk.Message.Content)
				if onDelta != nil {
					onDelta(chunk.Message.Content)
				}
			}
			for _, tc := range chunk.Message.ToolCalls {
				key := toolCallKey(tc)
				if key == "" {
					key = uuid.NewString()
				}
				if _, ok := emitted[key]; ok {
					continue
				}
				emitted[key] = struct{}{}

				callID := strings.TrimSpace(tc.ID)
				if callID == "" {
					callID = uuid.NewString()
				}
				args := tc.Function.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				toolCalls = append(toolCalls, models.ToolCall{
					ID:        callID,
					Name:      strings.TrimSpace(tc.Function.Name),
					Arguments: args,
				})
			}
		}

		if chunk.Done {
			result.InputTokens = chunk.PromptEvalCount
			result.OutputTokens = chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, NewProviderError("ollama", model, err)
	}

	result.Content = content.String()
	result.ToolCalls = toolCalls
	return result, nil
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []openai.Tool       `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	Error           string             `json:"error"`
	EvalCount       int                `json:"eval_count"`
	PromptEvalCount int                `json:"prompt_eval_count"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func buildOllamaMessages(req *agent.ChatRequest) []ollamaChatMessage {
	messages := make([]ollamaChatMessage, 0, len(req.Messages)+1)
	toolNames := map[string]string{}
	for _, msg := range req.Messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" && tc.Name != "" {
				toolNames[tc.ID] = tc.Name
			}
		}
	}
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: system})
	}
	for _, msg := range req.Messages {
		role := msg.Role
		if role == "" {
			role = models.RoleUser
		}
		switch role {
		case models.RoleAssistant:
			ollamaMsg := ollamaChatMessage{Role: string(role), Content: msg.Content}
			if len(msg.ToolCalls) > 0 {
				ollamaMsg.ToolCalls = make([]ollamaToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					args := tc.Arguments
					if len(args) == 0 {
						args = json.RawMessage(`{}`)
					}
					ollamaMsg.ToolCalls[i] = ollamaToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: ollamaToolFunction{
							Name:      tc.Name,
							Arguments: args,
						},
					}
				}
			}
			messages = append(messages, ollamaMsg)
		case models.RoleTool:
			if len(msg.ToolResults) > 0 {
				for _, tr := range msg.ToolResults {
					content := tr.Content
					if !tr.Success && tr.Error != "" {
						content = "Error: " + tr.Error
					}
					messages = append(messages, ollamaChatMessage{
						Role:     "tool",
						Content:  content,
						ToolName: toolNames[tr.ToolCallID],
					})
				}
			} else {
				messages = append(messages, ollamaChatMessage{Role: string(role), Content: msg.Content})
			}
		default:
			messages = append(messages, ollamaChatMessage{Role: string(role), Content: msg.Content})
		}
	}
	return messages
}

func toolCallKey(tc ollamaToolCall) string {
	if id := strings.TrimSpace(tc.ID); id != "" {
		return id
	}
	name := strings.TrimSpace(tc.Function.Name)
	args := strings.TrimSpace(string(tc.Function.Arguments))
	if name == "" && args == "" {
		return ""
	}
	return name + ":" + args
}

// OllamaPool hands out one provider per daemon endpoint, so per-request
// host overrides reuse clients instead of rebuilding them.
type OllamaPool struct {
	mu        sync.Mutex
	providers map[string]*OllamaProvider
	defaults  OllamaConfig
}

// NewOllamaPool creates a pool seeded with the default daemon config.
func NewOllamaPool(defaults OllamaConfig) *OllamaPool {
	return &OllamaPool{
		providers: make(map[string]*OllamaProvider),
		defaults:  defaults,
	}
}

// For returns the provider for the given host, creating it on first use.
// An empty host resolves to the configured default daemon.
func (p *OllamaPool) For(host string) *OllamaProvider {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = strings.TrimRight(strings.TrimSpace(p.defaults.BaseURL), "/")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if provider, ok := p.providers[host]; ok {
		return provider
	}
	cfg := p.defaults
	cfg.BaseURL = host
	provider := NewOllamaProvider(cfg)
	p.providers[host] = provider
	return provider
}
