package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vcell-ai/assistant/config"
	"github.com/vcell-ai/assistant/logger"
)

// ============================================================================
// OPENAI PROVIDER IMPLEMENTATION
// ============================================================================

// OpenAIProvider implements Provider against an OpenAI-compatible
// chat-completions endpoint, including Azure OpenAI deployments.
type OpenAIProvider struct {
	config *config.LLMConfig
	client *http.Client
	log    *slog.Logger
}

// openAIRequest is the chat-completions request payload.
type openAIRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// wireMessage is a message in OpenAI wire format. Content may be a plain
// string or a multi-part array when an image is attached.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    interface{}    `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolSpec `json:"function"`
}

type wireToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	Strict      bool                   `json:"strict,omitempty"`
}

type openAIResponse struct {
	Choices []choice     `json:"choices"`
	Usage   usage        `json:"usage"`
	Error   *openAIError `json:"error,omitempty"`
}

type choice struct {
	Message struct {
		Content   string         `json:"content"`
		ToolCalls []wireToolCall `json:"tool_calls"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// NewOpenAIProviderFromConfig creates a provider from config.
func NewOpenAIProviderFromConfig(cfg *config.LLMConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api_key is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("llm: host is required")
	}
	return &OpenAIProvider{
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		log:    logger.With("llm"),
	}, nil
}

// GetModelName returns the configured model identifier.
func (p *OpenAIProvider) GetModelName() string {
	return p.config.Model
}

// Close releases provider resources.
func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// Generate sends the conversation and returns the model's reply.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition, toolChoice string) (*Completion, error) {
	req := p.buildRequest(messages, tools, toolChoice)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIVersion != "" {
		httpReq.Header.Set("api-key", p.config.APIKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("api returned no choices")
	}

	ch := parsed.Choices[0]
	completion := &Completion{
		Content:    ch.Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
	}
	for _, tc := range ch.Message.ToolCalls {
		args := make(map[string]interface{})
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				p.log.Warn("failed to parse tool call arguments",
					"tool", tc.Function.Name, "error", err)
				args = make(map[string]interface{})
			}
		}
		completion.ToolCalls = append(completion.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	p.log.Debug("completion received",
		"model", p.config.Model,
		"finish_reason", ch.FinishReason,
		"tool_calls", len(completion.ToolCalls),
		"tokens", completion.TokensUsed)

	return completion, nil
}

// endpoint builds the chat-completions URL. Azure deployments route through
// the deployment path with an api-version query parameter.
func (p *OpenAIProvider) endpoint() string {
	host := strings.TrimRight(p.config.Host, "/")
	if p.config.APIVersion != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			host, p.config.Model, p.config.APIVersion)
	}
	return host + "/chat/completions"
}

func (p *OpenAIProvider) buildRequest(messages []Message, tools []ToolDefinition, toolChoice string) *openAIRequest {
	req := &openAIRequest{
		Model:       p.config.Model,
		Messages:    toWireMessages(messages),
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
	}
	if len(tools) > 0 {
		for _, t := range tools {
			req.Tools = append(req.Tools, wireTool{
				Type: "function",
				Function: wireToolSpec{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
					Strict:      t.Strict,
				},
			})
		}
		if toolChoice != "" {
			req.ToolChoice = toolChoice
		}
	}
	return req
}

func toWireMessages(messages []Message) []wireMessage {
	wire := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		if m.ImageURL != "" {
			parts := []map[string]interface{}{
				{"type": "text", "text": m.Content},
				{"type": "image_url", "image_url": map[string]interface{}{"url": m.ImageURL}},
			}
			wm.Content = parts
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		wire = append(wire, wm)
	}
	return wire
}
