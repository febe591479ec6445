// Package openai provides an llm.Provider for OpenAI and OpenAI-compatible
// chat APIs (DeepSeek, Qwen via DashScope, Ollama).
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lorekeeper/recall/pkg/llm"
)

// Preset is a known OpenAI-compatible service.
type Preset struct {
	BaseURL string
	Model   string
}

// Presets maps provider names to their endpoint and default model.
var Presets = map[string]Preset{
	"openai":   {BaseURL: "", Model: "gpt-4o-mini"},
	"deepseek": {BaseURL: "https://api.deepseek.com/v1", Model: "deepseek-chat"},
	"qwen":     {BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", Model: "qwen-plus"},
	"ollama":   {BaseURL: "http://localhost:11434/v1", Model: "llama3.1"},
}

// Client implements llm.Provider on the Chat Completions API.
type Client struct {
	client *openai.Client
	model  string
}

// Config is the configuration for the chat client.
type Config struct {
	// Provider selects a preset; empty means "openai".
	Provider string

	// APIKey is the API key. Ollama accepts any value.
	APIKey string

	// Model overrides the preset's model.
	Model string

	// BaseURL overrides the preset's endpoint.
	BaseURL string
}

// NewClient creates a new chat client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("NewOpenAILLM: config is required")
	}
	name := strings.ToLower(cfg.Provider)
	if name == "" {
		name = "openai"
	}
	preset, ok := Presets[name]
	if !ok {
		return nil, fmt.Errorf("NewOpenAILLM: unknown provider %q", cfg.Provider)
	}
	if cfg.APIKey == "" && name != "ollama" {
		return nil, errors.New("NewOpenAILLM: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if preset.BaseURL != "" {
		config.BaseURL = preset.BaseURL
	}
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := preset.Model
	if cfg.Model != "" {
		model = cfg.Model
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Model returns the model requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Generate generates text based on a single user prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return c.GenerateWithMessages(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts...)
}

// GenerateWithMessages generates text from a message history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
		Stop:        options.Stop,
	}
	if options.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm generation failed: no choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// Close is a no-op; the SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
