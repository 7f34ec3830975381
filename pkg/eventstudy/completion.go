package eventstudy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// Supported completion providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

const (
	defaultOpenAIBaseURL  = "https://api.openai.com/v1"
	defaultGeminiBaseURL  = "https://generativelanguage.googleapis.com/v1beta"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultGeminiModel    = "gemini-2.5-flash"
	defaultLLMMaxTokens   = 1024
	defaultLLMTemperature = 0.2
	jsonOnlySystemPrompt  = "You are a financial research assistant. Answer with a single JSON object and nothing else."
)

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("ai response content is empty")

// TextCompleter turns a prompt into the model's raw text answer.
type TextCompleter interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to TextCompleter.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// LLMOptions selects and configures a completion provider.
type LLMOptions struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Logger      *slog.Logger
}

// NewTextCompleter builds the completer for opts.Provider. Without an API
// key it returns a completer that always fails, so callers fall back.
func NewTextCompleter(opts LLMOptions) (TextCompleter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultLLMTemperature
	}
	maxTokens := defaultInt(opts.MaxTokens, defaultLLMMaxTokens)
	apiKey := strings.TrimSpace(opts.APIKey)

	switch provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		return nil, NewError(ErrCodeInvalidInput, fmt.Sprintf("unsupported llm provider %q", opts.Provider))
	}
	if apiKey == "" {
		logger.Warn("llm api key not configured; model calls will use fallback values", "provider", provider)
		return unconfiguredCompleter{provider: provider}, nil
	}

	switch provider {
	case ProviderAnthropic:
		clientOpts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(apiKey)}
		if base := strings.TrimSpace(opts.BaseURL); base != "" {
			clientOpts = append(clientOpts, anthropicoption.WithBaseURL(base))
		}
		return &anthropicCompleter{
			client:      anthropic.NewClient(clientOpts...),
			model:       firstNonEmpty(opts.Model, defaultAnthropicModel),
			maxTokens:   int64(maxTokens),
			temperature: temperature,
		}, nil
	case ProviderGemini:
		config, err := buildGeminiClientConfig(opts.BaseURL, apiKey)
		if err != nil {
			return nil, WrapError(ErrCodeInvalidInput, "invalid gemini base url", err)
		}
		return &geminiCompleter{
			config:      config,
			model:       firstNonEmpty(opts.Model, defaultGeminiModel),
			temperature: temperature,
		}, nil
	default:
		base, err := normalizeOpenAIBaseURL(opts.BaseURL)
		if err != nil {
			return nil, WrapError(ErrCodeInvalidInput, "invalid openai base url", err)
		}
		return &openAICompleter{
			client:      openai.NewClient(openaioption.WithAPIKey(apiKey), openaioption.WithBaseURL(base)),
			model:       firstNonEmpty(opts.Model, defaultOpenAIModel),
			maxTokens:   int64(maxTokens),
			temperature: temperature,
		}, nil
	}
}

type unconfiguredCompleter struct {
	provider string
}

func (u unconfiguredCompleter) Complete(context.Context, string) (string, error) {
	return "", fmt.Errorf("%s api key not configured", u.provider)
}

type openAICompleter struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

func (c *openAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(jsonOnlySystemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

type anthropicCompleter struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

func (c *anthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		System:      []anthropic.TextBlockParam{{Text: jsonOnlySystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages request failed: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

type geminiCompleter struct {
	config      *genai.ClientConfig
	model       string
	temperature float64
}

func (c *geminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, c.config)
	if err != nil {
		return "", fmt.Errorf("create gemini client failed: %w", err)
	}
	response, err := client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: jsonOnlySystemPrompt}},
		},
		Temperature:      genai.Ptr(float32(c.temperature)),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate content failed: %w", err)
	}
	content := strings.TrimSpace(response.Text())
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

// normalizeOpenAIBaseURL accepts a host, a /v1 root or a full
// /chat/completions endpoint and returns the /v1 root the SDK expects.
func normalizeOpenAIBaseURL(baseURL string) (string, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		trimmed = defaultOpenAIBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasSuffix(lower, "/chat/completions"):
		trimmed = trimmed[:len(trimmed)-len("/chat/completions")]
	case strings.HasSuffix(lower, "/v1"):
	default:
		trimmed += "/v1"
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("invalid base_url scheme: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid base_url host")
	}
	return trimmed + "/", nil
}

func buildGeminiClientConfig(endpoint, apiKey string) (*genai.ClientConfig, error) {
	baseURL, apiVersion, err := parseGeminiBaseURLAndVersion(endpoint)
	if err != nil {
		return nil, err
	}
	return &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: apiVersion,
		},
	}, nil
}

// parseGeminiBaseURLAndVersion splits ".../v1beta" style endpoints into the
// base URL and API version genai wants separately.
func parseGeminiBaseURLAndVersion(endpoint string) (string, string, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		trimmed = defaultGeminiBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", "", fmt.Errorf("invalid gemini endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", "", fmt.Errorf("invalid gemini endpoint scheme: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", "", fmt.Errorf("invalid gemini endpoint host")
	}

	var segments []string
	if path := strings.Trim(parsed.Path, "/"); path != "" {
		segments = strings.Split(path, "/")
	}
	apiVersion := "v1beta"
	prefix := segments
	for idx, segment := range segments {
		if strings.HasPrefix(strings.ToLower(segment), "v1") {
			apiVersion = segment
			prefix = segments[:idx]
			break
		}
	}

	baseURL := fmt.Sprintf("%s://%s/", parsed.Scheme, parsed.Host)
	if basePath := strings.Join(prefix, "/"); basePath != "" {
		baseURL += basePath + "/"
	}
	return baseURL, apiVersion, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
