package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/TripPipe/internal/models"
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient answers turns with the OpenAI chat completions API.
type OpenAIClient struct {
	chat chatService
	opts Opts
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates an OpenAI backend. An API key is required.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	cfg := buildOpts(DefaultOpenAIModel, opts)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("OpenAIClient.New: client created", "model", cfg.Model, "timeout", cfg.Timeout)
	return &OpenAIClient{chat: &cli.Chat.Completions, opts: cfg}, nil
}

// buildMessages lays out system instructions, the transcript and the new turn.
func buildMessages(transcript []models.Message, userText string) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(transcript)+2)
	messages = append(messages, openai.SystemMessage(SystemPrompt))
	for _, m := range transcript {
		switch m.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return append(messages, openai.UserMessage(userText))
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, sessionID string, transcript []models.Message, userText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.opts.Model),
		Messages:    buildMessages(transcript, userText),
		Temperature: openai.Float(c.opts.Temperature),
	}

	start := time.Now()
	resp, err := c.chat.New(ctx, params)
	if c.opts.DebugMode {
		entry := debugEntry{Timestamp: start, Method: "chat_completion", Model: c.opts.Model, Session: sessionID, Params: params, Response: resp}
		if err != nil {
			entry.Error = err.Error()
		}
		writeDebugLog(c.opts.StateDir, entry)
	}
	if err != nil {
		slog.Error("OpenAIClient.Generate: completion failed", "session", sessionID, "elapsed", time.Since(start), "error", err)
		return "", fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, ErrNoChoicesReturned)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, ErrEmptyResponse)
	}
	slog.Debug("OpenAIClient.Generate: completion received", "session", sessionID, "elapsed", time.Since(start), "length", len(content))
	return content, nil
}
