package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gemini "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/BTreeMap/TripPipe/internal/models"
)

// contentGenerator is the part of *gemini.GenerativeModel the backend uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...gemini.Part) (*gemini.GenerateContentResponse, error)
}

// GeminiClient answers turns with Google's Gemini models.
type GeminiClient struct {
	client *gemini.Client
	model  contentGenerator
	opts   Opts
}

var _ Client = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini backend. An API key is required.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	cfg := buildOpts(DefaultGeminiModel, opts)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	client, err := gemini.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(float32(cfg.Temperature))
	model.SystemInstruction = &gemini.Content{Parts: []gemini.Part{gemini.Text(SystemPrompt)}}

	slog.Debug("GeminiClient.New: client created", "model", cfg.Model, "timeout", cfg.Timeout)
	return &GeminiClient{client: client, model: model, opts: cfg}, nil
}

// Close releases the underlying client.
func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Generate implements Client. The transcript is flattened into one prompt.
func (c *GeminiClient) Generate(ctx context.Context, sessionID string, transcript []models.Message, userText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	prompt := flattenTranscript(transcript, userText)
	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, gemini.Text(prompt))
	text, extractErr := extractText(resp)
	if c.opts.DebugMode {
		entry := debugEntry{Timestamp: start, Method: "generate_content", Model: c.opts.Model, Session: sessionID, Params: prompt, Response: text}
		if err != nil {
			entry.Error = err.Error()
		}
		writeDebugLog(c.opts.StateDir, entry)
	}
	if err != nil {
		slog.Error("GeminiClient.Generate: generation failed", "session", sessionID, "elapsed", time.Since(start), "error", err)
		return "", fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, err)
	}
	if extractErr != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, extractErr)
	}
	slog.Debug("GeminiClient.Generate: content received", "session", sessionID, "elapsed", time.Since(start), "length", len(text))
	return text, nil
}

// extractText joins the text parts of the first candidate.
func extractText(resp *gemini.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoChoicesReturned
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(gemini.Text); ok {
			b.WriteString(string(txt))
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
