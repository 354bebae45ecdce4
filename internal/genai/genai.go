// Package genai provides the language-model backends that answer unscripted
// turns of a travel-planning conversation.
//
// Backends are stateless: the caller passes the transcript so far with every
// call. Model, temperature and system instructions are owned by this package.
package genai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
)

// Client generates the assistant's next reply.
type Client interface {
	// Generate returns the reply to userText given the prior transcript.
	// Every failure wraps models.ErrGenerationUnavailable.
	Generate(ctx context.Context, sessionID string, transcript []models.Message, userText string) (string, error)
}

// Provider names a model backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// ParseProvider validates a provider name; empty selects OpenAI.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProviderOpenAI:
		return ProviderOpenAI, nil
	case ProviderGemini:
		return ProviderGemini, nil
	}
	return "", errors.New("unknown model provider: " + s)
}

// Defaults
const (
	DefaultOpenAIModel  = "gpt-4o-mini"
	DefaultGeminiModel  = "gemini-2.0-flash"
	DefaultTemperature  = 0.7
	DefaultTimeout      = 45 * time.Second
	debugDirName        = "debug"
	transcriptUserLabel = "Human"
	transcriptBotLabel  = "AI Assistant"
)

var (
	// ErrMissingAPIKey is returned when a backend is constructed without a key.
	ErrMissingAPIKey = errors.New("API key not set")
	// ErrNoChoicesReturned is returned when the model answers with no candidates.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyResponse is returned when the model answers with blank text.
	ErrEmptyResponse = errors.New("empty response")
)

// SystemPrompt fixes the assistant's persona, the five-topic flow and the
// markup it may use.
const SystemPrompt = `You are a helpful travel agency assistant. You help users plan their vacations by providing information about destinations, accommodations, flights, and activities.

Follow this exact conversation flow:
1. When a user expresses interest in a vacation, ask about:
   - When exactly they are planning to travel
   - How many people will be traveling
   - If they have specific destinations in mind
   - Their approximate budget range

2. When they provide these details, recommend exactly three destinations in Bali that match their criteria:
   - Ubud - Highlight cultural experiences, rice terraces, and wellness retreats
   - Seminyak/Kuta - Mention beach resorts, surfing, and vibrant nightlife
   - Uluwatu - Position as a scenic clifftop area with luxury resorts and temples

3. For destination inquiries, provide safety information, family activities, weather, and travel requirements

4. For resort inquiries, provide specific options with pricing that fits their budget

5. For flight inquiries, provide realistic flight options with times and prices

6. For activity inquiries, provide nearby attractions and family-friendly options

When formatting your responses, ONLY use these HTML tags:
- Use <b>text</b> for bold text
- Use <i>text</i> for italic text
- Use <code>text</code> for code or monospaced text
- Use • for bullet points (not - or *)

DO NOT use any other HTML tags like <h1>, <h2>, <h3>, <p>, <div>, etc.
DO NOT use Markdown formatting like # for headers, ** for bold, or * for italic.`

// Opts holds configuration shared by all backends.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	DebugMode   bool
	StateDir    string
}

// Option defines a configuration option for a backend.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the backend's default model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) {
		o.Temperature = t
	}
}

// WithTimeout bounds each Generate call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithDebugMode writes every request/response pair under StateDir/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
	}
}

// WithStateDir sets the directory debug logs are written to.
func WithStateDir(dir string) Option {
	return func(o *Opts) {
		o.StateDir = dir
	}
}

func buildOpts(defaultModel string, opts []Option) Opts {
	cfg := Opts{Model: defaultModel, Temperature: DefaultTemperature, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}

// flattenTranscript renders the conversation as a single prompt for backends
// without native chat history.
func flattenTranscript(transcript []models.Message, userText string) string {
	var b strings.Builder
	b.WriteString("Current conversation:\n")
	for _, m := range transcript {
		label := transcriptUserLabel
		if m.Role == models.RoleAssistant {
			label = transcriptBotLabel
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString(transcriptUserLabel + ": " + userText + "\n")
	b.WriteString(transcriptBotLabel + ":")
	return b.String()
}
