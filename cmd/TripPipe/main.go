package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/BTreeMap/TripPipe/internal/api"
	"github.com/BTreeMap/TripPipe/internal/flow"
	"github.com/BTreeMap/TripPipe/internal/genai"
	"github.com/BTreeMap/TripPipe/internal/lockfile"
	"github.com/BTreeMap/TripPipe/internal/messaging"
	"github.com/BTreeMap/TripPipe/internal/scheduler"
	"github.com/BTreeMap/TripPipe/internal/session"
	"github.com/BTreeMap/TripPipe/internal/store"
	"github.com/BTreeMap/TripPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/TripPipe/internal/util"
	"github.com/BTreeMap/TripPipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TripPipe state data
	DefaultStateDir = "/var/lib/trippipe"
	// DefaultAppDBFileName is the default SQLite audit database filename
	DefaultAppDBFileName = "trippipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultTelegramSendRate is messages per second per chat
	DefaultTelegramSendRate = 1.0
	// telegramSendBurst lets a reply and its echo go out back to back
	telegramSendBurst = 3
)

// Transport names accepted by TRANSPORT / -transport.
const (
	TransportTelegram = "telegram"
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

var errUnknownTransport = errors.New("unknown transport")

// Config holds environment configuration, overridden by flags.
type Config struct {
	Transport        string
	TelegramToken    string
	TelegramSendRate float64
	ModelProvider    string
	OpenAIKey        string
	GeminiKey        string
	GenAITimeout     time.Duration
	GenAIDebug       bool
	DatabaseDSN      string
	WhatsAppDBDSN    string
	StateDir         string
	RedisAddr        string
	APIAddr          string
	SessionIdleTTL   time.Duration
	TwilioWebhookURL string
	QROutput         string
	NumericCode      bool
}

func main() {
	initializeLogger()

	config, err := parseCommandLineFlags(loadEnvironmentConfig(), os.Args[1:])
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping TripPipe", "transport", config.Transport, "model_provider", config.ModelProvider)
	if err := run(ctx, config); err != nil {
		slog.Error("TripPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TripPipe exited successfully")
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Transport:        strings.ToLower(util.GetEnv("TRANSPORT", TransportTelegram)),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramSendRate: util.ParseFloatEnv("TELEGRAM_SEND_RATE", DefaultTelegramSendRate),
		ModelProvider:    os.Getenv("MODEL_PROVIDER"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		GeminiKey:        os.Getenv("GEMINI_API_KEY"),
		GenAITimeout:     util.ParseDurationEnv("GENAI_TIMEOUT", genai.DefaultTimeout),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),
		DatabaseDSN:      os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:         util.GetEnv("TRIPPIPE_STATE_DIR", DefaultStateDir),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		APIAddr:          util.GetEnv("API_ADDR", api.DefaultAddr),
		SessionIdleTTL:   util.ParseDurationEnv("SESSION_IDLE_TTL", scheduler.DefaultIdleTTL),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
	}

	slog.Debug("environment variables loaded",
		"TRANSPORT", config.Transport,
		"TELEGRAM_BOT_TOKEN_SET", config.TelegramToken != "",
		"MODEL_PROVIDER", config.ModelProvider,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"DATABASE_URL_SET", config.DatabaseDSN != "",
		"TRIPPIPE_STATE_DIR", config.StateDir,
		"REDIS_ADDR", config.RedisAddr,
		"API_ADDR", config.APIAddr,
		"SESSION_IDLE_TTL", config.SessionIdleTTL)

	return config
}

// parseCommandLineFlags applies command line overrides and fills the
// state-directory defaults for the databases.
func parseCommandLineFlags(config Config, args []string) (Config, error) {
	fs := flag.NewFlagSet("trippipe", flag.ContinueOnError)
	fs.StringVar(&config.Transport, "transport", config.Transport, "chat transport: telegram, whatsapp or twilio (overrides $TRANSPORT)")
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for TripPipe data (overrides $TRIPPIPE_STATE_DIR)")
	fs.StringVar(&config.DatabaseDSN, "db-dsn", config.DatabaseDSN, "audit database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&config.WhatsAppDBDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.ModelProvider, "model-provider", config.ModelProvider, "model backend: openai or gemini (overrides $MODEL_PROVIDER)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.RedisAddr, "redis-addr", config.RedisAddr, "Redis address for shared inbound dedup (overrides $REDIS_ADDR)")
	fs.DurationVar(&config.SessionIdleTTL, "session-idle-ttl", config.SessionIdleTTL, "evict sessions idle for longer than this (overrides $SESSION_IDLE_TTL)")
	fs.StringVar(&config.QROutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", false, "print the raw WhatsApp pairing code instead of a QR code")
	if err := fs.Parse(args); err != nil {
		return config, err
	}

	config.Transport = strings.ToLower(strings.TrimSpace(config.Transport))
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	return config, nil
}

// ensureDirectoriesExist creates the state directory used by the lock file,
// SQLite databases and debug logs.
func ensureDirectoriesExist(config Config) error {
	if err := os.MkdirAll(config.StateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", config.StateDir, err)
	}
	if store.DetectDSNType(config.DatabaseDSN) == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(config.DatabaseDSN), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return nil
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config, key string) []genai.Option {
	opts := []genai.Option{genai.WithAPIKey(key), genai.WithTimeout(config.GenAITimeout)}
	if config.GenAIDebug {
		opts = append(opts, genai.WithDebugMode(true), genai.WithStateDir(config.StateDir))
	}
	return opts
}

// buildModel creates the configured model backend and its close func.
func buildModel(ctx context.Context, config Config) (genai.Client, func(), error) {
	provider, err := genai.ParseProvider(config.ModelProvider)
	if err != nil {
		return nil, nil, err
	}
	switch provider {
	case genai.ProviderGemini:
		client, err := genai.NewGeminiClient(ctx, buildGenAIOptions(config, config.GeminiKey)...)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {
			if err := client.Close(); err != nil {
				slog.Warn("buildModel: failed to close Gemini client", "error", err)
			}
		}, nil
	default:
		client, err := genai.NewOpenAIClient(buildGenAIOptions(config, config.OpenAIKey)...)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}
}

// transport bundles the chat service with what main needs around it.
type transport struct {
	svc     messaging.Service
	webhook http.Handler
	close   func()
}

// buildTransport connects the configured chat transport.
func buildTransport(config Config) (*transport, error) {
	switch config.Transport {
	case TransportTelegram:
		bot, err := messaging.NewTelegramBot(config.TelegramToken)
		if err != nil {
			return nil, err
		}
		svc := messaging.NewTelegramService(bot,
			messaging.WithSendRate(rate.Limit(config.TelegramSendRate), telegramSendBurst))
		return &transport{svc: svc, close: func() {}}, nil

	case TransportWhatsApp:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDBDSN)}
		if config.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(config.QROutput))
		}
		if config.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return &transport{svc: messaging.NewWhatsAppService(client), close: client.Disconnect}, nil

	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		var opts []messaging.TwilioOption
		if config.TwilioWebhookURL != "" {
			opts = append(opts, messaging.WithWebhookValidation(client.AuthToken(), config.TwilioWebhookURL))
		} else {
			slog.Warn("buildTransport: TWILIO_WEBHOOK_URL not set, webhook signatures are not checked")
		}
		svc := messaging.NewTwilioService(client, opts...)
		return &transport{svc: svc, webhook: http.HandlerFunc(svc.WebhookHandler), close: func() {}}, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownTransport, config.Transport)
}

// buildDedup prefers Redis when configured so several instances share records.
func buildDedup(ctx context.Context, config Config, backend store.Backend) (store.DedupRepo, func(), error) {
	if config.RedisAddr == "" {
		return backend, func() {}, nil
	}
	rdb, err := store.ConnectRedis(ctx, config.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return store.NewRedisDedup(rdb, store.DefaultDedupTTL), func() { rdb.Close() }, nil
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, config Config) error {
	if err := ensureDirectoriesExist(config); err != nil {
		return err
	}

	lock, err := lockfile.AcquireLock(config.StateDir, config.Transport)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("run: failed to release lock", "error", err)
		}
	}()

	backend, err := store.Open(config.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer backend.Close()

	dedup, closeDedup, err := buildDedup(ctx, config, backend)
	if err != nil {
		return err
	}
	defer closeDedup()

	model, closeModel, err := buildModel(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}
	defer closeModel()

	t, err := buildTransport(config)
	if err != nil {
		return fmt.Errorf("failed to start %s transport: %w", config.Transport, err)
	}
	defer t.close()

	sessions := session.NewStore()
	engine := flow.NewEngine(sessions, model, flow.WithRecorder(backend))
	dispatcher := messaging.NewDispatcher(t.svc, engine,
		messaging.WithDedup(dedup),
		messaging.WithAuditRecorder(backend))

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleIdleSweep(scheduler.DefaultSweepSpec, sessions, config.SessionIdleTTL, func(ids []string) {
		slog.Info("run: idle sessions evicted", "sessions", ids)
	}); err != nil {
		return fmt.Errorf("failed to schedule idle sweep: %w", err)
	}

	if err := t.svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	dispatcher.Start(ctx)

	apiOpts := []api.Option{
		api.WithAddr(config.APIAddr),
		api.WithTransport(config.Transport),
		api.WithEvents(backend),
		api.WithMailboxCount(dispatcher.Active),
	}
	if t.webhook != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(t.webhook))
	}
	server := api.NewServer(sessions, apiOpts...)

	slog.Info("run: TripPipe ready", "transport", config.Transport, "api_addr", config.APIAddr)
	serveErr := server.Run(ctx)

	if err := t.svc.Stop(); err != nil {
		slog.Warn("run: failed to stop messaging service", "error", err)
	}
	dispatcher.Wait()
	return serveErr
}
