package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tutorlinkhq/tutorbot/internal/api"
	"github.com/tutorlinkhq/tutorbot/internal/dialog"
	"github.com/tutorlinkhq/tutorbot/internal/homework"
	"github.com/tutorlinkhq/tutorbot/internal/messaging"
	"github.com/tutorlinkhq/tutorbot/internal/payment"
	"github.com/tutorlinkhq/tutorbot/internal/registration"
	"github.com/tutorlinkhq/tutorbot/internal/scheduler"
	"github.com/tutorlinkhq/tutorbot/internal/store"
	"github.com/tutorlinkhq/tutorbot/internal/transcript"
	"github.com/tutorlinkhq/tutorbot/internal/twilio"
	"github.com/tutorlinkhq/tutorbot/internal/util"
	"github.com/tutorlinkhq/tutorbot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for tutorbot state data
	DefaultStateDir = "/var/lib/tutorbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "tutorbot.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping tutorbot with configured modules")
	if err := run(flags); err != nil {
		slog.Error("tutorbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("tutorbot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	RedisURL       string
	StateDir       string
	APIAddr        string
	Transport      string
	BotName        string
	Price          string
	PaymentDetails string
	ChatBufferMax  int
	IdleTimeout    time.Duration
	ReapSchedule   string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	dbDSN         *string
	redisURL      *string
	apiAddr       *string
	transport     *string
	botName       *string
	price         *string
	payDetails    *string
	chatBufferMax *int
	idleTimeout   *time.Duration
	reapSchedule  *string
}

// initializeLogger sets up structured logging, level from TUTORBOT_LOG_LEVEL.
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("TUTORBOT_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("TUTORBOT_REDIS_URL"),
		StateDir:       os.Getenv("TUTORBOT_STATE_DIR"),
		APIAddr:        os.Getenv("TUTORBOT_API_ADDR"),
		Transport:      os.Getenv("TUTORBOT_TRANSPORT"),
		BotName:        os.Getenv("TUTORBOT_BOT_NAME"),
		Price:          os.Getenv("TUTORBOT_PRICE"),
		PaymentDetails: os.Getenv("TUTORBOT_PAYMENT_DETAILS"),
		ChatBufferMax:  util.ParseIntEnv("TUTORBOT_CHAT_BUFFER_MAX", 0),
		IdleTimeout:    util.ParseDurationEnv("TUTORBOT_IDLE_TIMEOUT", dialog.DefaultIdleTimeout),
		ReapSchedule:   os.Getenv("TUTORBOT_REAP_SCHEDULE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TUTORBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.Transport == "" {
		config.Transport = "whatsapp"
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"TUTORBOT_REDIS_URL_SET", config.RedisURL != "",
		"TUTORBOT_STATE_DIR", config.StateDir,
		"TUTORBOT_API_ADDR", config.APIAddr,
		"TUTORBOT_TRANSPORT", config.Transport,
		"TUTORBOT_IDLE_TIMEOUT", config.IdleTimeout,
		"TUTORBOT_REAP_SCHEDULE", config.ReapSchedule)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:      flag.String("qr-output", "", "path to write login QR code"),
		numeric:       flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for tutorbot data (overrides $TUTORBOT_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN for the record store (overrides $DATABASE_URL)"),
		redisURL:      flag.String("redis-url", config.RedisURL, "Redis URL for conversation contexts (overrides $TUTORBOT_REDIS_URL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "admin API server address (overrides $TUTORBOT_API_ADDR)"),
		transport:     flag.String("transport", config.Transport, "message transport, whatsapp or twilio (overrides $TUTORBOT_TRANSPORT)"),
		botName:       flag.String("bot-name", config.BotName, "bot display name in replies (overrides $TUTORBOT_BOT_NAME)"),
		price:         flag.String("price", config.Price, "subscription price shown in payment flow (overrides $TUTORBOT_PRICE)"),
		payDetails:    flag.String("payment-details", config.PaymentDetails, "transfer instructions shown in payment flow (overrides $TUTORBOT_PAYMENT_DETAILS)"),
		chatBufferMax: flag.Int("chat-buffer-max", config.ChatBufferMax, "max buffered chat messages per session (overrides $TUTORBOT_CHAT_BUFFER_MAX)"),
		idleTimeout:   flag.Duration("idle-timeout", config.IdleTimeout, "idle duration before a conversation is reset (overrides $TUTORBOT_IDLE_TIMEOUT)"),
		reapSchedule:  flag.String("reap-cron", config.ReapSchedule, "cron expression for the idle sweep (overrides $TUTORBOT_REAP_SCHEDULE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisURL_set", *flags.redisURL != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport,
		"idleTimeout", *flags.idleTimeout)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore selects the record store backing from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	switch store.DetectDSNType(dsn) {
	case "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
		return store.NewSQLiteStore(store.WithDSN(dsn))
	}
}

// buildConversationStore selects the conversation backing. Redis when a
// URL is configured, in-memory otherwise.
func buildConversationStore(ctx context.Context, flags Flags) (dialog.ContextStore, error) {
	if *flags.redisURL != "" {
		slog.Debug("Configuring Redis conversation store")
		return store.NewRedisConversationStore(ctx, store.WithDSN(*flags.redisURL))
	}
	slog.Debug("No Redis URL provided, using in-memory conversation store")
	return store.NewInMemoryConversationStore(), nil
}

// buildMessagingService selects the message transport.
func buildMessagingService(flags Flags) (messaging.Service, error) {
	if *flags.transport == "twilio" {
		client, err := twilio.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	}

	var waOpts []whatsapp.Option
	waOpts = append(waOpts, whatsapp.WithDBDSN(whatsAppDSN(flags)))
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, err
	}
	return messaging.NewWhatsAppService(client), nil
}

// whatsAppDSN derives the whatsmeow session database location. Postgres
// record stores share the DSN; file-based setups get a sibling SQLite file.
func whatsAppDSN(flags Flags) string {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return *flags.dbDSN
	}
	return filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName)
}

// run wires every module together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Store close failed", "error", err)
		}
	}()

	backing, err := buildConversationStore(ctx, flags)
	if err != nil {
		return err
	}

	msgService, err := buildMessagingService(flags)
	if err != nil {
		return err
	}

	reg := registration.NewService(st)
	hw := homework.NewService(st)
	pay := payment.NewService(st, reg)
	archiver := transcript.NewService(st)

	convStore := dialog.NewStore(backing)
	router := dialog.NewRouter(convStore, reg, hw, pay, archiver, dialog.Config{
		BotName:        *flags.botName,
		Price:          *flags.price,
		PaymentDetails: *flags.payDetails,
		ChatBufferMax:  *flags.chatBufferMax,
	})
	bridge := dialog.NewBridge(router, reg)
	reaper := dialog.NewReaper(router, reg, dialog.WithIdleTimeout(*flags.idleTimeout))

	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := msgService.Stop(); err != nil {
			slog.Error("Messaging service stop failed", "error", err)
		}
	}()

	inbound := messaging.NewInboundProcessor(msgService, router, reg)
	inbound.Start(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.ScheduleReaper(ctx, reaper, *flags.reapSchedule); err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(bridge, convStore, st, msgService, apiOpts...)

	// Twilio delivers inbound messages over HTTP rather than a socket, so
	// its webhook rides on the admin API mux.
	if ts, ok := msgService.(*messaging.TwilioService); ok {
		server.Mux().HandleFunc("/webhook/twilio", ts.TwilioWebhookHandler)
	}

	return server.Run(ctx)
}
