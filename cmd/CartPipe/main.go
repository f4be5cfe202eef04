package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/api"
	"github.com/BTreeMap/CartPipe/internal/flow"
	"github.com/BTreeMap/CartPipe/internal/genai"
	"github.com/BTreeMap/CartPipe/internal/lockfile"
	"github.com/BTreeMap/CartPipe/internal/store"
	"github.com/BTreeMap/CartPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CartPipe state data
	DefaultStateDir = "/var/lib/cartpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "cartpipe.db"
	// DefaultOutboxPoll is how often queued lead notifications are checked
	DefaultOutboxPoll = 5 * time.Second
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := acquireDatabaseLock(flags)
	if err != nil {
		slog.Error("Failed to lock database", "error", err)
		os.Exit(1)
	}

	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags, config)
	apiOpts := buildAPIOptions(flags, config)

	slog.Info("Bootstrapping CartPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	err = api.Run(storeOpts, genaiOpts, apiOpts)
	lock.Release()
	if err != nil {
		slog.Error("CartPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CartPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	StateDir     string
	OpenAIKey    string
	OpenAIModel  string
	EmbedModel   string
	APIAddr      string
	SeedFile     string
	HistoryLimit int
	OutboxPoll   time.Duration
	Debug        bool
	LogLevel     string
}

// Flags holds command line flag values
type Flags struct {
	stateDir     *string
	dbDSN        *string
	openaiKey    *string
	openaiModel  *string
	embedModel   *string
	apiAddr      *string
	seedFile     *string
	historyLimit *int
}

// initializeLogger installs a text logger on stdout. Unknown levels mean debug.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("CARTPIPE_STATE_DIR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  os.Getenv("OPENAI_MODEL"),
		EmbedModel:   os.Getenv("EMBED_MODEL"),
		APIAddr:      os.Getenv("API_ADDR"),
		SeedFile:     os.Getenv("CARTPIPE_SEED_FILE"),
		HistoryLimit: util.ParseIntEnv("CARTPIPE_HISTORY_LIMIT", flow.DefaultHistoryLimit),
		OutboxPoll:   util.ParseDurationEnv("CARTPIPE_OUTBOX_POLL", DefaultOutboxPoll),
		Debug:        util.ParseBoolEnv("CARTPIPE_DEBUG", false),
		LogLevel:     os.Getenv("CARTPIPE_LOG_LEVEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CARTPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Without a database URL the store is a SQLite file in the state directory.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CARTPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"CARTPIPE_SEED_FILE", config.SeedFile,
		"CARTPIPE_HISTORY_LIMIT", config.HistoryLimit,
		"CARTPIPE_OUTBOX_POLL", config.OutboxPoll,
		"CARTPIPE_DEBUG", config.Debug)

	return config
}

// parseCommandLineFlags parses args into fs with environment defaults.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		stateDir:     fs.String("state-dir", config.StateDir, "state directory for CartPipe data (overrides $CARTPIPE_STATE_DIR)"),
		dbDSN:        fs.String("db-dsn", config.DatabaseURL, "PostgreSQL URL or SQLite path (overrides $DATABASE_URL)"),
		openaiKey:    fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:  fs.String("openai-model", config.OpenAIModel, "chat model (overrides $OPENAI_MODEL)"),
		embedModel:   fs.String("embed-model", config.EmbedModel, "embedding model for FAQ search (overrides $EMBED_MODEL)"),
		apiAddr:      fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		seedFile:     fs.String("seed", config.SeedFile, "YAML catalog loaded at startup (overrides $CARTPIPE_SEED_FILE)"),
		historyLimit: fs.Int("history-limit", config.HistoryLimit, "messages passed as history per turn (overrides $CARTPIPE_HISTORY_LIMIT)"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"openaiModel", *flags.openaiModel,
		"apiAddr", *flags.apiAddr,
		"seedFile", *flags.seedFile,
		"historyLimit", *flags.historyLimit)

	// Follow -state-dir when the DSN is still the default SQLite path.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags, nil
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if *flags.dbDSN == "" || store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(strings.TrimPrefix(*flags.dbDSN, "file:"))
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// acquireDatabaseLock locks a SQLite database against a second process.
// PostgreSQL and in-memory stores return a nil lock.
func acquireDatabaseLock(flags Flags) (*lockfile.Lock, error) {
	if *flags.dbDSN == "" || store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil, nil
	}
	return lockfile.Acquire(*flags.dbDSN)
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags, config Config) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.embedModel != "" {
		genaiOpts = append(genaiOpts, genai.WithEmbedModel(*flags.embedModel))
	}
	if config.Debug {
		genaiOpts = append(genaiOpts, genai.WithDebug(true, *flags.stateDir))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.seedFile != "" {
		apiOpts = append(apiOpts, api.WithSeedFile(*flags.seedFile))
	}
	apiOpts = append(apiOpts, api.WithHistoryLimit(*flags.historyLimit))
	apiOpts = append(apiOpts, api.WithOutboxPoll(config.OutboxPoll))
	return apiOpts
}
