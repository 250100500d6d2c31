package internal

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rtzll/vidagent/internal/resilience"
)

// Version is set at build time via -ldflags
var Version = "dev"

// CommandRunner executes external commands
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultCommandRunner implements CommandRunner
type DefaultCommandRunner struct{}

func (r *DefaultCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Config holds application settings
type Config struct {
	// Models and timeouts
	ChatModel      string
	TitleModel     string
	SummaryTimeout time.Duration
	WhisperTimeout time.Duration
	FetchTimeout   time.Duration
	ImageTimeout   time.Duration

	// Retry and cache policy for remote calls
	RetryMax          int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	CacheTTL          time.Duration

	// Identity and persistence
	UserID         string
	DatabaseDriver string
	DatabaseURL    string
	PublicURL      string

	// Entitlements: local, schematic or none
	Entitlements    string
	PlansFile       string
	SchematicAPIKey string
	UsageQueueSize  int

	// HTTP API
	Listen        string
	ServiceAPIKey string
	RateLimit     float64

	Verbose       bool
	Quiet         bool
	MCPLogEnabled bool
	OpenAIAPIKey  string
	Prompt        string

	// Fixed XDG paths (not configurable)
	ConfigDir string
	DataDir   string
	CacheDir  string
	TempDir   string
}

// RetryPolicy returns the configured policy for remote calls.
func (c *Config) RetryPolicy() resilience.Policy {
	return resilience.Policy{
		MaxRetries:   c.RetryMax,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
	}
}

// StorePath is the SQLite database used when no database URL is configured.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "vidagent.db")
}

// UsagePath is the SQLite database for local entitlements.
func (c *Config) UsagePath() string {
	return filepath.Join(c.DataDir, "usage.db")
}

//go:embed config.toml prompt.txt plans.yaml
var defaultFS embed.FS

// WhisperLimit is the maximum file size accepted by OpenAI's Whisper API (25 MiB)
const WhisperLimit int64 = 25 << 20

// ensureDefaultFile creates configDir/embedFilename from the embedded default
// unless it already exists
func ensureDefaultFile(configDir, embedFilename, description string) error {
	filePath := filepath.Join(configDir, embedFilename)
	if FileExists(filePath) {
		return nil
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	defaultContent, err := defaultFS.ReadFile(embedFilename)
	if err != nil {
		return fmt.Errorf("reading embedded default %s: %w", description, err)
	}

	if err := os.WriteFile(filePath, defaultContent, 0644); err != nil {
		return fmt.Errorf("writing default %s: %w", description, err)
	}

	fmt.Fprintf(os.Stderr, "Created default %s at %s\n", description, filePath)
	return nil
}

// EnsureDefaultConfig checks if a config file exists in the XDG config directory
// and creates it from the embedded default if it doesn't exist
func EnsureDefaultConfig(configDir string) error {
	return ensureDefaultFile(configDir, "config.toml", "configuration")
}

// EnsureDefaultPrompt checks if a prompt.txt file exists in the XDG config directory
// and creates it from the embedded default if it doesn't exist
func EnsureDefaultPrompt(configDir string) error {
	return ensureDefaultFile(configDir, "prompt.txt", "prompt template")
}

// EnsureDefaultPlans writes the default local entitlement plans.
func EnsureDefaultPlans(configDir string) error {
	return ensureDefaultFile(configDir, "plans.yaml", "usage plans")
}

// InitConfig initializes Viper and loads configuration. configFile overrides
// the XDG lookup when set.
func InitConfig(configFile string) *Config {
	// .env in the working directory feeds the environment, never overriding it
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: Error reading .env file: %v\n", err)
	}

	// XDG standard directories
	configDir := filepath.Join(xdg.ConfigHome, "vidagent")
	dataDir := filepath.Join(xdg.DataHome, "vidagent")
	cacheDir := filepath.Join(xdg.CacheHome, "vidagent")
	tempDir := filepath.Join(cacheDir, "temp_chunks")

	v := viper.New()

	v.SetDefault("chat_model", "gpt-4o-mini")
	v.SetDefault("title_model", "gpt-4o-mini")
	v.SetDefault("summary_timeout", 2*time.Minute)
	v.SetDefault("whisper_timeout", 10*time.Minute)
	v.SetDefault("fetch_timeout", resilience.DefaultFetchTimeout)
	v.SetDefault("image_timeout", 60*time.Second)
	v.SetDefault("retry_max", resilience.DefaultPolicy.MaxRetries)
	v.SetDefault("retry_initial_delay", resilience.DefaultPolicy.InitialDelay)
	v.SetDefault("retry_max_delay", resilience.DefaultPolicy.MaxDelay)
	v.SetDefault("cache_ttl", resilience.DefaultTTL)
	v.SetDefault("user_id", "local")
	v.SetDefault("database_driver", "sqlite")
	v.SetDefault("database_url", "")
	v.SetDefault("public_url", "http://localhost:8080")
	v.SetDefault("listen", ":8080")
	v.SetDefault("entitlements", "local")
	v.SetDefault("plans_file", filepath.Join(configDir, "plans.yaml"))
	v.SetDefault("usage_queue_size", 256)
	v.SetDefault("rate_limit", 2.0)
	v.SetDefault("mcp_log", false)
	v.SetDefault("verbose", false)
	v.SetDefault("quiet", false)
	v.SetDefault("prompt", "") // if empty will use default prompt template

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("VIDAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// well-known variables are read without the prefix too
	_ = v.BindEnv("openai_api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("schematic_api_key", "SCHEMATIC_API_KEY")
	_ = v.BindEnv("database_url", "VIDAGENT_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("service_api_key", "SERVICE_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: Error reading config file: %v\n", err)
		}
	}

	config := &Config{
		ChatModel:      v.GetString("chat_model"),
		TitleModel:     v.GetString("title_model"),
		SummaryTimeout: v.GetDuration("summary_timeout"),
		WhisperTimeout: v.GetDuration("whisper_timeout"),
		FetchTimeout:   v.GetDuration("fetch_timeout"),
		ImageTimeout:   v.GetDuration("image_timeout"),

		RetryMax:          v.GetInt("retry_max"),
		RetryInitialDelay: v.GetDuration("retry_initial_delay"),
		RetryMaxDelay:     v.GetDuration("retry_max_delay"),
		CacheTTL:          v.GetDuration("cache_ttl"),

		UserID:         v.GetString("user_id"),
		DatabaseDriver: v.GetString("database_driver"),
		DatabaseURL:    v.GetString("database_url"),
		PublicURL:      v.GetString("public_url"),

		Entitlements:    v.GetString("entitlements"),
		PlansFile:       v.GetString("plans_file"),
		SchematicAPIKey: v.GetString("schematic_api_key"),
		UsageQueueSize:  v.GetInt("usage_queue_size"),

		Listen:        v.GetString("listen"),
		ServiceAPIKey: v.GetString("service_api_key"),
		RateLimit:     v.GetFloat64("rate_limit"),

		Verbose:       v.GetBool("verbose"),
		Quiet:         v.GetBool("quiet"),
		MCPLogEnabled: v.GetBool("mcp_log"),
		OpenAIAPIKey:  v.GetString("openai_api_key"),
		Prompt:        v.GetString("prompt"),

		ConfigDir: configDir,
		DataDir:   dataDir,
		CacheDir:  cacheDir,
		TempDir:   tempDir,
	}

	if config.Verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", v.ConfigFileUsed())
	}

	return config
}
