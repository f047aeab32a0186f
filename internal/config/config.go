// Package config loads Alfred's configuration from an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all Alfred configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Voice    VoiceConfig    `mapstructure:"voice"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	StaticDir       string        `mapstructure:"static_dir"` // optional frontend build served at /
}

// DatabaseConfig selects the conversation store backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3 or postgres
	DSN    string `mapstructure:"dsn"`
}

// LLMConfig configures the command generator.
type LLMConfig struct {
	Provider string        `mapstructure:"provider"` // gemini or openai
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExecutorConfig configures the shell executor and the safety gate.
type ExecutorConfig struct {
	Shell          string        `mapstructure:"shell"`
	ShellArgs      []string      `mapstructure:"shell_args"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxOutputBytes int64         `mapstructure:"max_output_bytes"`
	AllowList      []string      `mapstructure:"allow_list"`
}

// VoiceConfig configures the standalone speech utility.
type VoiceConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	STTModel     string        `mapstructure:"stt_model"`
	TTSModel     string        `mapstructure:"tts_model"`
	TTSVoice     string        `mapstructure:"tts_voice"`
	RecordCmd    []string      `mapstructure:"record_cmd"`
	PlayCmd      []string      `mapstructure:"play_cmd"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Greeting     string        `mapstructure:"greeting"`
	SkipGreeting bool          `mapstructure:"skip_greeting"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DefaultAllowList is the set of command verbs the safety gate lets through
// when none is configured.
var DefaultAllowList = []string{
	"echo", "mkdir", "new-item", "ni", "ls", "dir", "copy", "cp",
	"move", "mv", "remove-item", "ri", "del", "rmdir", "type",
}

// DefaultShell returns the PowerShell binary for the host platform.
func DefaultShell() string {
	if runtime.GOOS == "windows" {
		return "powershell"
	}
	return "pwsh"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8100")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.static_dir", "")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "alfred.db")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("executor.shell", DefaultShell())
	v.SetDefault("executor.shell_args", []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command"})
	v.SetDefault("executor.timeout", 15*time.Second)
	v.SetDefault("executor.max_output_bytes", int64(1<<20))
	v.SetDefault("executor.allow_list", DefaultAllowList)

	v.SetDefault("voice.api_key", "")
	v.SetDefault("voice.base_url", "")
	v.SetDefault("voice.stt_model", "whisper-1")
	v.SetDefault("voice.tts_model", "tts-1")
	v.SetDefault("voice.tts_voice", "alloy")
	v.SetDefault("voice.record_cmd", []string{"arecord", "-q", "-f", "cd", "-d", "5"})
	v.SetDefault("voice.play_cmd", []string{"aplay", "-q"})
	v.SetDefault("voice.timeout", 30*time.Second)
	v.SetDefault("voice.greeting", "Hello. I am Alfred, your personal assistant. How may I help you?")
	v.SetDefault("voice.skip_greeting", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Load reads configuration from path (if non-empty) and from ALFRED_*
// environment variables. Provider keys fall back to the conventional
// GOOGLE_API_KEY, GEMINI_API_KEY and OPENAI_API_KEY variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("alfred")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKey(cfg.LLM.Provider)
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultModel(cfg.LLM.Provider)
	}
	if cfg.Voice.APIKey == "" {
		cfg.Voice.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that would otherwise fail late, at request time.
func (c *Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Executor.Timeout <= 0 {
		errs = append(errs, errors.New("executor.timeout must be positive"))
	}
	if c.Executor.Shell == "" {
		errs = append(errs, errors.New("executor.shell is required"))
	}
	if len(c.Executor.AllowList) == 0 {
		errs = append(errs, errors.New("executor.allow_list must not be empty"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	return errors.Join(errs...)
}

func providerKey(provider string) string {
	switch provider {
	case "gemini":
		if k := os.Getenv("GOOGLE_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GEMINI_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

func defaultModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o-mini"
	default:
		return "gemini-1.5-flash"
	}
}
