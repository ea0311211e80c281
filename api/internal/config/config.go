package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cronlib "github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"code-mentor/api/internal/poll"
)

type Config struct {
	Port           string
	RequestTimeout time.Duration
	// AdminToken guards the prompt update endpoint; empty disables it.
	AdminToken string

	DefaultLLM        string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIAssistantID string
	OpenAIBaseURL     string
	GeminiAPIKey      string
	GeminiModel       string

	PollInterval    time.Duration
	PollMaxInterval time.Duration
	PollTimeout     time.Duration
	PollBackoff     string // "fixed" or "exponential"

	DatabaseURL   string
	CacheMaxAge   time.Duration
	PurgeAfter    time.Duration
	PurgeSchedule string // cron spec, empty disables scheduled purge

	PromptDir string
	TopIssues int
	Flaws     int

	TelegramBotToken string

	LogLevel  string
	LogFormat string
}

type rawConfig struct {
	Server struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
		AdminToken     string `yaml:"admin_token"`
	} `yaml:"server"`
	LLM struct {
		Default string `yaml:"default"`
		OpenAI  struct {
			APIKey      string `yaml:"api_key"`
			Model       string `yaml:"model"`
			AssistantID string `yaml:"assistant_id"`
			BaseURL     string `yaml:"base_url"`
		} `yaml:"openai"`
		Gemini struct {
			APIKey string `yaml:"api_key"`
			Model  string `yaml:"model"`
		} `yaml:"gemini"`
	} `yaml:"llm"`
	Poll struct {
		Interval    string `yaml:"interval"`
		MaxInterval string `yaml:"max_interval"`
		Timeout     string `yaml:"timeout"`
		Backoff     string `yaml:"backoff"`
	} `yaml:"poll"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Cache struct {
		MaxAge        string `yaml:"max_age"`
		PurgeAfter    string `yaml:"purge_after"`
		PurgeSchedule string `yaml:"purge_schedule"`
	} `yaml:"cache"`
	Prompts struct {
		Dir       string `yaml:"dir"`
		TopIssues int    `yaml:"top_issues"`
		Flaws     int    `yaml:"flaws"`
	} `yaml:"prompts"`
	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func defaults() *Config {
	return &Config{
		Port:            "8000",
		RequestTimeout:  180 * time.Second,
		DefaultLLM:      "gpt",
		OpenAIModel:     "gpt-4o",
		GeminiModel:     "gemini-2.5-flash",
		PollInterval:    2 * time.Second,
		PollMaxInterval: 10 * time.Second,
		PollTimeout:     150 * time.Second,
		PollBackoff:     "fixed",
		DatabaseURL:     "code-mentor.db",
		CacheMaxAge:     24 * time.Hour,
		PurgeAfter:      7 * 24 * time.Hour,
		PurgeSchedule:   "@hourly",
		TopIssues:       10,
		Flaws:           3,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// (with ${VAR} expansion), a .env file in the working directory and finally the
// process environment, in increasing priority.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		var raw rawConfig
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if err := cfg.apply(&raw); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(raw *rawConfig) error {
	setString(&c.Port, raw.Server.Port)
	setString(&c.AdminToken, raw.Server.AdminToken)
	setString(&c.DefaultLLM, raw.LLM.Default)
	setString(&c.OpenAIAPIKey, raw.LLM.OpenAI.APIKey)
	setString(&c.OpenAIModel, raw.LLM.OpenAI.Model)
	setString(&c.OpenAIAssistantID, raw.LLM.OpenAI.AssistantID)
	setString(&c.OpenAIBaseURL, raw.LLM.OpenAI.BaseURL)
	setString(&c.GeminiAPIKey, raw.LLM.Gemini.APIKey)
	setString(&c.GeminiModel, raw.LLM.Gemini.Model)
	setString(&c.PollBackoff, raw.Poll.Backoff)
	setString(&c.DatabaseURL, raw.Database.URL)
	setString(&c.PurgeSchedule, raw.Cache.PurgeSchedule)
	setString(&c.PromptDir, raw.Prompts.Dir)
	setString(&c.TelegramBotToken, raw.Telegram.Token)
	setString(&c.LogLevel, raw.Log.Level)
	setString(&c.LogFormat, raw.Log.Format)
	if raw.Prompts.TopIssues > 0 {
		c.TopIssues = raw.Prompts.TopIssues
	}
	if raw.Prompts.Flaws > 0 {
		c.Flaws = raw.Prompts.Flaws
	}

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"server.request_timeout", raw.Server.RequestTimeout, &c.RequestTimeout},
		{"poll.interval", raw.Poll.Interval, &c.PollInterval},
		{"poll.max_interval", raw.Poll.MaxInterval, &c.PollMaxInterval},
		{"poll.timeout", raw.Poll.Timeout, &c.PollTimeout},
		{"cache.max_age", raw.Cache.MaxAge, &c.CacheMaxAge},
		{"cache.purge_after", raw.Cache.PurgeAfter, &c.PurgeAfter},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.field, d.value); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, getEnv("PORT", ""))
	setString(&c.AdminToken, getEnv("ADMIN_TOKEN", ""))
	setString(&c.DefaultLLM, getEnv("DEFAULT_LLM", ""))
	setString(&c.OpenAIAPIKey, getEnv("OPENAI_API_KEY", ""))
	setString(&c.OpenAIModel, getEnv("OPENAI_MODEL", ""))
	setString(&c.OpenAIAssistantID, getEnv("OPENAI_ASSISTANT_ID", ""))
	setString(&c.OpenAIBaseURL, getEnv("OPENAI_BASE_URL", ""))
	setString(&c.GeminiAPIKey, getEnv("GEMINI_API_KEY", ""))
	setString(&c.GeminiModel, getEnv("GEMINI_MODEL", ""))
	setString(&c.DatabaseURL, resolveDSN())
	setString(&c.PromptDir, getEnv("PROMPT_DIR", ""))
	setString(&c.TelegramBotToken, getEnv("TELEGRAM_BOT_TOKEN", ""))
	setString(&c.LogLevel, getEnv("LOG_LEVEL", ""))
	setString(&c.LogFormat, getEnv("LOG_FORMAT", ""))
	if err := setDuration(&c.RequestTimeout, "REQUEST_TIMEOUT", getEnv("REQUEST_TIMEOUT", "")); err != nil {
		return err
	}
	return setDuration(&c.PollTimeout, "POLL_TIMEOUT", getEnv("POLL_TIMEOUT", ""))
}

// Validate checks what the service needs before it starts serving requests.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("port must not be empty")
	}
	switch strings.ToLower(c.DefaultLLM) {
	case "gpt", "openai":
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required when the default llm is gpt")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required when the default llm is gemini")
		}
	default:
		return fmt.Errorf("unknown default llm %q; use 'gpt' or 'gemini'", c.DefaultLLM)
	}
	for name, d := range map[string]time.Duration{
		"server.request_timeout": c.RequestTimeout,
		"poll.interval":          c.PollInterval,
		"poll.max_interval":      c.PollMaxInterval,
		"poll.timeout":           c.PollTimeout,
		"cache.purge_after":      c.PurgeAfter,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	// The remote wait must give up before the request does, or callers see a bare
	// deadline instead of the poll timeout.
	if c.PollTimeout >= c.RequestTimeout {
		return fmt.Errorf("poll.timeout (%v) must be shorter than server.request_timeout (%v)", c.PollTimeout, c.RequestTimeout)
	}
	if c.CacheMaxAge < 0 {
		return fmt.Errorf("cache.max_age must not be negative, got %v", c.CacheMaxAge)
	}
	if _, err := c.backoff(); err != nil {
		return err
	}
	if c.PurgeSchedule != "" {
		parser := cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)
		if _, err := parser.Parse(c.PurgeSchedule); err != nil {
			return fmt.Errorf("cache.purge_schedule %q: %w", c.PurgeSchedule, err)
		}
	}
	return nil
}

func (c *Config) backoff() (poll.Backoff, error) {
	switch strings.ToLower(c.PollBackoff) {
	case "", "fixed":
		return poll.Fixed, nil
	case "exponential":
		return poll.Exponential, nil
	default:
		return poll.Fixed, fmt.Errorf("poll.backoff %q: use 'fixed' or 'exponential'", c.PollBackoff)
	}
}

// PollOptions is how remote jobs (assistant runs, file indexing) are awaited.
func (c *Config) PollOptions() poll.Options {
	b, _ := c.backoff()
	return poll.Options{
		Interval:    c.PollInterval,
		MaxInterval: c.PollMaxInterval,
		Timeout:     c.PollTimeout,
		Backoff:     b,
	}
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, field, v string) error {
	if v = strings.TrimSpace(v); v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s %q: %w", field, v, err)
	}
	*dst = d
	return nil
}

// resolveDSN prefers DATABASE_URL and otherwise builds a Postgres URL from
// POSTGRES_* / PG* variables when a password is set.
func resolveDSN() string {
	if v := getEnv("DATABASE_URL", ""); v != "" {
		return v
	}
	pass := os.Getenv("POSTGRES_PASSWORD")
	if pass == "" {
		return ""
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("POSTGRES_USER", "mentor"), pass),
		Host:     net.JoinHostPort(getEnv("PGHOST", "db"), getEnv("PGPORT", "5432")),
		Path:     "/" + getEnv("POSTGRES_DB", "mentor"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
