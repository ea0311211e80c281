package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"code-mentor/api/internal/config"
	"code-mentor/api/internal/llm"
	"code-mentor/api/internal/llm/gemini"
	"code-mentor/api/internal/llm/openai"
	"code-mentor/api/internal/logging"
	"code-mentor/api/internal/mentor"
	"code-mentor/api/internal/prompt"
	"code-mentor/api/internal/store"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:          "code-mentor",
	Short:        "LLM code mentor: SonarQube analysis, reviews, chats and coding competitions",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: CODE_MENTOR_CONFIG env var, optional)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// app is the wired service shared by all subcommands.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   *store.Store
	prompts *prompt.Set
	svc     *mentor.Service
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CODE_MENTOR_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	return cfg, cfg.Validate()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	log.Info().Str("backend", st.Backend()).Str("dsn", store.SafeDSNSummary(cfg.DatabaseURL)).Msg("store opened")

	prompts, err := prompt.Load(cfg.PromptDir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("prompts: %w", err)
	}

	engines := buildEngines(cfg)
	log.Info().
		Str("default_llm", cfg.DefaultLLM).
		Bool("openai", engines.OpenAI != nil).
		Bool("assistant", cfg.OpenAIAssistantID != "").
		Bool("gemini", engines.Gemini != nil).
		Msg("engines configured")

	svc := mentor.New(engines, prompts, st.Conversations, st.Analyses, mentor.Options{
		TopIssues:   cfg.TopIssues,
		Flaws:       cfg.Flaws,
		CacheMaxAge: cfg.CacheMaxAge,
	})
	return &app{cfg: cfg, log: log, store: st, prompts: prompts, svc: svc}, nil
}

// buildEngines leaves an engine unset when its key is missing, so selecting it
// reports "not configured".
func buildEngines(cfg *config.Config) *llm.Engines {
	engines := &llm.Engines{Default: cfg.DefaultLLM}
	if cfg.OpenAIAPIKey != "" {
		engines.OpenAI = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel).
			WithAssistant(cfg.OpenAIAssistantID).
			WithBaseURL(cfg.OpenAIBaseURL).
			WithPoll(cfg.PollOptions())
	}
	if cfg.GeminiAPIKey != "" {
		engines.Gemini = gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel)
	}
	return engines
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
}

// context carries the app logger for zerolog.Ctx in the service layers.
func (a *app) context(ctx context.Context) context.Context {
	return a.log.WithContext(ctx)
}
