package mentor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"code-mentor/api/internal/llm"
	"code-mentor/api/internal/parse"
	"code-mentor/api/internal/prompt"
	"code-mentor/api/internal/store"
)

// ErrInvalidInput marks caller mistakes: missing file, empty code, missing handle, bad llm_name.
var ErrInvalidInput = errors.New("invalid input")

// Engines resolves an engine by the caller-supplied llm_name. *llm.Engines implements it.
type Engines interface {
	GetEngine(llmName string) (llm.Engine, error)
	Analyzer(llmName string) (llm.Engine, llm.ReportAnalyzer, error)
}

type Options struct {
	// TopIssues is how many report issues the model is asked to list.
	TopIssues int
	// Flaws is how many defects a generated flawed alternative should contain.
	Flaws int
	// CacheMaxAge bounds reuse of a cached report analysis; 0 means no expiry.
	CacheMaxAge time.Duration
}

func DefaultOptions() Options {
	return Options{TopIssues: 10, Flaws: 3, CacheMaxAge: 24 * time.Hour}
}

type Service struct {
	engines       Engines
	prompts       *prompt.Set
	conversations store.ConversationStore
	analyses      store.AnalysisStore
	opt           Options
}

func New(engines Engines, prompts *prompt.Set, conversations store.ConversationStore, analyses store.AnalysisStore, opt Options) *Service {
	if opt.TopIssues <= 0 {
		opt.TopIssues = 10
	}
	if opt.Flaws <= 0 {
		opt.Flaws = 3
	}
	return &Service{
		engines:       engines,
		prompts:       prompts,
		conversations: conversations,
		analyses:      analyses,
		opt:           opt,
	}
}

// CodeRequest is the input of the single-snippet operations.
type CodeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
	LLMName  string `json:"llm_name,omitempty"`
}

type JudgeRequest struct {
	Problem  string `json:"problem,omitempty"`
	UserCode string `json:"user_code"`
	AICode   string `json:"ai_code"`
	LLMName  string `json:"llm_name,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// engine resolves llmName, reporting selection problems as invalid input.
func (s *Service) engine(llmName string) (llm.Engine, error) {
	eng, err := s.engines.GetEngine(llmName)
	if err != nil {
		return nil, selectionError(err)
	}
	return eng, nil
}

func selectionError(err error) error {
	if errors.Is(err, llm.ErrUnknownEngine) || errors.Is(err, llm.ErrNotConfigured) || errors.Is(err, llm.ErrUnsupported) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}

func (s *Service) complete(ctx context.Context, eng llm.Engine, name string, data any) (string, error) {
	system, err := s.prompts.Render(prompt.System, nil)
	if err != nil {
		return "", err
	}
	p, err := s.prompts.Render(name, data)
	if err != nil {
		return "", err
	}
	zerolog.Ctx(ctx).Debug().Str("engine", eng.Name()).Str("model", eng.GetModel()).Str("prompt", name).Msg("completion")
	out, err := eng.Complete(ctx, llm.CompletionRequest{System: system, Prompt: p})
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", eng.Name(), name, err)
	}
	return out, nil
}

// ReviewCode asks for a scored review and extracts its four fields.
func (s *Service) ReviewCode(ctx context.Context, in CodeRequest) (parse.Review, error) {
	if strings.TrimSpace(in.Code) == "" {
		return parse.Review{}, invalid("code is required")
	}
	eng, err := s.engine(in.LLMName)
	if err != nil {
		return parse.Review{}, err
	}
	text, err := s.complete(ctx, eng, prompt.CodeReview, prompt.CodeData{Code: in.Code, Language: in.Language})
	if err != nil {
		return parse.Review{}, err
	}
	return parse.CodeReview(text), nil
}

// GenerateFlawed returns the model's deliberately flawed alternative as-is.
func (s *Service) GenerateFlawed(ctx context.Context, in CodeRequest) (string, error) {
	if strings.TrimSpace(in.Code) == "" {
		return "", invalid("code is required")
	}
	eng, err := s.engine(in.LLMName)
	if err != nil {
		return "", err
	}
	return s.complete(ctx, eng, prompt.FlawedCode, prompt.CodeData{Code: in.Code, Language: in.Language, Flaws: s.opt.Flaws})
}

// Judge compares two solutions and extracts the six-field verdict.
func (s *Service) Judge(ctx context.Context, in JudgeRequest) (parse.Judgment, error) {
	switch {
	case strings.TrimSpace(in.UserCode) == "":
		return parse.Judgment{}, invalid("user_code is required")
	case strings.TrimSpace(in.AICode) == "":
		return parse.Judgment{}, invalid("ai_code is required")
	}
	eng, err := s.engine(in.LLMName)
	if err != nil {
		return parse.Judgment{}, err
	}
	text, err := s.complete(ctx, eng, prompt.Judge, prompt.JudgeData{Problem: in.Problem, UserCode: in.UserCode, AICode: in.AICode})
	if err != nil {
		return parse.Judgment{}, err
	}
	return parse.Verdict(text), nil
}
