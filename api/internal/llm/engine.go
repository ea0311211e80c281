package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownEngine = errors.New("unknown llm_name; use 'gpt' or 'gemini'")
	ErrNotConfigured = errors.New("llm engine is not configured")
	ErrEmptyResponse = errors.New("llm returned an empty response")
	// ErrRunFailed means a remote assistant run ended in a non-completed terminal state.
	ErrRunFailed = errors.New("llm run did not complete")
	// ErrUnsupported is returned by engines that lack a capability (e.g. file retrieval).
	ErrUnsupported = errors.New("operation is not supported by this engine")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

type CompletionRequest struct {
	System string
	Prompt string
}

// ChatRequest continues a conversation. Engines backed by remote threads use
// ThreadRef and ignore History; the others replay History before Message.
type ChatRequest struct {
	ThreadRef string
	System    string
	History   []Turn
	Message   string
}

type ChatResult struct {
	Reply     string
	ThreadRef string
}

// ReportRequest describes a file that is indexed remotely and analyzed with retrieval.
type ReportRequest struct {
	Filename     string
	Content      []byte
	Instructions string
	Prompt       string
}

type Engine interface {
	Name() string
	GetModel() string
	Complete(ctx context.Context, in CompletionRequest) (string, error)
	Chat(ctx context.Context, in ChatRequest) (ChatResult, error)
}

// ReportAnalyzer is implemented by engines with a file store and retrieval tools.
type ReportAnalyzer interface {
	AnalyzeReport(ctx context.Context, in ReportRequest) (string, error)
}

type Engines struct {
	OpenAI  Engine
	Gemini  Engine
	Default string
}

func (e *Engines) GetEngine(llmName string) (Engine, error) {
	name := strings.ToLower(strings.TrimSpace(llmName))
	if name == "" {
		name = strings.ToLower(e.Default)
	}
	var eng Engine
	switch name {
	case "gpt", "openai":
		eng = e.OpenAI
	case "gemini":
		eng = e.Gemini
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, llmName)
	}
	if eng == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, name)
	}
	return eng, nil
}

// Analyzer returns the first engine able to analyze reports, preferring llmName.
func (e *Engines) Analyzer(llmName string) (Engine, ReportAnalyzer, error) {
	eng, err := e.GetEngine(llmName)
	if err != nil {
		return nil, nil, err
	}
	if ra, ok := eng.(ReportAnalyzer); ok {
		return eng, ra, nil
	}
	if strings.TrimSpace(llmName) == "" {
		if ra, ok := e.OpenAI.(ReportAnalyzer); ok {
			return e.OpenAI, ra, nil
		}
	}
	return nil, nil, fmt.Errorf("%s: %w", eng.Name(), ErrUnsupported)
}
