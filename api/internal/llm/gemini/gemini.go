package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"code-mentor/api/internal/llm"
)

const defaultModel = "gemini-2.5-flash"

type Engine struct {
	APIKey string
	Model  string

	attempts int
	backoff  time.Duration
}

func New(apiKey, model string) *Engine {
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	return &Engine{
		APIKey:   strings.TrimSpace(apiKey),
		Model:    strings.TrimSpace(model),
		attempts: 3,
		backoff:  300 * time.Millisecond,
	}
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) model(ctx context.Context, system string) (*genai.Client, *genai.GenerativeModel, error) {
	if e.APIKey == "" {
		return nil, nil, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return nil, nil, err
	}
	m := cl.GenerativeModel(e.Model)
	if m == nil {
		_ = cl.Close()
		return nil, nil, fmt.Errorf("gemini: model is nil")
	}
	if s := strings.TrimSpace(system); s != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(s)}}
	}
	return cl, m, nil
}

func (e *Engine) Complete(ctx context.Context, in llm.CompletionRequest) (string, error) {
	cl, m, err := e.model(ctx, in.System)
	if err != nil {
		return "", err
	}
	defer cl.Close()

	return e.retry(ctx, "complete", func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return m.GenerateContent(ctx, genai.Text(in.Prompt))
	})
}

// Chat replays the stored history into a fresh chat session; Gemini keeps no
// server-side thread, so ThreadRef is always empty.
func (e *Engine) Chat(ctx context.Context, in llm.ChatRequest) (llm.ChatResult, error) {
	cl, m, err := e.model(ctx, in.System)
	if err != nil {
		return llm.ChatResult{}, err
	}
	defer cl.Close()

	reply, err := e.retry(ctx, "chat", func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		cs := m.StartChat()
		cs.History = toHistory(in.History)
		return cs.SendMessage(ctx, genai.Text(in.Message))
	})
	if err != nil {
		return llm.ChatResult{}, err
	}
	return llm.ChatResult{Reply: reply}, nil
}

// retry runs call up to e.attempts times on transport errors. An empty answer is
// not retried.
func (e *Engine) retry(ctx context.Context, op string, call func(context.Context) (*genai.GenerateContentResponse, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		resp, err := call(ctx)
		if err != nil {
			lastErr = err
			zerolog.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Str("op", op).Msg("gemini call failed")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * e.backoff):
			}
			continue
		}
		txt := strings.TrimSpace(firstText(resp))
		if txt == "" {
			return "", fmt.Errorf("gemini %s: %w", op, llm.ErrEmptyResponse)
		}
		return txt, nil
	}
	return "", fmt.Errorf("gemini %s: %w", op, lastErr)
}

func toHistory(turns []llm.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == llm.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Text)}})
	}
	return out
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}
