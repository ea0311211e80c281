package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"code-mentor/api/internal/llm"
	"code-mentor/api/internal/poll"
)

type Engine struct {
	APIKey      string
	Model       string
	AssistantID string

	baseURL string
	httpc   *http.Client
	poll    poll.Options
}

func New(key, model string) *Engine {
	if strings.TrimSpace(model) == "" {
		model = oai.ChatModelGPT4o
	}
	return &Engine{
		APIKey: strings.TrimSpace(key),
		Model:  strings.TrimSpace(model),
		httpc:  &http.Client{Timeout: 120 * time.Second},
		poll:   poll.DefaultOptions(),
	}
}

// WithAssistant makes Chat run on persistent threads of the given assistant.
func (e *Engine) WithAssistant(id string) *Engine {
	e.AssistantID = strings.TrimSpace(id)
	return e
}

func (e *Engine) WithBaseURL(u string) *Engine {
	e.baseURL = strings.TrimSpace(u)
	return e
}

// WithHTTPClient overrides the internal HTTP client (e.g., for custom timeouts or tracing).
func (e *Engine) WithHTTPClient(c *http.Client) *Engine {
	if c != nil {
		e.httpc = c
	}
	return e
}

// WithPoll sets how assistant runs and file indexing are awaited.
func (e *Engine) WithPoll(o poll.Options) *Engine {
	e.poll = o
	return e
}

func (e *Engine) Name() string     { return "gpt" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) client() (oai.Client, error) {
	if e.APIKey == "" {
		return oai.Client{}, errors.New("OPENAI_API_KEY is empty")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(e.APIKey),
		option.WithHTTPClient(e.httpc),
		option.WithMaxRetries(0),
	}
	if e.baseURL != "" {
		opts = append(opts, option.WithBaseURL(e.baseURL))
	}
	return oai.NewClient(opts...), nil
}

func (e *Engine) Complete(ctx context.Context, in llm.CompletionRequest) (string, error) {
	cl, err := e.client()
	if err != nil {
		return "", err
	}
	var msgs []oai.ChatCompletionMessageParamUnion
	if s := strings.TrimSpace(in.System); s != "" {
		msgs = append(msgs, oai.SystemMessage(s))
	}
	msgs = append(msgs, oai.UserMessage(in.Prompt))
	return e.completeMessages(ctx, cl, msgs)
}

// Chat continues a conversation. With an assistant configured the turn is run on the
// remote thread, otherwise the history is replayed through chat completions.
func (e *Engine) Chat(ctx context.Context, in llm.ChatRequest) (llm.ChatResult, error) {
	cl, err := e.client()
	if err != nil {
		return llm.ChatResult{}, err
	}
	if e.AssistantID != "" {
		return e.threadTurn(ctx, cl, in)
	}

	var msgs []oai.ChatCompletionMessageParamUnion
	if s := strings.TrimSpace(in.System); s != "" {
		msgs = append(msgs, oai.SystemMessage(s))
	}
	for _, t := range in.History {
		switch t.Role {
		case llm.RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(t.Text))
		default:
			msgs = append(msgs, oai.UserMessage(t.Text))
		}
	}
	msgs = append(msgs, oai.UserMessage(in.Message))

	reply, err := e.completeMessages(ctx, cl, msgs)
	if err != nil {
		return llm.ChatResult{}, err
	}
	return llm.ChatResult{Reply: reply}, nil
}

func (e *Engine) completeMessages(ctx context.Context, cl oai.Client, msgs []oai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := cl.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:    e.Model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("openai complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai complete: %w", llm.ErrEmptyResponse)
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		if r := strings.TrimSpace(resp.Choices[0].Message.Refusal); r != "" {
			return "", fmt.Errorf("openai complete: refused: %s", r)
		}
		return "", fmt.Errorf("openai complete: %w", llm.ErrEmptyResponse)
	}
	return out, nil
}
