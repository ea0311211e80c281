package mentor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"code-mentor/api/internal/llm"
	"code-mentor/api/internal/prompt"
	"code-mentor/api/internal/store"
)

type StartResult struct {
	ConversationID string `json:"conversation_id"`
	// Response is the model's answer to the seed prompt.
	Response string `json:"response"`
}

// StartConversation seeds a new conversation with the snippet. The seed and the
// model's first answer become the first two turns; engines with remote threads
// also get the thread reference recorded.
func (s *Service) StartConversation(ctx context.Context, in CodeRequest) (StartResult, error) {
	if strings.TrimSpace(in.Code) == "" {
		return StartResult{}, invalid("code is required")
	}
	eng, err := s.engine(in.LLMName)
	if err != nil {
		return StartResult{}, err
	}
	system, err := s.prompts.Render(prompt.System, nil)
	if err != nil {
		return StartResult{}, err
	}
	seed, err := s.prompts.Render(prompt.ChatSeed, prompt.CodeData{Code: in.Code, Language: in.Language})
	if err != nil {
		return StartResult{}, err
	}

	res, err := eng.Chat(ctx, llm.ChatRequest{System: system, Message: seed})
	if err != nil {
		return StartResult{}, fmt.Errorf("%s start chat: %w", eng.Name(), err)
	}

	conv := &store.Conversation{
		ID:        uuid.NewString(),
		Engine:    eng.Name(),
		Model:     eng.GetModel(),
		ThreadRef: res.ThreadRef,
		Turns: []llm.Turn{
			{Role: llm.RoleUser, Text: seed},
			{Role: llm.RoleAssistant, Text: res.Reply},
		},
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return StartResult{}, fmt.Errorf("save conversation: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("conversation_id", conv.ID).Str("engine", conv.Engine).
		Bool("remote_thread", conv.ThreadRef != "").Msg("conversation started")
	return StartResult{ConversationID: conv.ID, Response: res.Reply}, nil
}

// SendMessage continues a conversation on the engine that started it.
func (s *Service) SendMessage(ctx context.Context, conversationID, message string) (string, error) {
	conversationID = strings.TrimSpace(conversationID)
	switch {
	case conversationID == "":
		return "", invalid("conversation_id is required")
	case strings.TrimSpace(message) == "":
		return "", invalid("message is required")
	}

	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	eng, err := s.engines.GetEngine(conv.Engine)
	if err != nil {
		return "", fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	system, err := s.prompts.Render(prompt.System, nil)
	if err != nil {
		return "", err
	}

	res, err := eng.Chat(ctx, llm.ChatRequest{
		ThreadRef: conv.ThreadRef,
		System:    system,
		History:   conv.Turns,
		Message:   message,
	})
	if err != nil {
		return "", fmt.Errorf("%s chat: %w", eng.Name(), err)
	}

	err = s.conversations.AppendTurns(ctx, conv.ID, res.ThreadRef,
		llm.Turn{Role: llm.RoleUser, Text: message},
		llm.Turn{Role: llm.RoleAssistant, Text: res.Reply},
	)
	if err != nil {
		return "", fmt.Errorf("save conversation: %w", err)
	}
	return res.Reply, nil
}

// EndConversation forgets a conversation. Unknown handles report store.ErrNotFound.
func (s *Service) EndConversation(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return invalid("conversation_id is required")
	}
	if err := s.conversations.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	return nil
}
