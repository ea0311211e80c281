package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"code-mentor/api/internal/mentor"
	"code-mentor/api/internal/parse"
	"code-mentor/api/internal/store"
	"code-mentor/api/internal/util"
)

// maxMessage keeps replies under Telegram's 4096 character limit. Counted in runes.
const maxMessage = 3900

const helpText = `Send me code and I will help you improve it.

/review <code> - score and feedback
/flawed <code> - a subtly broken version to debug
/chat <code> - discuss the code; plain messages continue the chat
/stop - end the chat
/engine gpt|gemini - choose the model`

// Service is what the bot needs from the application layer. *mentor.Service implements it.
type Service interface {
	ReviewCode(ctx context.Context, in mentor.CodeRequest) (parse.Review, error)
	GenerateFlawed(ctx context.Context, in mentor.CodeRequest) (string, error)
	StartConversation(ctx context.Context, in mentor.CodeRequest) (mentor.StartResult, error)
	SendMessage(ctx context.Context, conversationID, message string) (string, error)
	EndConversation(ctx context.Context, conversationID string) error
}

// Sender is the part of *tgbotapi.BotAPI the router uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Router struct {
	Bot Sender
	Svc Service
	Log zerolog.Logger

	chats *chats
}

func NewRouter(bot Sender, svc Service, log zerolog.Logger) *Router {
	return &Router{Bot: bot, Svc: svc, Log: log, chats: newChats()}
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil || upd.Message.Chat == nil {
		return
	}
	msg := upd.Message
	cid := msg.Chat.ID

	log := r.Log.With().Str("trace_id", xid.New().String()).Int64("chat_id", cid).Logger()
	ctx = log.WithContext(ctx)

	if msg.IsCommand() {
		r.handleCommand(ctx, cid, msg.Command(), msg.CommandArguments())
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if id := r.chats.conversation(cid); id != "" {
		r.continueChat(ctx, cid, id, text)
		return
	}
	r.send(cid, "No active chat. Start one with /chat <code> or send /help.")
}

func (r *Router) handleCommand(ctx context.Context, cid int64, cmd, args string) {
	code := util.StripCodeFences(args)
	req := mentor.CodeRequest{Code: code, LLMName: r.chats.engine(cid)}

	switch cmd {
	case "start", "help":
		r.send(cid, helpText)

	case "review":
		if code == "" {
			r.send(cid, "Usage: /review <code>")
			return
		}
		review, err := r.Svc.ReviewCode(ctx, req)
		if err != nil {
			r.fail(ctx, cid, err)
			return
		}
		r.send(cid, formatReview(review))

	case "flawed":
		if code == "" {
			r.send(cid, "Usage: /flawed <code>")
			return
		}
		out, err := r.Svc.GenerateFlawed(ctx, req)
		if err != nil {
			r.fail(ctx, cid, err)
			return
		}
		r.send(cid, out)

	case "chat":
		if code == "" {
			r.send(cid, "Usage: /chat <code>")
			return
		}
		r.endChat(ctx, cid)
		res, err := r.Svc.StartConversation(ctx, req)
		if err != nil {
			r.fail(ctx, cid, err)
			return
		}
		r.chats.setConversation(cid, res.ConversationID)
		zerolog.Ctx(ctx).Info().Str("conversation_id", res.ConversationID).Msg("chat started")
		r.send(cid, res.Response)

	case "stop":
		if r.chats.conversation(cid) == "" {
			r.send(cid, "No active chat.")
			return
		}
		r.endChat(ctx, cid)
		r.send(cid, "Chat ended.")

	case "engine":
		r.handleEngineCommand(cid, args)

	default:
		r.send(cid, "Unknown command. Send /help.")
	}
}

// handleEngineCommand switches the engine for the chat:
//
//	/engine gpt
//	/engine gemini
func (r *Router) handleEngineCommand(cid int64, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		cur := r.chats.engine(cid)
		if cur == "" {
			cur = "default"
		}
		r.send(cid, "Current engine: "+cur+"\nUsage: /engine gpt|gemini")
		return
	}
	switch name := strings.ToLower(fields[0]); name {
	case "gpt", "openai", "gemini":
		r.chats.setEngine(cid, name)
		r.send(cid, "Engine: "+name)
	default:
		r.send(cid, "Unknown engine. Available: gpt | gemini")
	}
}

func (r *Router) continueChat(ctx context.Context, cid int64, id, text string) {
	reply, err := r.Svc.SendMessage(ctx, id, text)
	if errors.Is(err, store.ErrNotFound) {
		r.chats.setConversation(cid, "")
		r.send(cid, "This chat has expired. Start a new one with /chat <code>.")
		return
	}
	if err != nil {
		r.fail(ctx, cid, err)
		return
	}
	r.send(cid, reply)
}

func (r *Router) endChat(ctx context.Context, cid int64) {
	id := r.chats.conversation(cid)
	if id == "" {
		return
	}
	r.chats.setConversation(cid, "")
	if err := r.Svc.EndConversation(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("conversation_id", id).Msg("end conversation")
	}
}

func (r *Router) fail(ctx context.Context, cid int64, err error) {
	if errors.Is(err, mentor.ErrInvalidInput) {
		r.send(cid, "Cannot do that: "+strings.TrimPrefix(err.Error(), mentor.ErrInvalidInput.Error()+": "))
		return
	}
	zerolog.Ctx(ctx).Error().Err(err).Msg("request failed")
	r.send(cid, "Something went wrong, please try again later.")
}

func (r *Router) send(chatID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	text = truncate(text, maxMessage)
	if _, err := r.Bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.Log.Warn().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}

// truncate cuts text to at most n runes, marking the cut with an ellipsis.
func truncate(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos] + "…"
		}
		i++
	}
	return text
}

func formatReview(rv parse.Review) string {
	var b strings.Builder
	if rv.Score != nil {
		fmt.Fprintf(&b, "Score: %d/100\n\n", *rv.Score)
	}
	if rv.Feedback != "" {
		b.WriteString(rv.Feedback)
		b.WriteString("\n\n")
	}
	if rv.RevisedCode != "" {
		b.WriteString("Suggested code:\n")
		b.WriteString(rv.RevisedCode)
		b.WriteString("\n\n")
	}
	if rv.YouTubeLink != nil {
		b.WriteString("Video: ")
		b.WriteString(*rv.YouTubeLink)
	}
	if b.Len() == 0 {
		return "The model returned no review."
	}
	return b.String()
}
