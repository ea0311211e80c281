package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"code-mentor/api/internal/mentor"
	"code-mentor/api/internal/parse"
	"code-mentor/api/internal/store"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fakeService struct {
	err      error
	sendErr  error
	requests []mentor.CodeRequest
	messages []string
	ended    []string
	started  int
}

func (f *fakeService) ReviewCode(_ context.Context, in mentor.CodeRequest) (parse.Review, error) {
	f.requests = append(f.requests, in)
	score, link := 85, "https://youtu.be/x"
	return parse.Review{Score: &score, Feedback: "Looks fine.", RevisedCode: "print(1)", YouTubeLink: &link}, f.err
}

func (f *fakeService) GenerateFlawed(_ context.Context, in mentor.CodeRequest) (string, error) {
	f.requests = append(f.requests, in)
	return "broken()", f.err
}

func (f *fakeService) StartConversation(_ context.Context, in mentor.CodeRequest) (mentor.StartResult, error) {
	f.requests = append(f.requests, in)
	f.started++
	return mentor.StartResult{ConversationID: fmt.Sprintf("conv-%d", f.started), Response: "It prints."}, f.err
}

func (f *fakeService) SendMessage(_ context.Context, id, message string) (string, error) {
	f.messages = append(f.messages, id+": "+message)
	return "Answer.", f.sendErr
}

func (f *fakeService) EndConversation(_ context.Context, id string) error {
	f.ended = append(f.ended, id)
	return nil
}

func message(chatID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{Text: text, Chat: &tgbotapi.Chat{ID: chatID}}
	if strings.HasPrefix(text, "/") {
		n := strings.IndexAny(text, " \n")
		if n < 0 {
			n = len(text)
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: n}}
	}
	return tgbotapi.Update{Message: msg}
}

func newTestRouter() (*Router, *fakeSender, *fakeService) {
	bot, svc := &fakeSender{}, &fakeService{}
	return NewRouter(bot, svc, zerolog.Nop()), bot, svc
}

func TestReviewCommand(t *testing.T) {
	r, bot, svc := newTestRouter()
	r.HandleUpdate(context.Background(), message(1, "/review ```python\nprint(1)\n```"))

	if len(svc.requests) != 1 || svc.requests[0].Code != "print(1)" {
		t.Fatalf("requests = %+v", svc.requests)
	}
	got := bot.last()
	for _, want := range []string{"Score: 85/100", "Looks fine.", "print(1)", "https://youtu.be/x"} {
		if !strings.Contains(got, want) {
			t.Errorf("reply %q lacks %q", got, want)
		}
	}
}

func TestCommandUsage(t *testing.T) {
	r, bot, svc := newTestRouter()
	for _, cmd := range []string{"/review", "/flawed", "/chat"} {
		r.HandleUpdate(context.Background(), message(1, cmd))
		if !strings.HasPrefix(bot.last(), "Usage: "+cmd) {
			t.Errorf("%s reply = %q", cmd, bot.last())
		}
	}
	if len(svc.requests) != 0 {
		t.Errorf("service called: %+v", svc.requests)
	}
	r.HandleUpdate(context.Background(), message(1, "/dance"))
	if !strings.HasPrefix(bot.last(), "Unknown command") {
		t.Errorf("unknown reply = %q", bot.last())
	}
}

func TestChatLifecycle(t *testing.T) {
	r, bot, svc := newTestRouter()
	ctx := context.Background()

	r.HandleUpdate(ctx, message(7, "hello"))
	if !strings.HasPrefix(bot.last(), "No active chat") {
		t.Errorf("reply without chat = %q", bot.last())
	}

	r.HandleUpdate(ctx, message(7, "/chat print(1)"))
	if bot.last() != "It prints." {
		t.Errorf("start reply = %q", bot.last())
	}
	r.HandleUpdate(ctx, message(7, "why?"))
	if bot.last() != "Answer." || svc.messages[0] != "conv-1: why?" {
		t.Errorf("reply = %q, messages = %v", bot.last(), svc.messages)
	}

	// a new /chat replaces the previous conversation
	r.HandleUpdate(ctx, message(7, "/chat print(2)"))
	if len(svc.ended) != 1 || svc.ended[0] != "conv-1" {
		t.Errorf("ended = %v", svc.ended)
	}

	r.HandleUpdate(ctx, message(7, "/stop"))
	if bot.last() != "Chat ended." || len(svc.ended) != 2 || svc.ended[1] != "conv-2" {
		t.Errorf("stop: reply = %q, ended = %v", bot.last(), svc.ended)
	}
	r.HandleUpdate(ctx, message(7, "/stop"))
	if bot.last() != "No active chat." {
		t.Errorf("second stop = %q", bot.last())
	}
}

func TestExpiredChat(t *testing.T) {
	r, bot, svc := newTestRouter()
	ctx := context.Background()

	r.HandleUpdate(ctx, message(3, "/chat x()"))
	svc.sendErr = fmt.Errorf("get: %w", store.ErrNotFound)
	r.HandleUpdate(ctx, message(3, "still there?"))
	if !strings.Contains(bot.last(), "expired") {
		t.Errorf("reply = %q", bot.last())
	}
	r.HandleUpdate(ctx, message(3, "hello?"))
	if !strings.HasPrefix(bot.last(), "No active chat") {
		t.Errorf("reply after expiry = %q", bot.last())
	}
}

func TestEngineSelection(t *testing.T) {
	r, bot, svc := newTestRouter()
	ctx := context.Background()

	r.HandleUpdate(ctx, message(5, "/engine Gemini"))
	if bot.last() != "Engine: gemini" {
		t.Errorf("reply = %q", bot.last())
	}
	r.HandleUpdate(ctx, message(5, "/flawed ok()"))
	if svc.requests[0].LLMName != "gemini" || bot.last() != "broken()" {
		t.Errorf("request = %+v, reply = %q", svc.requests[0], bot.last())
	}
	r.HandleUpdate(ctx, message(6, "/engine claude"))
	if !strings.HasPrefix(bot.last(), "Unknown engine") {
		t.Errorf("reply = %q", bot.last())
	}
}

func TestServiceErrors(t *testing.T) {
	r, bot, svc := newTestRouter()
	ctx := context.Background()

	svc.err = fmt.Errorf("%w: code is required", mentor.ErrInvalidInput)
	r.HandleUpdate(ctx, message(1, "/review x"))
	if bot.last() != "Cannot do that: code is required" {
		t.Errorf("invalid input reply = %q", bot.last())
	}

	svc.err = errors.New("quota exceeded")
	r.HandleUpdate(ctx, message(1, "/review x"))
	if strings.Contains(bot.last(), "quota") {
		t.Errorf("remote detail leaked: %q", bot.last())
	}
}

func TestSendTruncates(t *testing.T) {
	r, bot, _ := newTestRouter()
	r.send(1, strings.Repeat("a", 5000))
	if got := bot.last(); len(got) != maxMessage+len("…") {
		t.Errorf("len = %d", len(got))
	}

	r.send(1, "a"+strings.Repeat("é", 5000))
	got := bot.last()
	if !utf8.ValidString(got) {
		t.Fatalf("truncated text is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != maxMessage+1 {
		t.Errorf("runes = %d, want %d", n, maxMessage+1)
	}
	if !strings.HasSuffix(got, "é…") {
		t.Errorf("suffix = %q", got[len(got)-8:])
	}

	short := strings.Repeat("я", maxMessage)
	r.send(1, short)
	if bot.last() != short {
		t.Error("text at the limit was changed")
	}
}
