package mentor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"code-mentor/api/internal/llm"
	"code-mentor/api/internal/parse"
	"code-mentor/api/internal/prompt"
	"code-mentor/api/internal/store"
)

// fakeEngine answers every call with a canned reply and records what it was sent.
type fakeEngine struct {
	name      string
	reply     string
	threadRef string
	err       error

	mu       sync.Mutex
	prompts  []string
	chats    []llm.ChatRequest
	reports  []llm.ReportRequest
	analyzed int
}

func (f *fakeEngine) Name() string     { return f.name }
func (f *fakeEngine) GetModel() string { return f.name + "-model" }

func (f *fakeEngine) Complete(_ context.Context, in llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, in.Prompt)
	return f.reply, f.err
}

func (f *fakeEngine) Chat(_ context.Context, in llm.ChatRequest) (llm.ChatResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, in)
	if f.err != nil {
		return llm.ChatResult{}, f.err
	}
	return llm.ChatResult{Reply: f.reply, ThreadRef: f.threadRef}, nil
}

type fakeAnalyzer struct{ *fakeEngine }

func (f fakeAnalyzer) AnalyzeReport(_ context.Context, in llm.ReportRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed++
	f.reports = append(f.reports, in)
	return f.reply, f.err
}

func newService(t *testing.T, gpt, gemini llm.Engine) (*Service, *store.Store) {
	t.Helper()
	prompts, err := prompt.Load("")
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewMemory()
	engines := &llm.Engines{OpenAI: gpt, Gemini: gemini, Default: "gpt"}
	return New(engines, prompts, st.Conversations, st.Analyses, DefaultOptions()), st
}

const sonarReport = `{"issues":[
 {"key":"1","type":"BUG","message":"Null pointer dereference","severity":"MAJOR"},
 {"key":"2","type":"CODE_SMELL","message":"Rename this variable"}
]}`

func TestAnalyzeReport(t *testing.T) {
	eng := fakeAnalyzer{&fakeEngine{
		name:  "gpt",
		reply: "IssueNumber 1. Null dereference: Check before use.\n- YouTube: https://youtu.be/a\nIssueNumber 2. Naming: Use clear names.\n- YouTube: https://youtu.be/b",
	}}
	s, _ := newService(t, eng, nil)
	ctx := context.Background()

	res, err := s.AnalyzeReport(ctx, "report.json", []byte(sonarReport), "")
	if err != nil {
		t.Fatalf("AnalyzeReport: %v", err)
	}
	if res.Summary != eng.reply {
		t.Errorf("summary = %q", res.Summary)
	}
	if len(res.ParsedIssues.Issues) != 2 || res.ParsedIssues.Issues[1].Name != "Naming" {
		t.Errorf("issues = %+v", res.ParsedIssues.Issues)
	}

	req := eng.reports[0]
	if req.Filename != "report_summary.json" {
		t.Errorf("filename = %q", req.Filename)
	}
	if strings.Contains(string(req.Content), "severity") || !strings.Contains(string(req.Content), "Null pointer dereference") {
		t.Errorf("uploaded summary = %s", req.Content)
	}
	if !strings.Contains(req.Prompt, "top 10") || !strings.Contains(req.Instructions, "SonarQube") {
		t.Errorf("prompt = %q, instructions = %q", req.Prompt, req.Instructions)
	}

	// the same report is served from the cache
	if _, err := s.AnalyzeReport(ctx, "again.json", []byte(sonarReport), "gpt"); err != nil {
		t.Fatalf("AnalyzeReport: %v", err)
	}
	if eng.analyzed != 1 {
		t.Errorf("remote analyses = %d, want 1", eng.analyzed)
	}
}

func TestAnalyzeReportInvalidInput(t *testing.T) {
	eng := fakeAnalyzer{&fakeEngine{name: "gpt"}}
	gemini := &fakeEngine{name: "gemini"}
	s, _ := newService(t, eng, gemini)

	tests := []struct {
		name    string
		raw     string
		llmName string
	}{
		{"empty file", "", ""},
		{"not json", "<xml/>", ""},
		{"unknown engine", sonarReport, "claude"},
		{"engine without retrieval", sonarReport, "gemini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AnalyzeReport(context.Background(), "r.json", []byte(tt.raw), tt.llmName)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
	if eng.analyzed != 0 {
		t.Errorf("remote called %d times", eng.analyzed)
	}
}

func TestAnalyzeReportRemoteFailure(t *testing.T) {
	boom := errors.New("quota exceeded")
	s, _ := newService(t, fakeAnalyzer{&fakeEngine{name: "gpt", err: boom}}, nil)

	_, err := s.AnalyzeReport(context.Background(), "r.json", []byte(sonarReport), "")
	if !errors.Is(err, boom) || errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestReviewCode(t *testing.T) {
	eng := &fakeEngine{name: "gpt", reply: "Score: 72/100\nFeedback:\nUse a map.\n\nSuggested Revised Code:\n```go\nm := map[string]int{}\n```\nRecommended YouTube Video:\nhttps://youtu.be/maps"}
	s, _ := newService(t, eng, nil)

	got, err := s.ReviewCode(context.Background(), CodeRequest{Code: "x := 1", Language: "go"})
	if err != nil {
		t.Fatalf("ReviewCode: %v", err)
	}
	if got.Score == nil || *got.Score != 72 || got.Feedback != "Use a map." || got.RevisedCode != "m := map[string]int{}" {
		t.Errorf("review = %+v", got)
	}
	if got.YouTubeLink == nil || *got.YouTubeLink != "https://youtu.be/maps" {
		t.Errorf("link = %v", got.YouTubeLink)
	}
	if !strings.Contains(eng.prompts[0], "x := 1") {
		t.Errorf("prompt does not carry the code: %q", eng.prompts[0])
	}

	if _, err := s.ReviewCode(context.Background(), CodeRequest{Code: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty code: %v", err)
	}
}

func TestGenerateFlawedSelectsEngine(t *testing.T) {
	gpt := &fakeEngine{name: "gpt", reply: "gpt answer"}
	gemini := &fakeEngine{name: "gemini", reply: "```go\nbroken()\n```"}
	s, _ := newService(t, gpt, gemini)

	got, err := s.GenerateFlawed(context.Background(), CodeRequest{Code: "ok()", LLMName: "Gemini"})
	if err != nil {
		t.Fatalf("GenerateFlawed: %v", err)
	}
	if got != gemini.reply {
		t.Errorf("flawed = %q", got)
	}
	if len(gpt.prompts) != 0 || !strings.Contains(gemini.prompts[0], "3 subtle flaws") {
		t.Errorf("prompts gpt=%v gemini=%v", gpt.prompts, gemini.prompts)
	}
}

func TestJudge(t *testing.T) {
	eng := &fakeEngine{name: "gpt", reply: "Winner: ai\nUser Pros:\n- short\nUser Cons:\n- slow\nAI Pros:\n- fast\nAI Cons:\n- long\nReason: faster"}
	s, _ := newService(t, eng, nil)

	got, err := s.Judge(context.Background(), JudgeRequest{UserCode: "a", AICode: "b", Problem: "sum"})
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	want := parse.Judgment{Winner: "AI", UserPros: "- short", UserCons: "- slow", AIPros: "- fast", AICons: "- long", Reason: "faster"}
	if got != want {
		t.Errorf("judgment = %+v, want %+v", got, want)
	}

	if _, err := s.Judge(context.Background(), JudgeRequest{UserCode: "a"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing ai_code: %v", err)
	}
}

func TestConversationReplay(t *testing.T) {
	eng := &fakeEngine{name: "gemini", reply: "It adds numbers."}
	s, st := newService(t, &fakeEngine{name: "gpt"}, eng)
	ctx := context.Background()

	start, err := s.StartConversation(ctx, CodeRequest{Code: "def add(a, b): return a + b", LLMName: "gemini"})
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	if start.ConversationID == "" || start.Response != "It adds numbers." {
		t.Errorf("start = %+v", start)
	}

	eng.reply = "Use type hints."
	reply, err := s.SendMessage(ctx, start.ConversationID, "How to improve it?")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != "Use type hints." {
		t.Errorf("reply = %q", reply)
	}

	last := eng.chats[len(eng.chats)-1]
	if len(last.History) != 2 || !strings.Contains(last.History[0].Text, "def add") || last.Message != "How to improve it?" {
		t.Errorf("chat request = %+v", last)
	}

	conv, err := st.Conversations.Get(ctx, start.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Turns) != 4 || conv.Engine != "gemini" || conv.Turns[3].Text != "Use type hints." {
		t.Errorf("stored conversation = %+v", conv)
	}
}

func TestConversationOnRemoteThread(t *testing.T) {
	eng := &fakeEngine{name: "gpt", reply: "Summary.", threadRef: "thread-1"}
	s, st := newService(t, eng, nil)
	ctx := context.Background()

	start, err := s.StartConversation(ctx, CodeRequest{Code: "main()"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SendMessage(ctx, start.ConversationID, "why?"); err != nil {
		t.Fatal(err)
	}
	if got := eng.chats[1].ThreadRef; got != "thread-1" {
		t.Errorf("thread ref sent = %q", got)
	}
	conv, _ := st.Conversations.Get(ctx, start.ConversationID)
	if conv.ThreadRef != "thread-1" {
		t.Errorf("thread ref stored = %q", conv.ThreadRef)
	}
}

func TestSendMessageErrors(t *testing.T) {
	s, _ := newService(t, &fakeEngine{name: "gpt"}, nil)
	ctx := context.Background()

	if _, err := s.SendMessage(ctx, "", "hi"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing id: %v", err)
	}
	if _, err := s.SendMessage(ctx, "abc", " "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing message: %v", err)
	}
	if _, err := s.SendMessage(ctx, "does-not-exist", "hi"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown id: %v", err)
	}
	if err := s.EndConversation(ctx, "does-not-exist"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("end unknown id: %v", err)
	}
}

func TestEndConversation(t *testing.T) {
	s, _ := newService(t, &fakeEngine{name: "gpt", reply: "ok"}, nil)
	ctx := context.Background()

	start, err := s.StartConversation(ctx, CodeRequest{Code: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EndConversation(ctx, start.ConversationID); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}
	if _, err := s.SendMessage(ctx, start.ConversationID, "hi"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("after end: %v", err)
	}
}
