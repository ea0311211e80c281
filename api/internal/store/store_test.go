package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"code-mentor/api/internal/llm"
	"code-mentor/api/internal/parse"
)

func backends(t *testing.T) map[string]*Store {
	t.Helper()
	sqlite, err := Open(context.Background(), filepath.Join(t.TempDir(), "mentor.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]*Store{
		"sqlite": sqlite,
		"memory": NewMemory(),
	}
}

func TestConversations(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &Conversation{
				ID:     "c-1",
				Engine: "gpt",
				Model:  "gpt-4o",
				Turns:  []llm.Turn{{Role: llm.RoleUser, Text: "seed"}},
			}
			if err := s.Conversations.Create(ctx, c); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if c.CreatedAt.IsZero() {
				t.Error("CreatedAt not set")
			}

			if err := s.Conversations.AppendTurns(ctx, "c-1", "thread-9",
				llm.Turn{Role: llm.RoleUser, Text: "what does it do?"},
				llm.Turn{Role: llm.RoleAssistant, Text: "it sorts"},
			); err != nil {
				t.Fatalf("AppendTurns: %v", err)
			}
			// an empty thread ref keeps the stored one
			if err := s.Conversations.AppendTurns(ctx, "c-1", "", llm.Turn{Role: llm.RoleUser, Text: "thanks"}); err != nil {
				t.Fatalf("AppendTurns: %v", err)
			}

			got, err := s.Conversations.Get(ctx, "c-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.ThreadRef != "thread-9" || got.Engine != "gpt" || got.Model != "gpt-4o" {
				t.Errorf("conversation = %+v", got)
			}
			want := []string{"seed", "what does it do?", "it sorts", "thanks"}
			if len(got.Turns) != len(want) {
				t.Fatalf("turns = %+v", got.Turns)
			}
			for i, w := range want {
				if got.Turns[i].Text != w {
					t.Errorf("turn %d = %q, want %q", i, got.Turns[i].Text, w)
				}
			}
			if got.Turns[2].Role != llm.RoleAssistant {
				t.Errorf("turn 2 role = %q", got.Turns[2].Role)
			}

			if err := s.Conversations.Delete(ctx, "c-1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Conversations.Get(ctx, "c-1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after delete: %v", err)
			}
		})
	}
}

func TestConversationNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Conversations.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get: %v", err)
			}
			if err := s.Conversations.AppendTurns(ctx, "missing", "", llm.Turn{Role: llm.RoleUser, Text: "x"}); !errors.Is(err, ErrNotFound) {
				t.Errorf("AppendTurns: %v", err)
			}
			if err := s.Conversations.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Delete: %v", err)
			}
		})
	}
}

func TestConcurrentAppend(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.Conversations.Create(ctx, &Conversation{ID: "c", Engine: "gpt"}); err != nil {
				t.Fatal(err)
			}
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := s.Conversations.AppendTurns(ctx, "c", "", llm.Turn{Role: llm.RoleUser, Text: "m"}); err != nil {
						t.Errorf("AppendTurns: %v", err)
					}
				}()
			}
			wg.Wait()
			got, err := s.Conversations.Get(ctx, "c")
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Turns) != 8 {
				t.Errorf("turns = %d, want 8", len(got.Turns))
			}
		})
	}
}

func TestAnalyses(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := Analysis{
				ReportHash: "abc",
				Engine:     "gpt",
				Model:      "gpt-4o",
				Summary:    "IssueNumber 1. Bug: x - YouTube: https://y",
				Issues:     parse.IssueList{Issues: []parse.Issue{{Name: "Bug", Explanation: "x", Link: "https://y"}}},
			}
			if err := s.Analyses.Upsert(ctx, a); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			got, err := s.Analyses.FindByHash(ctx, "abc", "gpt", "gpt-4o", time.Hour)
			if err != nil {
				t.Fatalf("FindByHash: %v", err)
			}
			if got.Summary != a.Summary || len(got.Issues.Issues) != 1 || got.Issues.Issues[0].Link != "https://y" {
				t.Errorf("analysis = %+v", got)
			}

			// the key includes engine and model
			if _, err := s.Analyses.FindByHash(ctx, "abc", "gemini", "gpt-4o", 0); !errors.Is(err, ErrNotFound) {
				t.Errorf("other engine: %v", err)
			}

			a.Summary = "updated"
			a.Issues = parse.IssueList{Issues: []parse.Issue{}}
			if err := s.Analyses.Upsert(ctx, a); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			got, err = s.Analyses.FindByHash(ctx, "abc", "gpt", "gpt-4o", 0)
			if err != nil {
				t.Fatalf("FindByHash: %v", err)
			}
			if got.Summary != "updated" || got.Issues.Issues == nil || len(got.Issues.Issues) != 0 {
				t.Errorf("analysis after upsert = %+v", got)
			}
		})
	}
}

func TestAnalysisMaxAge(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := Analysis{ReportHash: "h", Engine: "gpt", Model: "m", CreatedAt: time.Now().Add(-2 * time.Hour)}
			if err := s.Analyses.Upsert(ctx, old); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Analyses.FindByHash(ctx, "h", "gpt", "m", time.Hour); !errors.Is(err, ErrNotFound) {
				t.Errorf("stale entry served: %v", err)
			}
			if _, err := s.Analyses.FindByHash(ctx, "h", "gpt", "m", 0); err != nil {
				t.Errorf("maxAge 0 should ignore age: %v", err)
			}
		})
	}
}

func TestPurge(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			stale := time.Now().Add(-3 * time.Hour)
			_ = s.Conversations.Create(ctx, &Conversation{ID: "old", Engine: "gpt", CreatedAt: stale, UpdatedAt: stale,
				Turns: []llm.Turn{{Role: llm.RoleUser, Text: "x"}}})
			_ = s.Conversations.Create(ctx, &Conversation{ID: "new", Engine: "gpt"})
			_ = s.Analyses.Upsert(ctx, Analysis{ReportHash: "old", Engine: "gpt", Model: "m", CreatedAt: stale})
			_ = s.Analyses.Upsert(ctx, Analysis{ReportHash: "new", Engine: "gpt", Model: "m"})

			convs, analyses, err := s.Purge(ctx, time.Hour)
			if err != nil {
				t.Fatalf("Purge: %v", err)
			}
			if convs != 1 || analyses != 1 {
				t.Errorf("purged %d conversations, %d analyses; want 1, 1", convs, analyses)
			}
			if _, err := s.Conversations.Get(ctx, "new"); err != nil {
				t.Errorf("fresh conversation purged: %v", err)
			}
			if _, _, err := s.Purge(ctx, 0); err == nil {
				t.Error("expected error for non-positive age")
			}
		})
	}
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if s.Backend() != "memory" {
		t.Errorf("backend = %q", s.Backend())
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestSafeDSNSummary(t *testing.T) {
	tests := []struct{ dsn, want string }{
		{"", "memory"},
		{"memory", "memory"},
		{"postgres://bot:secret@db:5432/mentor?sslmode=disable", "host=db port=5432 db=mentor user=bot"},
		{"postgres://bot:secret@db/mentor", "host=db db=mentor user=bot"},
		{"sqlite:///var/lib/mentor.db?_pragma=foreign_keys(1)", "sqlite path=/var/lib/mentor.db"},
		{"mentor.db", "sqlite path=mentor.db"},
	}
	for _, tt := range tests {
		if got := SafeDSNSummary(tt.dsn); got != tt.want {
			t.Errorf("SafeDSNSummary(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}
