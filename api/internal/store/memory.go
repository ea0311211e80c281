package store

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"code-mentor/api/internal/llm"
	"code-mentor/api/internal/parse"
)

// MemoryConversations keeps conversations in process. Safe for concurrent use.
type MemoryConversations struct {
	mu    sync.RWMutex
	items map[string]*Conversation
}

func NewMemoryConversations() *MemoryConversations {
	return &MemoryConversations{items: make(map[string]*Conversation)}
}

func (m *MemoryConversations) Create(_ context.Context, c *Conversation) error {
	ts := now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = ts
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[c.ID]; ok {
		return errors.New("conversation already exists")
	}
	m.items[c.ID] = cloneConversation(c)
	return nil
}

func (m *MemoryConversations) Get(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(c), nil
}

func (m *MemoryConversations) AppendTurns(_ context.Context, id, threadRef string, turns ...llm.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	if threadRef != "" {
		c.ThreadRef = threadRef
	}
	c.Turns = append(c.Turns, turns...)
	c.UpdatedAt = now()
	return nil
}

func (m *MemoryConversations) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryConversations) PurgeOlderThan(_ context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.items {
		if c.UpdatedAt.Before(cutoff) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func cloneConversation(c *Conversation) *Conversation {
	out := *c
	out.Turns = slices.Clone(c.Turns)
	if out.Turns == nil {
		out.Turns = []llm.Turn{}
	}
	return &out
}

type analysisKey struct{ hash, engine, model string }

// MemoryAnalyses is an in-process analysis cache. Safe for concurrent use.
type MemoryAnalyses struct {
	mu    sync.RWMutex
	items map[analysisKey]Analysis
}

func NewMemoryAnalyses() *MemoryAnalyses {
	return &MemoryAnalyses{items: make(map[analysisKey]Analysis)}
}

func (m *MemoryAnalyses) FindByHash(_ context.Context, reportHash, engine, model string, maxAge time.Duration) (*Analysis, error) {
	m.mu.RLock()
	a, ok := m.items[analysisKey{reportHash, engine, model}]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if maxAge > 0 && time.Since(a.CreatedAt) > maxAge {
		return nil, ErrNotFound
	}
	a.Issues = parse.IssueList{Issues: slices.Clone(a.Issues.Issues)}
	if a.Issues.Issues == nil {
		a.Issues.Issues = []parse.Issue{}
	}
	return &a, nil
}

func (m *MemoryAnalyses) Upsert(_ context.Context, a Analysis) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}
	a.Issues = parse.IssueList{Issues: slices.Clone(a.Issues.Issues)}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[analysisKey{a.ReportHash, a.Engine, a.Model}] = a
	return nil
}

func (m *MemoryAnalyses) PurgeOlderThan(_ context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, a := range m.items {
		if a.CreatedAt.Before(cutoff) {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}
