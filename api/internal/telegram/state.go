package telegram

import "sync"

// chats holds per-chat state: the active conversation handle and the chosen engine.
type chats struct {
	mu    sync.Mutex
	conv  map[int64]string
	model map[int64]string
}

func newChats() *chats {
	return &chats{conv: map[int64]string{}, model: map[int64]string{}}
}

func (c *chats) conversation(chatID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv[chatID]
}

func (c *chats) setConversation(chatID int64, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		delete(c.conv, chatID)
		return
	}
	c.conv[chatID] = id
}

// engine is the llm_name used for the chat; empty selects the server default.
func (c *chats) engine(chatID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model[chatID]
}

func (c *chats) setEngine(chatID int64, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model[chatID] = name
}
