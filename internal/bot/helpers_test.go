package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/efebarandurmaz/chatrelay/internal/gateway"
	"github.com/efebarandurmaz/chatrelay/internal/llm"
	"github.com/efebarandurmaz/chatrelay/internal/store"
)

type savedMessage struct {
	tag string
	msg store.ChatMessage
}

// memStore records saves in memory.
type memStore struct {
	store.Discard
	mu    sync.Mutex
	saved []savedMessage
}

func (m *memStore) Save(ctx context.Context, tag string, msg store.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, savedMessage{tag: tag, msg: msg})
	return nil
}

func (m *memStore) Name() string { return "memory" }

// slowText tracks how many generations run at once.
type slowText struct {
	running       atomic.Int32
	maxConcurrent atomic.Int32
	calls         atomic.Int32
}

func (s *slowText) Generate(ctx context.Context, chatID int64, transcript []llm.Message) gateway.Result {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		cur := s.maxConcurrent.Load()
		if n <= cur || s.maxConcurrent.CompareAndSwap(cur, n) {
			break
		}
	}
	s.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	return gateway.Result{Success: true, Text: "четыре"}
}
