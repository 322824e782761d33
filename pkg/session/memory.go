package session

import (
	"context"
	"sync"
)

// MemoryStore 内存会话存储
//
// 适用于测试和单进程部署，同一会话的更新在锁内串行化。
type MemoryStore struct {
	sessions map[string]Context
	mu       sync.RWMutex
}

// NewMemoryStore 创建内存会话存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Context),
	}
}

// Get 获取会话快照
func (s *MemoryStore) Get(_ context.Context, sessionID string) (Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.sessions[sessionID]; ok {
		return c, nil
	}
	return Context{SessionID: sessionID}, nil
}

// Put 直接写入快照（供装载初始状态使用）
func (s *MemoryStore) Put(_ context.Context, c Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[c.SessionID] = c
	return nil
}

// Propose 应用核心建议的更新
func (s *MemoryStore) Propose(_ context.Context, sessionID string, update Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[sessionID]
	if !ok {
		current = Context{SessionID: sessionID}
	}
	update.SessionID = sessionID
	s.sessions[sessionID] = update.Apply(current)
	return nil
}

// Len 返回会话数量
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	return nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
