package credential

import "sync"

// MemoryStore 内存凭证存储（测试和一次性会话用）
type MemoryStore struct {
	mu          sync.RWMutex
	token       string
	hasToken    bool
	identity    Identity
	hasIdentity bool
}

// NewMemoryStore 创建内存凭证存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.hasToken = true
	return nil
}

func (s *MemoryStore) SetIdentity(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	s.hasIdentity = true
	return nil
}

func (s *MemoryStore) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasToken {
		return "", ErrNotFound
	}
	return s.token, nil
}

func (s *MemoryStore) Identity() (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasIdentity {
		return Identity{}, ErrNotFound
	}
	return s.identity, nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.hasToken = false
	s.identity = Identity{}
	s.hasIdentity = false
	return nil
}
