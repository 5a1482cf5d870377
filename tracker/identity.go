package tracker

import (
	"sync"

	"github.com/google/uuid"
)

const (
	sessionIDKey   = "exp_session_id"
	anonymousIDKey = "exp_anonymous_id"
)

// Storage is a string key/value store. The tracker uses one scoped to the
// browsing session and one that persists across sessions.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// MemoryStorage is an in-process Storage.
type MemoryStorage struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{m: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *MemoryStorage) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

func (s *MemoryStorage) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

// Identity hands out the session, anonymous and user identifiers.
type Identity struct {
	session    Storage
	persistent Storage

	mu     sync.Mutex
	userID string
}

func NewIdentity(session, persistent Storage) *Identity {
	return &Identity{session: session, persistent: persistent}
}

func getOrCreate(s Storage, key string) string {
	if v, ok := s.Get(key); ok && v != "" {
		return v
	}
	v := uuid.NewString()
	s.Set(key, v)
	return v
}

func (i *Identity) SessionID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return getOrCreate(i.session, sessionIDKey)
}

func (i *Identity) AnonymousID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return getOrCreate(i.persistent, anonymousIDKey)
}

func (i *Identity) UserID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.userID
}

func (i *Identity) SetUserID(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.userID = id
}

// Reset forgets the user and starts a new session. The anonymous id survives.
func (i *Identity) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.userID = ""
	i.session.Delete(sessionIDKey)
}
