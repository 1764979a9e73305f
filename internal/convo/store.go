// Package convo is the in-memory conversation log consulted by the
// dispatcher for multi-turn context.
//
// Conversations are never evicted automatically; Delete and Clear are the only
// removal paths. Writers to different conversations never contend beyond a
// map lookup, and writers to the same conversation are serialized by a
// per-conversation lock.
package convo

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned for operations on an unknown conversation id.
var ErrNotFound = errors.New("conversation not found")

// DefaultWindow is the number of recent messages returned by Window when no
// size is given.
const DefaultWindow = 10

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one turn of a conversation. Messages are immutable once appended.
type Message struct {
	Role      Role           `json:"role" yaml:"role"`
	Content   string         `json:"content" yaml:"content"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Conversation is an ordered message log for one project.
type Conversation struct {
	ID        string         `json:"id" yaml:"id"`
	ProjectID string         `json:"project_id" yaml:"project_id"`
	Messages  []Message      `json:"messages" yaml:"messages"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Summary is the list view of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type entry struct {
	mu   sync.Mutex
	conv Conversation
}

// Store holds conversations in memory.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	log     *zap.Logger
	now     func() time.Time
}

// NewStore creates an empty Store. A nil logger disables logging.
func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		entries: make(map[string]*entry),
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source (for testing).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Create starts a new conversation. An existing conversation with the same id
// is replaced.
func (s *Store) Create(id, projectID string, metadata map[string]any) Conversation {
	now := s.now()
	e := &entry{conv: Conversation{
		ID:        id,
		ProjectID: projectID,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  copyMap(metadata),
	}}

	s.mu.Lock()
	_, existed := s.entries[id]
	s.entries[id] = e
	s.mu.Unlock()

	if existed {
		s.log.Warn("conversation replaced", zap.String("conversation_id", id))
	}
	return e.snapshot()
}

// Get returns a copy of the conversation.
func (s *Store) Get(id string) (Conversation, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Conversation{}, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	return e.snapshot(), nil
}

// GetOrCreate returns the conversation, creating it for projectID if missing.
func (s *Store) GetOrCreate(id, projectID string) Conversation {
	if e, ok := s.lookup(id); ok {
		return e.snapshot()
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		now := s.now()
		e = &entry{conv: Conversation{ID: id, ProjectID: projectID, Messages: []Message{}, CreatedAt: now, UpdatedAt: now}}
		s.entries[id] = e
	}
	s.mu.Unlock()
	return e.snapshot()
}

// Append adds a message and bumps the conversation's UpdatedAt.
func (s *Store) Append(id string, role Role, content string, metadata map[string]any) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("append to %q: invalid role %q", id, role)
	}
	e, ok := s.lookup(id)
	if !ok {
		return Message{}, fmt.Errorf("append to %q: %w", id, ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	msg := Message{Role: role, Content: content, Timestamp: s.now(), Metadata: copyMap(metadata)}
	e.conv.Messages = append(e.conv.Messages, msg)
	e.conv.UpdatedAt = msg.Timestamp
	return msg, nil
}

// Messages returns the last limit messages in order, or all of them when
// limit <= 0.
func (s *Store) Messages(id string, limit int) ([]Message, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, fmt.Errorf("messages of %q: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return tail(e.conv.Messages, limit), nil
}

// Window returns the most recent size messages; size <= 0 uses DefaultWindow.
func (s *Store) Window(id string, size int) ([]Message, error) {
	if size <= 0 {
		size = DefaultWindow
	}
	return s.Messages(id, size)
}

// Delete removes a conversation and reports whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok
}

// List returns summaries, most recently updated first. A non-empty projectID
// restricts the result to that project.
func (s *Store) List(projectID string) []Summary {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		c := e.conv
		sum := Summary{ID: c.ID, ProjectID: c.ProjectID, MessageCount: len(c.Messages), CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
		e.mu.Unlock()
		if projectID != "" && sum.ProjectID != projectID {
			continue
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Clear removes every conversation and returns how many were removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]*entry)
	return n
}

// Count returns the number of conversations.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Export returns a full copy of a conversation suitable for serialization.
func (s *Store) Export(id string) (Conversation, error) {
	return s.Get(id)
}

// Import stores c, replacing any conversation with the same id.
func (s *Store) Import(c Conversation) error {
	if c.ID == "" {
		return errors.New("import conversation: missing id")
	}
	for i, m := range c.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("import conversation %q: message %d has invalid role %q", c.ID, i, m.Role)
		}
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	e := &entry{conv: clone(c)}

	s.mu.Lock()
	_, existed := s.entries[c.ID]
	s.entries[c.ID] = e
	s.mu.Unlock()

	if existed {
		s.log.Warn("conversation replaced by import", zap.String("conversation_id", c.ID))
	}
	return nil
}

func (e *entry) snapshot() Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.conv)
}

func clone(c Conversation) Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Metadata = copyMap(m.Metadata)
		out.Messages[i] = m
	}
	out.Metadata = copyMap(c.Metadata)
	return out
}

func tail(msgs []Message, limit int) []Message {
	start := 0
	if limit > 0 && len(msgs) > limit {
		start = len(msgs) - limit
	}
	out := make([]Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
