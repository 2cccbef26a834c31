package provider

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// MemoryClient is an in-process provider backend. It serves two roles: the
// development backend when no wire-level client is plugged in, and the fake
// the pipeline tests run against.
type MemoryClient struct {
	mu       sync.Mutex
	messages map[string]*Message
	labels   map[string]string // id -> name
	sent     [][]byte
	nextID   int
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		messages: make(map[string]*Message),
		labels:   make(map[string]string),
	}
}

// Put seeds or replaces a message.
func (m *MemoryClient) Put(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := msg
	cp.State.Labels = append([]string(nil), msg.State.Labels...)
	m.messages[msg.ID] = &cp
}

// Sent returns copies of every raw message passed to Send.
func (m *MemoryClient) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	for i, raw := range m.sent {
		out[i] = append([]byte(nil), raw...)
	}
	return out
}

func (m *MemoryClient) FetchMessage(_ context.Context, id string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	cp := *msg
	cp.State.Labels = append([]string(nil), msg.State.Labels...)
	return &cp, nil
}

func (m *MemoryClient) ListChanges(_ context.Context, cursor string) (*ChangePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.messages))
	for id := range m.messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("cursor %q: %w", cursor, ErrDecode)
		}
		start = n
	}
	const pageSize = 100
	if start >= len(ids) {
		return &ChangePage{}, nil
	}
	end := start + pageSize
	next := ""
	if end < len(ids) {
		next = strconv.Itoa(end)
	} else {
		end = len(ids)
	}
	return &ChangePage{MessageIDs: ids[start:end], NextCursor: next}, nil
}

func (m *MemoryClient) MutateLabels(_ context.Context, id string, add, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	for _, label := range add {
		if !contains(msg.State.Labels, label) {
			msg.State.Labels = append(msg.State.Labels, label)
		}
	}
	for _, label := range remove {
		msg.State.Labels = without(msg.State.Labels, label)
	}
	m.deriveFlags(msg)
	return nil
}

func (m *MemoryClient) MoveToTrash(_ context.Context, id string) error {
	return m.setTrash(id, true)
}

func (m *MemoryClient) RestoreFromTrash(_ context.Context, id string) error {
	return m.setTrash(id, false)
}

func (m *MemoryClient) setTrash(id string, trashed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	msg.State.InTrash = trashed
	if trashed {
		msg.State.Labels = without(msg.State.Labels, "INBOX")
	} else {
		if !contains(msg.State.Labels, "INBOX") {
			msg.State.Labels = append(msg.State.Labels, "INBOX")
		}
	}
	m.deriveFlags(msg)
	return nil
}

func (m *MemoryClient) PermanentlyDelete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	delete(m.messages, id)
	return nil
}

func (m *MemoryClient) Send(_ context.Context, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, append([]byte(nil), raw...))
	return nil
}

func (m *MemoryClient) CreateLabel(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.labels {
		if existing == name {
			return id, nil
		}
	}
	m.nextID++
	id := "label_" + strconv.Itoa(m.nextID)
	m.labels[id] = name
	return id, nil
}

func (m *MemoryClient) ListLabels(_ context.Context) ([]Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Label, 0, len(m.labels))
	for id, name := range m.labels {
		out = append(out, Label{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// deriveFlags keeps the boolean view of the state consistent with the label
// set after every mutation.
func (m *MemoryClient) deriveFlags(msg *Message) {
	msg.State.Unread = contains(msg.State.Labels, "UNREAD")
	msg.State.Starred = contains(msg.State.Labels, "STARRED")
	msg.State.InInbox = contains(msg.State.Labels, "INBOX") && !msg.State.InTrash
}

// NewMemoryFactory returns a factory that hands out one shared MemoryClient
// per account.
func NewMemoryFactory() ClientFactory {
	var mu sync.Mutex
	clients := make(map[string]*MemoryClient)
	return func(accountID string) (Client, error) {
		mu.Lock()
		defer mu.Unlock()
		c, ok := clients[accountID]
		if !ok {
			c = NewMemoryClient()
			clients[accountID] = c
		}
		return c, nil
	}
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

func without(list []string, item string) []string {
	out := list[:0]
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}
