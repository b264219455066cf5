package dispatch

import "sync"

// Memo remembers body ids resolved during one dispatch call, so a batch of
// inputs carrying the same content touches the cache and store once.
// A Memo is never shared between unrelated calls.
type Memo struct {
	mu     sync.Mutex
	bodies map[string]int64
}

func NewMemo() *Memo {
	return &Memo{bodies: make(map[string]int64)}
}

func (m *Memo) body(fingerprint string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bodies[fingerprint]
	return id, ok
}

func (m *Memo) setBody(fingerprint string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies[fingerprint] = id
}
