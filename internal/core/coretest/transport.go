// Package coretest provides an in-memory core.Transport for tests.
package coretest

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Relay/internal/core"
)

var ErrClosed = errors.New("coretest: transport closed")

// Transport records everything sent through it. Backlog is whatever the
// test sets, unless BacklogFunc is provided.
type Transport struct {
	BacklogFunc func() int64

	mu         sync.Mutex
	texts      [][]byte
	binaries   []core.Frame
	pings      int
	closed     bool
	terminated bool

	backlog atomic.Int64
	done    chan struct{}
	once    sync.Once
}

func New() *Transport {
	return &Transport{done: make(chan struct{})}
}

var _ core.Transport = (*Transport)(nil)

func (t *Transport) SendText(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.terminated {
		return ErrClosed
	}
	t.texts = append(t.texts, append([]byte(nil), data...))
	return nil
}

func (t *Transport) SendBinary(f core.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.terminated {
		return ErrClosed
	}
	t.binaries = append(t.binaries, append(core.Frame(nil), f...))
	return nil
}

func (t *Transport) BacklogBytes() int64 {
	if t.BacklogFunc != nil {
		return t.BacklogFunc()
	}
	return t.backlog.Load()
}

func (t *Transport) SetBacklog(n int64) { t.backlog.Store(n) }

func (t *Transport) Ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pings++
	return nil
}

func (t *Transport) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.once.Do(func() { close(t.done) })
}

func (t *Transport) Terminate() {
	t.mu.Lock()
	t.terminated = true
	t.mu.Unlock()
	t.once.Do(func() { close(t.done) })
}

func (t *Transport) Done() <-chan struct{} { return t.done }

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Terminated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminated
}

func (t *Transport) Pings() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings
}

func (t *Transport) Texts() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.texts...)
}

func (t *Transport) Binaries() []core.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.Frame(nil), t.binaries...)
}

// Types lists the "type" field of every text message, in send order.
func (t *Transport) Types() []string {
	var out []string
	for _, m := range t.Texts() {
		var env struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(m, &env)
		out = append(out, env.Type)
	}
	return out
}

// Last returns the most recent text message of the given type decoded into a map.
func (t *Transport) Last(typ string) (map[string]any, bool) {
	texts := t.Texts()
	for i := len(texts) - 1; i >= 0; i-- {
		var m map[string]any
		if err := json.Unmarshal(texts[i], &m); err != nil {
			continue
		}
		if m["type"] == typ {
			return m, true
		}
	}
	return nil, false
}

// Reset forgets recorded messages.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts = nil
	t.binaries = nil
}
