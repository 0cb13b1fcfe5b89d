package client

import (
	"sort"
	"sync"
	"time"
)

const DefaultTypingExpiry = time.Second

type typingTimer struct {
	*time.Timer
	gen uint64
}

// TypingIndicator tracks who is typing in the lobby. A name is dropped
// when no typing event arrives for it within the expiry, or when that
// member's chat message arrives.
type TypingIndicator struct {
	mu       sync.Mutex
	expiry   time.Duration
	gen      uint64
	timers   map[string]typingTimer
	onChange func([]string)
}

func NewTypingIndicator(expiry time.Duration, onChange func([]string)) *TypingIndicator {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}

	return &TypingIndicator{
		expiry:   expiry,
		timers:   make(map[string]typingTimer),
		onChange: onChange,
	}
}

// Typing marks name as typing and restarts its expiry.
func (t *TypingIndicator) Typing(name string) {
	t.mu.Lock()
	if timer, ok := t.timers[name]; ok && timer.Reset(t.expiry) {
		t.mu.Unlock()
		return
	}
	_, wasActive := t.timers[name]

	t.gen++
	gen := t.gen
	t.timers[name] = typingTimer{
		gen: gen,
		Timer: time.AfterFunc(t.expiry, func() {
			t.expire(name, gen)
		}),
	}
	active := t.activeLocked()
	t.mu.Unlock()

	if !wasActive {
		t.changed(active)
	}
}

// Clear drops name immediately.
func (t *TypingIndicator) Clear(name string) {
	t.mu.Lock()
	timer, ok := t.timers[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	timer.Stop()
	delete(t.timers, name)
	active := t.activeLocked()
	t.mu.Unlock()

	t.changed(active)
}

func (t *TypingIndicator) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked()
}

func (t *TypingIndicator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, timer := range t.timers {
		timer.Stop()
		delete(t.timers, name)
	}
}

func (t *TypingIndicator) expire(name string, gen uint64) {
	t.mu.Lock()
	if tt, ok := t.timers[name]; !ok || tt.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.timers, name)
	active := t.activeLocked()
	t.mu.Unlock()

	t.changed(active)
}

func (t *TypingIndicator) activeLocked() []string {
	names := make([]string, 0, len(t.timers))
	for name := range t.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *TypingIndicator) changed(active []string) {
	if t.onChange != nil {
		t.onChange(active)
	}
}
