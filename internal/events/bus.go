package events

import (
	"sync"
	"time"
)

// Progress is published while a run moves through its steps.
type Progress struct {
	RunID    string    `json:"run_id,omitempty"`
	JobID    int64     `json:"job_id,omitempty"`
	SourceID string    `json:"source_id,omitempty"`
	Step     string    `json:"step"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// JobStatus is published when a job changes state.
type JobStatus struct {
	JobID    int64  `json:"job_id"`
	SourceID string `json:"source_id"`
	Stage    string `json:"stage"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Bus provides simple in-process pub/sub for observability.
type Bus struct {
	mu   sync.RWMutex
	subs []chan any
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe() <-chan any {
	ch := make(chan any, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe detaches and closes a channel returned by Subscribe.
func (b *Bus) Unsubscribe(sub <-chan any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish drops events for subscribers whose buffer is full.
func (b *Bus) Publish(ev any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
