package usecase

import (
	"sync"

	"TrustGate/internal/domain/models"
)

const defaultTransitionLogSize = 500

// TransitionLog keeps the most recent trust transitions in a fixed ring.
type TransitionLog struct {
	mu    sync.RWMutex
	buf   []models.StateTransition
	next  int
	count int
}

func NewTransitionLog(size int) *TransitionLog {
	if size <= 0 {
		size = defaultTransitionLogSize
	}
	return &TransitionLog{buf: make([]models.StateTransition, size)}
}

func (l *TransitionLog) Add(trs ...models.StateTransition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tr := range trs {
		l.buf[l.next] = tr
		l.next = (l.next + 1) % len(l.buf)
		if l.count < len(l.buf) {
			l.count++
		}
	}
}

// Recent returns up to limit transitions, oldest first.
func (l *TransitionLog) Recent(limit int) []models.StateTransition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]models.StateTransition, 0, limit)
	start := (l.next - limit + len(l.buf)) % len(l.buf)
	for i := 0; i < limit; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}

func (l *TransitionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
