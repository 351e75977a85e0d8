// Package store owns the persisted state of the decision core: the
// append-only decision log, the strategy profile table, and the risk limits
// record. Each store has an in-memory implementation and, where operators
// want durability, a backing service implementation.
package store

import (
	"context"
	"sync"

	"tradekernel/internal/domain"
)

// DecisionLog is the append-only audit trail. Every decision the policy
// engine produces is appended, allowed or not.
type DecisionLog interface {
	Append(ctx context.Context, d domain.Decision) error
	Recent(ctx context.Context, n int) ([]domain.Decision, error)
}

// MemoryLog is the in-process decision log. It keeps the most recent cap
// entries; the audit property holds for the retention window.
type MemoryLog struct {
	mu      sync.RWMutex
	cap     int
	entries []domain.Decision
}

// DefaultLogCap bounds the in-memory audit retention.
const DefaultLogCap = 10000

// NewMemoryLog creates a bounded in-memory log. cap <= 0 uses the default.
func NewMemoryLog(cap int) *MemoryLog {
	if cap <= 0 {
		cap = DefaultLogCap
	}
	return &MemoryLog{cap: cap}
}

// Append adds a decision to the log, evicting the oldest past capacity.
func (l *MemoryLog) Append(_ context.Context, d domain.Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, d)
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
	return nil
}

// Recent returns up to n most recent decisions, newest first.
func (l *MemoryLog) Recent(_ context.Context, n int) ([]domain.Decision, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]domain.Decision, n)
	for i := 0; i < n; i++ {
		out[i] = l.entries[len(l.entries)-1-i]
	}
	return out, nil
}

// Len reports the number of retained entries.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
