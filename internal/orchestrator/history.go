package orchestrator

import (
	"sync"

	"tradekernel/internal/domain"
)

// historyRing keeps terminal tasks in a capped FIFO ring. Once a task is
// evicted its id is no longer resolvable anywhere.
type historyRing struct {
	mu   sync.RWMutex
	cap  int
	buf  []domain.Task
	byID map[string]domain.Task
}

func newHistoryRing(capacity int) *historyRing {
	return &historyRing{
		cap:  capacity,
		buf:  make([]domain.Task, 0, capacity),
		byID: make(map[string]domain.Task, capacity),
	}
}

// add appends a terminal task, evicting the oldest entry when full.
func (h *historyRing) add(task domain.Task) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.buf) >= h.cap {
		oldest := h.buf[0]
		delete(h.byID, oldest.ID)
		copy(h.buf, h.buf[1:])
		h.buf = h.buf[:len(h.buf)-1]
	}
	h.buf = append(h.buf, task)
	h.byID[task.ID] = task
}

// get looks up a retained terminal task by id.
func (h *historyRing) get(id string) (domain.Task, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	task, ok := h.byID[id]
	return task, ok
}

// list returns retained tasks newest first, skipping offset entries and
// returning at most limit. limit <= 0 returns everything after the offset.
func (h *historyRing) list(limit, offset int) []domain.Task {
	h.mu.RLock()
	defer h.mu.RUnlock()

	remaining := len(h.buf) - offset
	if remaining <= 0 {
		return nil
	}
	n := remaining
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Task, 0, n)
	for i := len(h.buf) - 1 - offset; i >= 0 && len(out) < n; i-- {
		out = append(out, h.buf[i])
	}
	return out
}

func (h *historyRing) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buf)
}
