package orchestrator

import (
	"container/heap"
	"sync"

	"tradekernel/internal/domain"
)

// taskQueue is the bounded priority queue feeding the worker pool. Higher
// priority dequeues first; ties break by submission order, so scheduling is
// deterministic and testable. Push fails fast when full instead of blocking.
type taskQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  pqItems
	byID   map[string]*pqItem
	cap    int
	seq    uint64
	closed bool
}

type pqItem struct {
	id       string
	priority int
	seq      uint64
	index    int
}

func newTaskQueue(capacity int) *taskQueue {
	q := &taskQueue{
		byID: make(map[string]*pqItem),
		cap:  capacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues a task id. Returns ErrBackpressure when the queue is full.
func (q *taskQueue) push(id string, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.ErrBackpressure
	}
	if len(q.items) >= q.cap {
		return domain.ErrBackpressure
	}

	q.seq++
	item := &pqItem{id: id, priority: priority, seq: q.seq}
	heap.Push(&q.items, item)
	q.byID[id] = item
	q.cond.Signal()
	return nil
}

// pop blocks until a task is available or the queue is closed. The second
// return is false once the queue is closed and drained.
func (q *taskQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return "", false
	}

	item := heap.Pop(&q.items).(*pqItem)
	delete(q.byID, item.id)
	return item.id, true
}

// remove takes a queued task out of the queue, used for immediate
// cancellation. Returns false if the id is not queued.
func (q *taskQueue) remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.items, item.index)
	delete(q.byID, id)
	return true
}

// depth reports how many tasks are waiting.
func (q *taskQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close wakes all waiting workers; queued items drain before pop reports
// closed.
func (q *taskQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// pqItems implements heap.Interface: max-heap on priority, min-heap on seq
// among equals.
type pqItems []*pqItem

func (p pqItems) Len() int { return len(p) }

func (p pqItems) Less(i, j int) bool {
	if p[i].priority != p[j].priority {
		return p[i].priority > p[j].priority
	}
	return p[i].seq < p[j].seq
}

func (p pqItems) Swap(i, j int) {
	p[i], p[j] = p[j], p[i]
	p[i].index = i
	p[j].index = j
}

func (p *pqItems) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*p)
	*p = append(*p, item)
}

func (p *pqItems) Pop() any {
	old := *p
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*p = old[:n-1]
	return item
}
