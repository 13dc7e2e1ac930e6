package orchestration

import (
	"container/heap"

	"github.com/cuemby/sirsicore/pkg/types"
)

// queueItem wraps a queued task with its heap index, so Remove can
// locate and excise a specific task (used when cancel() needs to pull
// a task out of the queue before processNext ever sees it).
type queueItem struct {
	task  *types.Task
	index int
}

// taskHeap orders queued tasks by (higher priority first, earlier
// createdAt first), the tiebreak required by spec §4.3. It implements
// container/heap.Interface — no third-party priority-queue library
// appears anywhere in the retrieved corpus, so this is the one
// standard-library data structure in the package.
type taskHeap []*queueItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].task.CreatedAt.Before(h[j].task.CreatedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// taskQueue is a priority queue of queued tasks keyed by task ID, so
// a task can be located and removed (on cancel) without scanning the
// heap.
type taskQueue struct {
	h     taskHeap
	items map[string]*queueItem
}

func newTaskQueue() *taskQueue {
	return &taskQueue{items: make(map[string]*queueItem)}
}

func (q *taskQueue) push(t *types.Task) {
	item := &queueItem{task: t}
	q.items[t.ID] = item
	heap.Push(&q.h, item)
}

// peekEligible returns the highest-priority task for which pred
// returns true, without removing it from the queue. The heap only
// orders its root efficiently; eligibility may skip over the root
// (a higher-priority task may have unsatisfied dependencies), so this
// scans every queued task and picks the best eligible one directly by
// (priority desc, createdAt asc).
func (q *taskQueue) peekEligible(pred func(*types.Task) bool) *types.Task {
	var best *types.Task
	for _, item := range q.items {
		t := item.task
		if !pred(t) {
			continue
		}
		if best == nil || t.Priority > best.Priority ||
			(t.Priority == best.Priority && t.CreatedAt.Before(best.CreatedAt)) {
			best = t
		}
	}
	return best
}

// remove excises a task from the queue by ID. Returns false if the
// task was not queued.
func (q *taskQueue) remove(taskID string) bool {
	item, ok := q.items[taskID]
	if !ok {
		return false
	}
	heap.Remove(&q.h, item.index)
	delete(q.items, taskID)
	return true
}

func (q *taskQueue) len() int { return len(q.items) }
