// Package queue tracks outstanding provider calls in arrival order so the
// UI can show what is running and roughly how long it will take.
package queue

import (
	"log"
	"sync"
	"time"
)

// Task categories.
const (
	CategorySystem  = "system"
	CategoryLogin   = "login"
	CategoryRefresh = "refresh"
)

// DefaultRunSeconds is the advisory per-task duration used for ETAs.
const DefaultRunSeconds = 12

// Task is one outstanding unit of provider work.
type Task struct {
	ID               int64     `json:"id"`
	Label            string    `json:"taskName"`
	QueuedAt         time.Time `json:"queuedAt"`
	Owner            *string   `json:"accountName"`
	Category         string    `json:"type"`
	EstimatedSeconds int       `json:"estimatedSeconds"`
}

// Item is a task with its current position and ETA.
type Item struct {
	Task
	Position   int `json:"position"`
	ETASeconds int `json:"etaSeconds"`
}

// Snapshot is the payload pushed to subscribers on every change.
type Snapshot struct {
	Items           []Item    `json:"items"`
	QueueRunSeconds int       `json:"queueRunSeconds"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Queue is a FIFO of tasks. Mutations are serialized; reads share a lock.
type Queue struct {
	mu         sync.RWMutex
	tasks      []Task
	nextID     int64
	runSeconds int
	now        func() time.Time

	listenersMu sync.RWMutex
	listeners   []func(Snapshot)

	// notifyMu orders mutations and their notifications together, so the
	// last snapshot a listener sees is the current queue.
	notifyMu sync.Mutex
}

// New creates an empty queue. runSeconds <= 0 uses DefaultRunSeconds.
func New(runSeconds int) *Queue {
	if runSeconds <= 0 {
		runSeconds = DefaultRunSeconds
	}
	return &Queue{
		runSeconds: runSeconds,
		nextID:     1,
		now:        time.Now,
	}
}

// OnChange registers a listener called with a fresh snapshot after every
// mutation, in mutation order. Listeners must not mutate the queue.
func (q *Queue) OnChange(fn func(Snapshot)) {
	q.listenersMu.Lock()
	q.listeners = append(q.listeners, fn)
	q.listenersMu.Unlock()
}

// Enqueue appends a task. An empty owner marks a system task and
// estimatedSeconds <= 0 uses the queue default.
func (q *Queue) Enqueue(label, owner, category string, estimatedSeconds int) Task {
	if estimatedSeconds <= 0 {
		estimatedSeconds = q.runSeconds
	}
	var ownerPtr *string
	if owner != "" {
		ownerPtr = &owner
	}

	var task Task
	q.mutate(func() bool {
		task = Task{
			ID:               q.nextID,
			Label:            label,
			QueuedAt:         q.now(),
			Owner:            ownerPtr,
			Category:         category,
			EstimatedSeconds: estimatedSeconds,
		}
		q.nextID++
		q.tasks = append(q.tasks, task)
		return true
	})
	return task
}

// UpdateLabel renames a task in place; its position is unchanged.
func (q *Queue) UpdateLabel(id int64, label string) bool {
	return q.mutate(func() bool {
		idx := q.indexLocked(id)
		if idx < 0 {
			return false
		}
		q.tasks[idx].Label = label
		return true
	})
}

// Complete removes a task; later tasks move up. Unknown ids are ignored.
func (q *Queue) Complete(id int64) bool {
	return q.mutate(func() bool {
		idx := q.indexLocked(id)
		if idx < 0 {
			return false
		}
		q.tasks = append(q.tasks[:idx], q.tasks[idx+1:]...)
		return true
	})
}

// Track enqueues a task, runs fn and always completes the task, even when
// fn returns an error or panics.
func (q *Queue) Track(label, owner, category string, fn func(Task) error) error {
	task := q.Enqueue(label, owner, category, 0)
	defer q.Complete(task.ID)
	return fn(task)
}

// Position returns the 1-based position of a task.
func (q *Queue) Position(id int64) (int, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	idx := q.indexLocked(id)
	if idx < 0 {
		return 0, false
	}
	return idx + 1, true
}

// ETA approximates the remaining wait for a task:
// estimatedSeconds x position - elapsed, never negative.
func (q *Queue) ETA(id int64) (time.Duration, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	idx := q.indexLocked(id)
	if idx < 0 {
		return 0, false
	}
	return time.Duration(q.etaSeconds(q.tasks[idx], idx+1, q.now())) * time.Second, true
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tasks)
}

// Snapshot returns a consistent copy of the queue.
func (q *Queue) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.snapshotLocked()
}

// Clear drops every task.
func (q *Queue) Clear() {
	q.mutate(func() bool {
		q.tasks = nil
		return true
	})
	log.Printf("[Queue] Cleared")
}

// mutate applies fn under the write lock and, when it reports a change,
// notifies listeners before the next mutation can start.
func (q *Queue) mutate(fn func() bool) bool {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	changed := fn()
	var snap Snapshot
	if changed {
		snap = q.snapshotLocked()
	}
	q.mu.Unlock()

	if changed {
		q.notify(snap)
	}
	return changed
}

func (q *Queue) indexLocked(id int64) int {
	for i := range q.tasks {
		if q.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) etaSeconds(t Task, position int, now time.Time) int {
	elapsed := int(now.Sub(t.QueuedAt) / time.Second)
	eta := t.EstimatedSeconds*position - elapsed
	if eta < 0 {
		return 0
	}
	return eta
}

func (q *Queue) snapshotLocked() Snapshot {
	now := q.now()
	items := make([]Item, len(q.tasks))
	for i, t := range q.tasks {
		items[i] = Item{Task: t, Position: i + 1, ETASeconds: q.etaSeconds(t, i+1, now)}
	}
	return Snapshot{Items: items, QueueRunSeconds: q.runSeconds, UpdatedAt: now}
}

func (q *Queue) notify(snap Snapshot) {
	q.listenersMu.RLock()
	listeners := q.listeners
	q.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}
