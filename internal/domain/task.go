package domain

import (
	"time"
)

// TaskType identifies what kind of work a submitted task requests.
type TaskType string

const (
	TaskDecision TaskType = "decision" // produce a Decision for a symbol
	TaskLearn    TaskType = "learn"    // record an executed-trade outcome
	TaskReport   TaskType = "report"   // summarize tracker/regime/suspension state
)

// ValidTaskType reports whether t is one of the accepted task types.
func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskDecision, TaskLearn, TaskReport:
		return true
	}
	return false
}

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether s is a terminal state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows moving from s to next.
// Allowed edges: queued→running, running→{completed,failed,cancelled},
// queued→cancelled. Terminal states have no outgoing edges.
func (s TaskState) CanTransition(next TaskState) bool {
	switch s {
	case TaskQueued:
		return next == TaskRunning || next == TaskCancelled
	case TaskRunning:
		return next == TaskCompleted || next == TaskFailed || next == TaskCancelled
	}
	return false
}

// Task is a unit of goal-directed work accepted by the orchestrator.
// It is created on submission and mutated only by the orchestrator; once a
// terminal state is reached it moves into the bounded history ring.
type Task struct {
	ID         string            `json:"id"`
	Type       TaskType          `json:"type"`
	Goal       string            `json:"goal"`
	Context    map[string]string `json:"context,omitempty"`
	Priority   int               `json:"priority"`
	State      TaskState         `json:"state"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Result     string            `json:"result,omitempty"`
}
