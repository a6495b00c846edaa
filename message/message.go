package message

import (
	"errors"
	"reflect"
)

// Common errors.
var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownKind = errors.New("unknown message type")
	ErrInvalid     = errors.New("invalid message shape")
)

// Kind is the discriminant carried in the "type" field.
type Kind string

const (
	// KindTask starts a generation task.
	KindTask Kind = "task"
	// KindStatus reports progress of a task.
	KindStatus Kind = "status"
	// KindResult is terminal for a task id.
	KindResult Kind = "result"
)

// Valid returns true if the kind is one of the known variants.
func (k Kind) Valid() bool {
	switch k {
	case KindTask, KindStatus, KindResult:
		return true
	default:
		return false
	}
}

// String returns the wire value of the kind.
func (k Kind) String() string {
	return string(k)
}

// Message is one of Task, Status or Result.
// The set is closed: only types in this package implement it.
type Message interface {
	// Kind returns the variant discriminant.
	Kind() Kind

	// ID returns the task id the message is correlated by.
	ID() string

	sealed()
}

// Task asks the display context to run a generation job.
type Task struct {
	TaskID         string `json:"taskId"`
	ImageData      string `json:"imageData"`
	PositivePrompt string `json:"positivePrompt"`
	NegativePrompt string `json:"negativePrompt"`
}

// Status reports progress for a task. Progress and Total are optional
// and need not be whole numbers.
type Status struct {
	TaskID   string   `json:"taskId"`
	Status   string   `json:"status"`
	Progress *float64 `json:"progress,omitempty"`
	Total    *float64 `json:"total,omitempty"`
}

// Result carries the final image location for a task.
type Result struct {
	TaskID   string `json:"taskId"`
	ImageURL string `json:"imageUrl"`
}

func (Task) Kind() Kind   { return KindTask }
func (Status) Kind() Kind { return KindStatus }
func (Result) Kind() Kind { return KindResult }

func (t Task) ID() string   { return t.TaskID }
func (s Status) ID() string { return s.TaskID }
func (r Result) ID() string { return r.TaskID }

func (Task) sealed()   {}
func (Status) sealed() {}
func (Result) sealed() {}

// NewStatus builds a Status with progress and total set.
func NewStatus(taskID, status string, progress, total int) Status {
	p, t := float64(progress), float64(total)
	return Status{
		TaskID:   taskID,
		Status:   status,
		Progress: &p,
		Total:    &t,
	}
}

// Ratio returns progress/total, or false when either is missing or total is zero.
func (s Status) Ratio() (float64, bool) {
	if s.Progress == nil || s.Total == nil || *s.Total == 0 {
		return 0, false
	}
	return *s.Progress / *s.Total, true
}

// normalize dereferences pointer variants so callers may pass either form.
func normalize(m Message) Message {
	switch v := m.(type) {
	case *Task:
		if v == nil {
			return nil
		}
		return *v
	case *Status:
		if v == nil {
			return nil
		}
		return *v
	case *Result:
		if v == nil {
			return nil
		}
		return *v
	default:
		return m
	}
}

// Equal reports whether two messages are structurally equal.
// Optional Status fields are compared by value.
func Equal(a, b Message) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}
