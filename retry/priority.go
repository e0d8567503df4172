package retry

import "fmt"

type priorityKind int

const (
	priorityOther priorityKind = iota
	priorityHTTPStatusCode
	priorityModeledAsRetryable
	priorityTransientError
)

// Priority orders classifiers. A lower value is a higher priority; when two
// classifiers disagree, the one with the higher priority wins. Classifiers
// with equal priority run in an unspecified order.
type Priority struct {
	kind  priorityKind
	value int
}

// DefaultPriority is the priority of classifiers that do not choose one.
func DefaultPriority() Priority { return Priority{kind: priorityOther, value: 0} }

// HTTPStatusCodePriority is the priority of HTTPStatusCodeClassifier.
func HTTPStatusCodePriority() Priority { return Priority{kind: priorityHTTPStatusCode, value: 0} }

// ModeledAsRetryablePriority is the priority of ModeledAsRetryableClassifier.
func ModeledAsRetryablePriority() Priority {
	return Priority{kind: priorityModeledAsRetryable, value: 10}
}

// TransientErrorPriority is the priority of TransientErrorClassifier.
func TransientErrorPriority() Priority { return Priority{kind: priorityTransientError, value: 20} }

// WithLowerPriorityThan returns a priority just below other.
func WithLowerPriorityThan(other Priority) Priority {
	return Priority{kind: priorityOther, value: other.value + 1}
}

// WithHigherPriorityThan returns a priority just above other.
func WithHigherPriorityThan(other Priority) Priority {
	return Priority{kind: priorityOther, value: other.value - 1}
}

// Compare returns -1 if p has a higher priority than other, +1 if lower and
// 0 if they are equal.
func (p Priority) Compare(other Priority) int {
	switch {
	case p.value < other.value:
		return -1
	case p.value > other.value:
		return 1
	default:
		return 0
	}
}

// HigherThan reports whether p has a higher priority than other.
func (p Priority) HigherThan(other Priority) bool { return p.Compare(other) < 0 }

// Value returns the numeric priority.
func (p Priority) Value() int { return p.value }

func (p Priority) String() string {
	switch p.kind {
	case priorityHTTPStatusCode:
		return "HttpStatusCode"
	case priorityModeledAsRetryable:
		return "ModeledAsRetryable"
	case priorityTransientError:
		return "TransientError"
	default:
		return fmt.Sprintf("Other(%d)", p.value)
	}
}
