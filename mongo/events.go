package mongo

import (
	"time"

	"github.com/asaidimu/go-events"
)

// EvaluationEventType identifies a point in an evaluation's lifecycle.
type EvaluationEventType string

const (
	// EvaluationStarted fires when an evaluation call begins.
	EvaluationStarted EvaluationEventType = "evaluate:start"
	// PushdownApplied fires when the compiled pipeline was accepted by the
	// server and a cursor is open.
	PushdownApplied EvaluationEventType = "evaluate:pushdown"
	// FallbackTriggered fires when the pipeline was rejected at run time
	// and the evaluation degraded to an unfiltered scan.
	FallbackTriggered EvaluationEventType = "evaluate:fallback"
	// EvaluationCompleted fires when the evaluation call returns a
	// result, whether pushed down or via the fallback scan.
	EvaluationCompleted EvaluationEventType = "evaluate:complete"
	// EvaluationFailed fires when the fallback scan also failed.
	EvaluationFailed EvaluationEventType = "evaluate:failed"
)

// EvaluationEvent is emitted on the optional event bus around each
// evaluation call.
type EvaluationEvent struct {
	Type         EvaluationEventType
	EvaluationID string
	Collection   string
	// Stages is the number of pipeline stages executed natively.
	Stages int
	// ResidualSize is the number of instructions left for the client.
	ResidualSize int
	Error        string
	Timestamp    time.Time
}

// EvaluationBus carries evaluation lifecycle events.
type EvaluationBus = events.TypedEventBus[EvaluationEvent]

// NewEvaluationBus creates an event bus for evaluation observability.
func NewEvaluationBus() (*EvaluationBus, error) {
	return events.NewTypedEventBus[EvaluationEvent](events.DefaultConfig())
}
