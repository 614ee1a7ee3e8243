package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/cryogenian/quasar-mongo/core/instr"
)

// DefaultBatchSize is the number of documents requested per cursor fetch
// when no batch size is configured.
const DefaultBatchSize = 64

// EvaluatorOptions configure an Evaluator.
type EvaluatorOptions struct {
	// BatchSize bounds each cursor fetch. Non-positive values fall back to
	// DefaultBatchSize.
	BatchSize int
	// Capability gates what the compiler may emit.
	Capability instr.Capability
	// TransientRetries is how many times a rejected pipeline is retried
	// as-is before the evaluation degrades to the fallback scan. Zero
	// means any first-attempt failure triggers the fallback immediately.
	TransientRetries int
}

// Result is the outcome of one evaluation: the document stream plus the
// residual instruction sequence the caller must still interpret.
type Result struct {
	Residual instr.Residual
	// Wrapped reports whether each streamed document carries its row value
	// under the reserved "value" field (see DecodeValue).
	Wrapped bool
	Stream  *DocumentStream
}

// Evaluator executes instruction sequences against collections. It holds no
// per-call state; concurrent evaluations are independent, each owning its
// own cursor.
type Evaluator struct {
	opts   EvaluatorOptions
	logger *zap.Logger
	bus    *EvaluationBus
}

// NewEvaluator creates an Evaluator. A nil logger is replaced with a no-op
// logger; a nil bus disables event emission.
func NewEvaluator(opts EvaluatorOptions, logger *zap.Logger, bus *EvaluationBus) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Evaluator{opts: opts, logger: logger, bus: bus}
}

// Evaluate compiles the sequence, runs the resulting pipeline against the
// collection and returns the document stream together with the residual.
//
// A run-time rejection of the pipeline is not propagated: the evaluation
// falls back, exactly once, to an unfiltered scan and reports the entire
// original sequence (policy included) as residual. A failure of the
// fallback itself surfaces as ErrCollectionUnreachable.
func (e *Evaluator) Evaluate(ctx context.Context, coll Collection, policy instr.IdPolicy, instructions []instr.Instruction) (*Result, error) {
	id := uuid.NewString()
	e.emit(EvaluationEvent{Type: EvaluationStarted, EvaluationID: id, Collection: coll.Name(), Timestamp: time.Now()})

	plan := Compile(policy, instructions, e.opts.Capability)
	e.logger.Debug("compiled pushdown plan",
		zap.String("evaluation", id),
		zap.String("collection", coll.Name()),
		zap.Int("stages", len(plan.Pipeline)),
		zap.Int("residual", len(plan.Residual.Instructions)),
		zap.Bool("policyPushed", plan.Residual.PolicyPushed))

	cursor, err := e.aggregate(ctx, coll, plan.Pipeline)
	if err == nil {
		e.emit(EvaluationEvent{
			Type:         PushdownApplied,
			EvaluationID: id,
			Collection:   coll.Name(),
			Stages:       len(plan.Pipeline),
			ResidualSize: len(plan.Residual.Instructions),
			Timestamp:    time.Now(),
		})
		e.emit(EvaluationEvent{
			Type:         EvaluationCompleted,
			EvaluationID: id,
			Collection:   coll.Name(),
			Stages:       len(plan.Pipeline),
			ResidualSize: len(plan.Residual.Instructions),
			Timestamp:    time.Now(),
		})
		return &Result{
			Residual: plan.Residual,
			Wrapped:  plan.Wrapped,
			Stream:   newDocumentStream(cursor, e.logger),
		}, nil
	}

	// No cursor was opened on the failed attempt, so there is nothing to
	// release before the fallback scan.
	e.logger.Warn("native pipeline rejected, falling back to unfiltered scan",
		zap.String("evaluation", id),
		zap.String("collection", coll.Name()),
		zap.Error(err))
	e.emit(EvaluationEvent{
		Type:         FallbackTriggered,
		EvaluationID: id,
		Collection:   coll.Name(),
		Error:        err.Error(),
		Timestamp:    time.Now(),
	})

	scan, scanErr := coll.Scan(ctx, int32(e.opts.BatchSize))
	if scanErr != nil {
		e.emit(EvaluationEvent{
			Type:         EvaluationFailed,
			EvaluationID: id,
			Collection:   coll.Name(),
			Error:        scanErr.Error(),
			Timestamp:    time.Now(),
		})
		return nil, fmt.Errorf("%w: fallback scan of %q failed: %v", ErrCollectionUnreachable, coll.Name(), scanErr)
	}

	// Nothing was applied server-side: the caller interprets the full
	// original sequence over the raw rows.
	e.emit(EvaluationEvent{
		Type:         EvaluationCompleted,
		EvaluationID: id,
		Collection:   coll.Name(),
		ResidualSize: len(instructions),
		Timestamp:    time.Now(),
	})
	return &Result{
		Residual: instr.Residual{Policy: policy, Instructions: instructions},
		Stream:   newDocumentStream(scan, e.logger),
	}, nil
}

// aggregate runs the pipeline, retrying the same pipeline the configured
// number of times before giving up.
func (e *Evaluator) aggregate(ctx context.Context, coll Collection, pipeline []bson.D) (Cursor, error) {
	var lastErr error
	for attempt := 0; attempt <= e.opts.TransientRetries; attempt++ {
		cursor, err := coll.Aggregate(ctx, pipeline, int32(e.opts.BatchSize))
		if err == nil {
			return cursor, nil
		}
		lastErr = err
		if attempt < e.opts.TransientRetries {
			e.logger.Warn("retrying native pipeline",
				zap.String("collection", coll.Name()),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}
	return nil, lastErr
}

func (e *Evaluator) emit(event EvaluationEvent) {
	if e.bus != nil {
		e.bus.Emit(string(event.Type), event)
	}
}
