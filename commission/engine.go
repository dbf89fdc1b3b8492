/*
engine.go - Operations exposed to the CRUD layer

PURPOSE:
  The single entry point the surrounding application calls at well-defined
  points, instead of framework hooks firing on field changes:

    OnInstallmentSaved    after every create/update of an installment amount
    OnInstallmentMoved    after an installment changed policy
    OnInstallmentDeleted  after every delete
    OnPolicyReassigned    after a policy's insurer/type changed
    OnRateEntryChanged    after a rate entry was created/edited (fan-out)
    PreviewRate           read-only lookup for live preview
    RunRepair             operator maintenance command

USAGE:
  eng := commission.NewEngine(store, commission.Options{Logger: log})
  queue := commission.NewQueue(eng.HandleFanOut, 4, 256, log, m)
  queue.Start(ctx)
  eng.UseDispatcher(queue)

  // after saving an installment row:
  out, err := eng.OnInstallmentSaved(ctx, inst.ID)
*/
package commission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/premium-engine/internal/metrics"
)

// Options configures an Engine. Zero value is usable.
type Options struct {
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	BatchSize int
}

// Engine wires the registry, calculator, aggregator, propagator and repairer.
type Engine struct {
	store      TxStore
	registry   Registry
	propagator *Propagator
	repairer   *Repairer
	dispatcher Dispatcher
	logger     *zap.Logger
}

func NewEngine(store TxStore, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prop := NewPropagator(store, logger.Named("propagator"), opts.Metrics)
	e := &Engine{
		store:      store,
		propagator: prop,
		repairer:   &Repairer{Propagator: prop, BatchSize: opts.BatchSize},
		logger:     logger,
	}
	e.dispatcher = Inline{Handler: e.HandleFanOut}
	return e
}

// UseDispatcher replaces the default inline dispatcher. Call before serving.
func (e *Engine) UseDispatcher(d Dispatcher) {
	e.dispatcher = d
}

// =============================================================================
// TRIGGERS
// =============================================================================

func (e *Engine) OnInstallmentSaved(ctx context.Context, id InstallmentID) (Outcome, error) {
	return e.propagator.InstallmentSaved(ctx, id)
}

func (e *Engine) OnInstallmentMoved(ctx context.Context, id InstallmentID, from PolicyID) (Outcome, error) {
	return e.propagator.InstallmentMoved(ctx, id, from)
}

// OnInstallmentDeleted takes the deleted row as it was, for its policy id.
func (e *Engine) OnInstallmentDeleted(ctx context.Context, inst Installment) (Outcome, error) {
	return e.propagator.InstallmentDeleted(ctx, inst)
}

func (e *Engine) OnPolicyReassigned(ctx context.Context, id PolicyID, oldInsurer InsurerID, oldType InsuranceTypeID) (Outcome, error) {
	return e.propagator.PolicyReassigned(ctx, id, Pair{Insurer: oldInsurer, Type: oldType})
}

// OnRateEntryChanged schedules re-evaluation of every installment under the
// rate's pair. With a Queue dispatcher it returns before the work is done.
func (e *Engine) OnRateEntryChanged(ctx context.Context, rate RateEntry) error {
	e.propagator.Metrics.IncTrigger("rate_changed")
	return e.dispatcher.Dispatch(ctx, FanOutJob{Rate: rate, EnqueuedAt: time.Now()})
}

// HandleFanOut is the JobHandler for rate-change jobs.
func (e *Engine) HandleFanOut(ctx context.Context, job FanOutJob) error {
	_, err := e.run(ctx, ScopePair(job.Rate.InsurerID, job.Rate.InsuranceTypeID), TriggerRateChange)
	return err
}

// =============================================================================
// READS + MAINTENANCE
// =============================================================================

// PreviewRate returns the percent that would apply, or nil if none.
func (e *Engine) PreviewRate(ctx context.Context, insurer InsurerID, typ InsuranceTypeID) (*decimal.Decimal, error) {
	return e.registry.Preview(ctx, e.store, insurer, typ)
}

// RunRepair runs an operator-requested repair pass.
func (e *Engine) RunRepair(ctx context.Context, scope Scope) (Report, error) {
	return e.run(ctx, scope, TriggerOperator)
}

// RunScheduledRepair runs the periodic full sweep.
func (e *Engine) RunScheduledRepair(ctx context.Context) (Report, error) {
	return e.run(ctx, ScopeAll(), TriggerSchedule)
}

// RepairRuns lists recorded runs, newest first. status "" lists all.
func (e *Engine) RepairRuns(ctx context.Context, status RunStatus) ([]RepairRun, error) {
	runs, ok := e.store.(RunStore)
	if !ok {
		return nil, ErrStoreRequired
	}
	return runs.ListRepairRuns(ctx, status)
}

// run executes a repair pass and records it when the store keeps history.
func (e *Engine) run(ctx context.Context, scope Scope, trigger RunTrigger) (Report, error) {
	runs, recording := e.store.(RunStore)
	run := RepairRun{
		ID:        uuid.NewString(),
		Scope:     scope.String(),
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
	log := e.logger.With(zap.String("run_id", run.ID), zap.String("trigger", string(trigger)))
	if recording {
		if err := runs.SaveRepairRun(ctx, run); err != nil {
			log.Warn("failed to record repair run", zap.Error(err))
		}
	}

	report, err := e.repairer.Run(ctx, scope)

	if recording {
		done := time.Now().UTC()
		run.Report = report
		run.CompletedAt = &done
		switch {
		case err == nil:
			run.Status = RunCompleted
		case report.Interrupted:
			run.Status = RunInterrupted
			run.Error = err.Error()
		default:
			run.Status = RunFailed
			run.Error = err.Error()
		}
		// the pass context may be cancelled; the record must still land
		saveCtx := context.WithoutCancel(ctx)
		if serr := runs.SaveRepairRun(saveCtx, run); serr != nil {
			log.Warn("failed to record repair run", zap.Error(serr))
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("repair failed", zap.String("scope", run.Scope), zap.Error(err))
	}
	return report, err
}
