package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/flowshare/allocation_backend/allocation"
	"bitbucket.org/flowshare/allocation_backend/config"
	"bitbucket.org/flowshare/allocation_backend/models"
)

const moduleName = "workflow"

// staleProcessingAfter is how long a PROCESSING run may sit untouched before
// a redelivered trigger treats the previous worker as crashed and re-runs it.
const staleProcessingAfter = 5 * time.Minute

// Collaborator contracts. The orchestrator receives these at construction;
// connection lifecycle belongs to the host process.
type RunStore interface {
	GetById(ctx context.Context, tenantId, runId string) (*models.ReconciliationRun, error)
	CompareAndSetStatus(ctx context.Context, tenantId, runId string, from, to models.RunStatus) (bool, error)
	SetCompleted(ctx context.Context, tenantId, runId string, result *models.ReconciliationResult) error
	SetFailed(ctx context.Context, tenantId, runId, reason string) error
}

type ReadingStore interface {
	ListForPeriod(ctx context.Context, tenantId string, periodStart, periodEnd time.Time) ([]models.PartnerReading, error)
}

type TenantStore interface {
	GetSettings(ctx context.Context, tenantId string) (*models.TenantSettings, error)
}

type PartnerDirectory interface {
	GetDisplayNames(ctx context.Context, tenantId string, partnerIds []string) (map[string]string, error)
}

type CompletionPublisher interface {
	PublishReconciliationComplete(ctx context.Context, runId, tenantId, correlationId string) (string, error)
}

type AuditWriter interface {
	Append(ctx context.Context, entry *models.AuditLog)
}

// RunOutcome is the orchestrator's explicit result. A nil error alongside a
// failed status means the failure is terminal and the trigger must be acked;
// a non-nil error asks the messaging layer to redeliver.
type RunOutcome struct {
	RunId         string
	Status        models.RunStatus
	Failure       FailureKind
	Reason        string
	Skipped       bool
	PublishFailed bool
}

// Orchestrator drives one reconciliation run from trigger to terminal state.
// Safe for concurrent use; the run row's status CAS is the only coordination.
type Orchestrator struct {
	runs        RunStore
	readings    ReadingStore
	tenants     TenantStore
	partners    PartnerDirectory
	completions CompletionPublisher
	audit       AuditWriter
	logger      *logrus.Logger
}

func NewOrchestrator(
	runs RunStore,
	readings ReadingStore,
	tenants TenantStore,
	partners PartnerDirectory,
	completions CompletionPublisher,
	audit AuditWriter,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		runs:        runs,
		readings:    readings,
		tenants:     tenants,
		partners:    partners,
		completions: completions,
		audit:       audit,
		logger:      logger,
	}
}

// Run executes the state machine for one trigger. Duplicate and stale
// triggers exit without side effects; a PROCESSING run untouched for longer
// than staleProcessingAfter is assumed crashed and re-run in place.
func (o *Orchestrator) Run(ctx context.Context, tenantId, runId, correlationId string) (RunOutcome, error) {
	funcName := "Run"

	run, err := o.runs.GetById(ctx, tenantId, runId)
	if errors.Is(err, models.ErrRunNotFound) {
		o.logger.WithFields(logrus.Fields{
			"run_id":    runId,
			"tenant_id": tenantId,
		}).Warn("trigger for unknown run, skipping")
		return RunOutcome{RunId: runId, Skipped: true}, nil
	}
	if err != nil {
		config.LogError(o.logger, moduleName, funcName, "failed to load run", runId, err)
		return RunOutcome{RunId: runId, Failure: FailureTransientStore}, transient(err)
	}

	claimed, outcome, err := o.claim(ctx, run)
	if err != nil || !claimed {
		return outcome, err
	}

	result, execErr := o.execute(ctx, run)
	if execErr != nil {
		return o.fail(ctx, run, correlationId, execErr)
	}

	if err := o.runs.SetCompleted(ctx, tenantId, runId, result); err != nil {
		config.LogError(o.logger, moduleName, funcName, "failed to persist completed run", runId, err)
		return o.fail(ctx, run, correlationId, transient(err))
	}

	o.audit.Append(ctx, &models.AuditLog{
		TenantId:      tenantId,
		RunId:         runId,
		Action:        models.AuditActionReconciliationCompleted,
		Detail:        fmt.Sprintf("%d partners, %.6f bbl allocated", len(result.PartnerAllocations), result.TotalAllocatedVolume),
		CorrelationId: correlationId,
	})

	out := RunOutcome{RunId: runId, Status: models.RunStatusCompleted}
	if _, err := o.completions.PublishReconciliationComplete(ctx, runId, tenantId, correlationId); err != nil {
		// The computation already succeeded; never revert the status.
		config.LogError(o.logger, moduleName, funcName, "failed to publish completion event", runId, err)
		out.PublishFailed = true
	}

	o.logger.WithFields(logrus.Fields{
		"run_id":          runId,
		"tenant_id":       tenantId,
		"partner_count":   len(result.PartnerAllocations),
		"total_allocated": result.TotalAllocatedVolume,
	}).Info("reconciliation run completed")
	return out, nil
}

// claim decides whether this worker owns the run. Returns claimed=false with
// the fast-exit outcome when another worker already owns or finished it.
func (o *Orchestrator) claim(ctx context.Context, run *models.ReconciliationRun) (bool, RunOutcome, error) {
	funcName := "claim"
	skip := RunOutcome{RunId: run.ID, Status: run.Status, Skipped: true}

	switch run.Status {
	case models.RunStatusPending:
		won, err := o.runs.CompareAndSetStatus(ctx, run.TenantId, run.ID, models.RunStatusPending, models.RunStatusProcessing)
		if err != nil {
			config.LogError(o.logger, moduleName, funcName, "failed to claim run", run.ID, err)
			return false, RunOutcome{RunId: run.ID, Failure: FailureTransientStore}, transient(err)
		}
		if won {
			return true, RunOutcome{}, nil
		}
		// Lost the race: re-read to decide between done and in-flight.
		current, err := o.runs.GetById(ctx, run.TenantId, run.ID)
		if err != nil {
			config.LogError(o.logger, moduleName, funcName, "failed to re-read contested run", run.ID, err)
			return false, RunOutcome{RunId: run.ID, Failure: FailureTransientStore}, transient(err)
		}
		if current.Status == models.RunStatusProcessing && time.Since(current.UpdatedAt) >= staleProcessingAfter {
			return true, RunOutcome{}, nil
		}
		skip.Status = current.Status
		return false, skip, nil

	case models.RunStatusProcessing:
		if time.Since(run.UpdatedAt) < staleProcessingAfter {
			return false, skip, nil
		}
		// Crash recovery: the steps are idempotent, re-run in place.
		o.logger.WithFields(logrus.Fields{
			"run_id":     run.ID,
			"updated_at": run.UpdatedAt,
		}).Warn("re-claiming stale processing run")
		return true, RunOutcome{}, nil

	default:
		return false, skip, nil
	}
}

// execute runs steps 3-7: tenant settings, readings, approval gate,
// aggregation and allocation. Pure apart from collaborator reads.
func (o *Orchestrator) execute(ctx context.Context, run *models.ReconciliationRun) (*models.ReconciliationResult, error) {
	funcName := "execute"

	settings, err := o.tenants.GetSettings(ctx, run.TenantId)
	if err != nil {
		return nil, transient(err)
	}
	if settings == nil {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, run.TenantId)
	}
	if settings.AllocationModel != models.AllocationModelApiMpms111 {
		return nil, fmt.Errorf("%w: unsupported allocation model %q", allocation.ErrInvalidInput, settings.AllocationModel)
	}

	readings, err := o.readings.ListForPeriod(ctx, run.TenantId, run.PeriodStart, run.PeriodEnd)
	if err != nil {
		return nil, transient(err)
	}

	gate := EvaluateApprovalGate(readings)
	if !gate.Eligible {
		if gate.TotalCount == 0 {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("%s: %w", gate.Reason, ErrInsufficientApproval)
	}

	names, err := o.partners.GetDisplayNames(ctx, run.TenantId, approvedPartnerIds(readings))
	if err != nil {
		// Name resolution is cosmetic; fall back to truncated ids.
		config.LogError(o.logger, moduleName, funcName, "failed to resolve partner names", run.ID, err)
		names = map[string]string{}
	}

	aggregates, err := AggregateProduction(readings, names)
	if err != nil {
		return nil, err
	}

	engine := allocation.NewEngine(settings.StandardTemperature, settings.StandardPressure)
	data := make([]allocation.ProductionData, 0, len(aggregates))
	for _, agg := range aggregates {
		data = append(data, allocation.ProductionData{
			PartnerId:   agg.PartnerId,
			PartnerName: agg.DisplayName,
			GrossVolume: agg.GrossVolume.InexactFloat64(),
			BswPercent:  agg.BswPercent,
			Temperature: agg.Temperature,
			ApiGravity:  agg.ApiGravity,
			Pressure:    settings.StandardPressure,
			MeterFactor: 1.0,
		})
	}

	results, err := engine.Allocate(data, run.TerminalVolume.InexactFloat64())
	if err != nil {
		return nil, err
	}

	return buildResult(settings, gate, results), nil
}

func approvedPartnerIds(readings []models.PartnerReading) []string {
	seen := map[string]bool{}
	var ids []string
	for _, r := range readings {
		if r.Status == models.ReviewStatusApproved && !seen[r.PartnerId] {
			seen[r.PartnerId] = true
			ids = append(ids, r.PartnerId)
		}
	}
	return ids
}

func buildResult(settings *models.TenantSettings, gate GateDecision, results []allocation.Result) *models.ReconciliationResult {
	var totalGross, totalNSV, totalAllocated float64
	partnerAllocations := make([]models.PartnerAllocation, 0, len(results))

	for _, r := range results {
		totalGross += r.GrossVolume
		totalNSV += r.NetVolumeStandard
		totalAllocated += r.AllocatedVolume
		partnerAllocations = append(partnerAllocations, models.PartnerAllocation{
			PartnerId:                   r.PartnerId,
			PartnerName:                 r.PartnerName,
			GrossVolume:                 r.GrossVolume,
			BswPercent:                  r.BswPercent,
			WaterCutFactor:              r.WaterCutFactor,
			NetVolumeObserved:           r.NetVolumeObserved,
			TemperatureCorrectionFactor: r.TemperatureCorrectionFactor,
			ApiCorrectionFactor:         r.ApiCorrectionFactor,
			NetVolumeStandard:           r.NetVolumeStandard,
			OwnershipPercent:            r.OwnershipPercent,
			AllocatedVolume:             r.AllocatedVolume,
			IntermediateCalculations:    r.IntermediateCalculations,
		})
	}

	shrinkage := totalGross - totalAllocated
	shrinkagePercent := 0.0
	if totalGross > 0 {
		shrinkagePercent = shrinkage / totalGross * 100.0
	}

	return &models.ReconciliationResult{
		TotalGrossVolume:        totalGross,
		TotalNetVolumeStandard:  totalNSV,
		TotalAllocatedVolume:    totalAllocated,
		ShrinkageVolume:         shrinkage,
		ShrinkagePercent:        shrinkagePercent,
		PartnerAllocations:      partnerAllocations,
		AllocationModelUsed:     settings.AllocationModel,
		ApprovedReadingCount:    gate.ApprovedCount,
		ContributingPartnerSize: len(partnerAllocations),
	}
}

// fail persists the FAILED status best-effort and maps the failure kind to
// ack/nack: data-quality failures ack (nil error), the rest nack.
func (o *Orchestrator) fail(ctx context.Context, run *models.ReconciliationRun, correlationId string, execErr error) (RunOutcome, error) {
	funcName := "fail"
	kind := classifyFailure(execErr)
	reason := execErr.Error()

	if err := o.runs.SetFailed(ctx, run.TenantId, run.ID, reason); err != nil {
		config.LogError(o.logger, moduleName, funcName, "failed to persist failed run", run.ID, err)
	}
	o.audit.Append(ctx, &models.AuditLog{
		TenantId:      run.TenantId,
		RunId:         run.ID,
		Action:        models.AuditActionReconciliationFailed,
		Detail:        reason,
		CorrelationId: correlationId,
	})
	o.logger.WithFields(logrus.Fields{
		"run_id":    run.ID,
		"tenant_id": run.TenantId,
		"kind":      string(kind),
		"reason":    reason,
	}).Warn("reconciliation run failed")

	outcome := RunOutcome{
		RunId:   run.ID,
		Status:  models.RunStatusFailed,
		Failure: kind,
		Reason:  reason,
	}
	if kind.IsRetryable() {
		return outcome, execErr
	}
	return outcome, nil
}
