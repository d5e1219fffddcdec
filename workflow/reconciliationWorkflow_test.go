package workflow

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bitbucket.org/flowshare/allocation_backend/models"
)

type fakeRunStore struct {
	runs           map[string]*models.ReconciliationRun
	getErr         error
	casErr         error
	completedErr   error
	completedCalls int
	failedCalls    int
}

func newFakeRunStore(runs ...*models.ReconciliationRun) *fakeRunStore {
	s := &fakeRunStore{runs: map[string]*models.ReconciliationRun{}}
	for _, r := range runs {
		s.runs[r.ID] = r
	}
	return s
}

func (s *fakeRunStore) GetById(_ context.Context, tenantId, runId string) (*models.ReconciliationRun, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	run, ok := s.runs[runId]
	if !ok || run.TenantId != tenantId {
		return nil, models.ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (s *fakeRunStore) CompareAndSetStatus(_ context.Context, _, runId string, from, to models.RunStatus) (bool, error) {
	if s.casErr != nil {
		return false, s.casErr
	}
	run, ok := s.runs[runId]
	if !ok || run.Status != from {
		return false, nil
	}
	run.Status = to
	run.UpdatedAt = time.Now()
	return true, nil
}

func (s *fakeRunStore) SetCompleted(_ context.Context, _, runId string, result *models.ReconciliationResult) error {
	if s.completedErr != nil {
		return s.completedErr
	}
	s.completedCalls++
	run := s.runs[runId]
	payload, err := models.EncodeResult(result)
	if err != nil {
		return err
	}
	run.Status = models.RunStatusCompleted
	run.Result = payload
	now := time.Now()
	run.CompletedAt = &now
	run.UpdatedAt = now
	return nil
}

func (s *fakeRunStore) SetFailed(_ context.Context, _, runId, reason string) error {
	s.failedCalls++
	run := s.runs[runId]
	run.Status = models.RunStatusFailed
	run.ErrorMessage = &reason
	run.UpdatedAt = time.Now()
	return nil
}

type fakeReadingStore struct {
	readings []models.PartnerReading
	err      error
}

func (s *fakeReadingStore) ListForPeriod(_ context.Context, _ string, _, _ time.Time) ([]models.PartnerReading, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.readings, nil
}

type fakeTenantStore struct {
	settings *models.TenantSettings
	err      error
}

func (s *fakeTenantStore) GetSettings(_ context.Context, _ string) (*models.TenantSettings, error) {
	return s.settings, s.err
}

type fakePartnerDirectory struct {
	names map[string]string
	err   error
}

func (d *fakePartnerDirectory) GetDisplayNames(_ context.Context, _ string, _ []string) (map[string]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.names, nil
}

type fakePublisher struct {
	published int
	err       error
}

func (p *fakePublisher) PublishReconciliationComplete(_ context.Context, _, _, _ string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.published++
	return "msg-1", nil
}

type fakeAudit struct {
	entries []models.AuditLog
}

func (a *fakeAudit) Append(_ context.Context, entry *models.AuditLog) {
	a.entries = append(a.entries, *entry)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func defaultSettings() *models.TenantSettings {
	return &models.TenantSettings{
		AllocationModel:     models.AllocationModelApiMpms111,
		StandardTemperature: 60,
		StandardPressure:    14.696,
	}
}

func pendingRun(runId, tenantId string, terminal float64) *models.ReconciliationRun {
	return &models.ReconciliationRun{
		ID:             runId,
		TenantId:       tenantId,
		PeriodStart:    time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		TerminalVolume: decimal.NewFromFloat(terminal),
		Status:         models.RunStatusPending,
		UpdatedAt:      time.Now(),
	}
}

func newTestOrchestrator(runs *fakeRunStore, readings *fakeReadingStore, tenants *fakeTenantStore, pub *fakePublisher) (*Orchestrator, *fakeAudit) {
	audit := &fakeAudit{}
	o := NewOrchestrator(
		runs,
		readings,
		tenants,
		&fakePartnerDirectory{names: map[string]string{"p1": "Alpha", "p2": "Beta"}},
		pub,
		audit,
		testLogger(),
	)
	return o, audit
}

func TestRunHappyPathSinglePartner(t *testing.T) {
	runs := newFakeRunStore(pendingRun("run-1", "t1", 1000))
	readings := &fakeReadingStore{readings: []models.PartnerReading{
		reading("p1", 1000, 0, 60, 35, models.ReviewStatusApproved),
	}}
	pub := &fakePublisher{}
	o, audit := newTestOrchestrator(runs, readings, &fakeTenantStore{settings: defaultSettings()}, pub)

	outcome, err := o.Run(context.Background(), "t1", "run-1", "corr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != models.RunStatusCompleted || outcome.PublishFailed {
		t.Fatalf("outcome: %+v", outcome)
	}
	if pub.published != 1 {
		t.Errorf("published: got %d, want 1", pub.published)
	}

	stored := runs.runs["run-1"]
	result, decodeErr := stored.DecodeResult()
	if decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	pa := result.PartnerAllocations[0]
	if pa.OwnershipPercent != 100 {
		t.Errorf("ownership: got %v", pa.OwnershipPercent)
	}
	if pa.AllocatedVolume < 999.999999 || pa.AllocatedVolume > 1000.000001 {
		t.Errorf("allocated: got %v", pa.AllocatedVolume)
	}
	if result.ShrinkageVolume < -1e-6 || result.ShrinkageVolume > 1e-6 {
		t.Errorf("shrinkage: got %v", result.ShrinkageVolume)
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != models.AuditActionReconciliationCompleted {
		t.Errorf("audit: %+v", audit.entries)
	}
}

func TestRunTwoPartnerSplit(t *testing.T) {
	runs := newFakeRunStore(pendingRun("run-1", "t1", 3600))
	readings := &fakeReadingStore{readings: []models.PartnerReading{
		reading("p1", 1000, 2, 75, 34, models.ReviewStatusApproved),
		reading("p2", 3000, 2, 75, 34, models.ReviewStatusApproved),
	}}
	o, _ := newTestOrchestrator(runs, readings, &fakeTenantStore{settings: defaultSettings()}, &fakePublisher{})

	if _, err := o.Run(context.Background(), "t1", "run-1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, _ := runs.runs["run-1"].DecodeResult()
	if len(result.PartnerAllocations) != 2 {
		t.Fatalf("partner count: %d", len(result.PartnerAllocations))
	}
	p1, p2 := result.PartnerAllocations[0], result.PartnerAllocations[1]
	if p1.PartnerId != "p1" || p2.PartnerId != "p2" {
		t.Fatalf("order: %s, %s", p1.PartnerId, p2.PartnerId)
	}
	if d := p1.OwnershipPercent - 25; d < -1e-6 || d > 1e-6 {
		t.Errorf("p1 ownership: got %v", p1.OwnershipPercent)
	}
	if d := p1.AllocatedVolume - 900; d < -1e-6 || d > 1e-6 {
		t.Errorf("p1 allocated: got %v", p1.AllocatedVolume)
	}
	if d := p2.AllocatedVolume - 2700; d < -1e-6 || d > 1e-6 {
		t.Errorf("p2 allocated: got %v", p2.AllocatedVolume)
	}
}

func TestRunIdempotentOnRedelivery(t *testing.T) {
	runs := newFakeRunStore(pendingRun("run-1", "t1", 1000))
	readings := &fakeReadingStore{readings: []models.PartnerReading{
		reading("p1", 1000, 0, 60, 35, models.ReviewStatusApproved),
	}}
	pub := &fakePublisher{}
	o, _ := newTestOrchestrator(runs, readings, &fakeTenantStore{settings: defaultSettings()}, pub)

	if _, err := o.Run(context.Background(), "t1", "run-1", ""); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstResult := append([]byte(nil), runs.runs["run-1"].Result...)

	outcome, err := o.Run(context.Background(), "t1", "run-1", "")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !outcome.Skipped || outcome.Status != models.RunStatusCompleted {
		t.Errorf("redelivery should fast-exit: %+v", outcome)
	}
	if runs.completedCalls != 1 {
		t.Errorf("completed writes: got %d, want 1", runs.completedCalls)
	}
	if pub.published != 1 {
		t.Errorf("published: got %d, want 1", pub.published)
	}
	if !bytes.Equal(firstResult, runs.runs["run-1"].Result) {
		t.Error("stored result changed on redelivery")
	}
}

func TestRunStaleProcessingRecomputesSameResult(t *testing.T) {
	runs := newFakeRunStore(pendingRun("run-1", "t1", 1000))
	readings := &fakeReadingStore{readings: []models.PartnerReading{
		reading("p1", 1000, 1.5, 72, 31.2, models.ReviewStatusApproved),
	}}
	o, _ := newTestOrchestrator(runs, readings, &fakeTenantStore{settings: defaultSettings()}, &fakePublisher{})

	if _, err := o.Run(context.Background(), "t1", "run-1", ""); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstResult := append([]byte(nil), runs.runs["run-1"].Result...)

	// Simulate a worker that crashed mid-run long ago.
	runs.runs["run-1"].Status = models.RunStatusProcessing
	runs.runs["run-1"].UpdatedAt = time.Now().Add(-10 * time.Minute)

	outcome, err := o.Run(context.Background(), "t1", "run-1", "")
	if err != nil {
		t.Fatalf("recovery run: %v", err)
	}
	if outcome.Status != models.RunStatusCompleted || outcome.Skipped {
		t.Fatalf("outcome: %+v", outcome)
	}
	if !bytes.Equal(firstResult, runs.runs["run-1"].Result) {
		t.Error("recomputed result differs from original")
	}
}

func TestRunFreshProcessingFastExits(t *testing.T) {
	run := pendingRun("run-1", "t1", 1000)
	run.Status = models.RunStatusProcessing
	run.UpdatedAt = time.Now()
	runs := newFakeRunStore(run)
	o, _ := newTestOrchestrator(runs, &fakeReadingStore{}, &fakeTenantStore{settings: defaultSettings()}, &fakePublisher{})

	outcome, err := o.Run(context.Background(), "t1", "run-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Skipped {
		t.Errorf("in-flight run should fast-exit: %+v", outcome)
	}
}

func TestRunUnknownRunSkipsSilently(t *testing.T) {
	runs := newFakeRunStore()
	o, _ := newTestOrchestrator(runs, &fakeReadingStore{}, &fakeTenantStore{settings: defaultSettings()}, &fakePublisher{})

	outcome, err := o.Run(context.Background(), "t1", "missing", "")
	if err != nil {
		t.Fatalf("stale trigger must not error: %v", err)
	}
	if !outcome.Skipped {
		t.Errorf("outcome: %+v", outcome)
	}
}

func TestRunNoReadingsFails(t *testing.T) {
	runs := newFakeRunStore(pendingRun("run-1", "t1", 1000))
	o, audit := newTestOrchestrator(runs, &fakeReadingStore{}, &fakeTenantStore{settings: defaultSettings()}, &fakePublisher{})

	outcome, err := o.Run(context.Background(), "t1", "run-1", "")
	if err != nil {
		t.Fatalf("data-quality failure must ack: %v", err)
	}
	if outcome.Status != models.RunStatusFailed || outcome.Failure != FailureNoData {
		t.Fatalf("outcome: %+v", outcome)
	}
	if !strings.Contains(outcome.Reason, "no readings") {
		t.Errorf("reason: %q", outcome.Reason)
	}
	if runs.runs["run-1"].Status != models.RunStatusFailed {
		t.Errorf("stored status: %s", runs.runs["run-1"].Status)
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != models.AuditActionReconciliationFailed {
		t.Errorf("audit: %+v", audit.entries)
	}
}

func TestRunInsufficientApprovalFails(t *testing.T) {
	var periodReadings []models.PartnerReading
	for i := 0; i < 85; i++ {
		periodReadings = append(periodReadings, reading("p1", 100, 0, 60, 35, models.ReviewStatusApproved))
	}
	for i := 0; i < 15; i++ {
		periodReadings = append(periodReadings, reading("p1", 100, 0, 60, 35, models.ReviewStatusUnreviewed))
	}
	runs := newFakeRunStore(pendingRun("run-1", "t1", 1000))
	o, _ := newTestOrchestrator(runs, &fakeReadingStore{readings: periodReadings}, &fakeTenantStore{settings: defaultSettings()}, &fakePublisher{})

	outcome, err := o.Run(context.Background(), "t1", "run-1", "")
	if err != nil {
		t.Fatalf("data-quality failure must ack: %v", err)
	}
	if outcome.Failure != FailureInsufficientApproval {
		t.Fatalf("outcome: %+v", outcome)
	}
	if !strings.Contains(outcome.Reason, "85/100 entries approved (85.0%)") {
		t.Errorf("reason: %q", outcome.Reason)
	}
}

func TestRunTenantNotFoundNacks(t *testing.T) {
	runs := newFakeRunStore(pendingRun("run-1", "t1", 1000))
	o, _ := newTestOrchestrator(runs, &fakeReadingStore{}, &fakeTenantStore{settings: nil}, &fakePublisher{})

	outcome, err := o.Run(context.Background(), "t1", "run-1", "")
	if !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
	if outcome.Failure != FailureTenantNotFound {
		t.Errorf("outcome: %+v", outcome)
	}
	if runs.runs["run-1"].Status != models.RunStatusFailed {
		t.Errorf("stored status: %s", runs.runs["run-1"].Status)
	}
}

func TestRunTransientReadingErrorNacks(t *testing.T) {
	runs := newFakeRunStore(pendingRun("run-1", "t1", 1000))
	storeErr := errors.New("connection reset")
	o, _ := newTestOrchestrator(runs, &fakeReadingStore{err: storeErr}, &fakeTenantStore{settings: defaultSettings()}, &fakePublisher{})

	outcome, err := o.Run(context.Background(), "t1", "run-1", "")
	if err == nil {
		t.Fatal("transient failure must nack")
	}
	if !errors.Is(err, storeErr) {
		t.Errorf("error chain lost: %v", err)
	}
	if outcome.Failure != FailureTransientStore {
		t.Errorf("outcome: %+v", outcome)
	}
}

func TestRunUnsupportedAllocationModelFails(t *testing.T) {
	runs := newFakeRunStore(pendingRun("run-1", "t1", 1000))
	settings := defaultSettings()
	settings.AllocationModel = "mass_balance"
	o, _ := newTestOrchestrator(runs, &fakeReadingStore{}, &fakeTenantStore{settings: settings}, &fakePublisher{})

	outcome, err := o.Run(context.Background(), "t1", "run-1", "")
	if err != nil {
		t.Fatalf("unsupported model is terminal, must ack: %v", err)
	}
	if outcome.Failure != FailureInvalidInput {
		t.Errorf("outcome: %+v", outcome)
	}
}

func TestRunPublishFailureKeepsCompleted(t *testing.T) {
	runs := newFakeRunStore(pendingRun("run-1", "t1", 1000))
	readings := &fakeReadingStore{readings: []models.PartnerReading{
		reading("p1", 1000, 0, 60, 35, models.ReviewStatusApproved),
	}}
	pub := &fakePublisher{err: errors.New("pubsub unavailable")}
	o, _ := newTestOrchestrator(runs, readings, &fakeTenantStore{settings: defaultSettings()}, pub)

	outcome, err := o.Run(context.Background(), "t1", "run-1", "")
	if err != nil {
		t.Fatalf("publish failure must not fail the run: %v", err)
	}
	if outcome.Status != models.RunStatusCompleted || !outcome.PublishFailed {
		t.Errorf("outcome: %+v", outcome)
	}
	if runs.runs["run-1"].Status != models.RunStatusCompleted {
		t.Errorf("stored status: %s", runs.runs["run-1"].Status)
	}
}

func TestRunPartnerDirectoryFailureFallsBack(t *testing.T) {
	runs := newFakeRunStore(pendingRun("run-1", "t1", 1000))
	readings := &fakeReadingStore{readings: []models.PartnerReading{
		reading("partner-11111111", 1000, 0, 60, 35, models.ReviewStatusApproved),
	}}
	audit := &fakeAudit{}
	o := NewOrchestrator(
		runs,
		readings,
		&fakeTenantStore{settings: defaultSettings()},
		&fakePartnerDirectory{err: errors.New("directory down")},
		&fakePublisher{},
		audit,
		testLogger(),
	)

	outcome, err := o.Run(context.Background(), "t1", "run-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != models.RunStatusCompleted {
		t.Fatalf("outcome: %+v", outcome)
	}
	result, _ := runs.runs["run-1"].DecodeResult()
	if result.PartnerAllocations[0].PartnerName != "Partner partner-" {
		t.Errorf("fallback name: %q", result.PartnerAllocations[0].PartnerName)
	}
}
