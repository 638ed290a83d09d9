package fundflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"fundflow/event"
	idemstore "fundflow/idempotency/store"
	lockmem "fundflow/lock/memory"
)

// ============================================================================
// Test Helpers
// ============================================================================

type engineFixture struct {
	engine *Engine
	store  *mockStore
	collab *stubCollab
	bus    *event.MemoryEventBus
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()
	store := newMockStore()
	collab := newStubCollab()
	bus := event.NewMemoryEventBus()

	engine := NewEngine(
		WithEngineStore(store),
		WithEngineLocker(lockmem.NewMemoryLocker()),
		WithEngineEventBus(bus),
		WithEngineChecker(idemstore.New(store)),
		WithEngineCollaborators(collab.collaborators()),
		WithEngineConfig(cfg),
	)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		engine.Close(ctx)
	})

	return &engineFixture{engine: engine, store: store, collab: collab, bus: bus}
}

func topUpRequest(accountKey string) *StartRequest {
	return &StartRequest{
		Kind:          KindTopUp,
		CorrelationID: uuid.New().String(),
		UserID:        "user-001",
		AccountKey:    accountKey,
		Amount:        50_000,
		Currency:      "AZN",
	}
}

// awaitStatus polls the store until the instance reaches the wanted status.
func awaitStatus(t *testing.T, store *mockStore, workflowID string, want Status) *WorkflowInstance {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		inst, err := store.GetInstance(context.Background(), workflowID)
		if err == nil && inst.Status == want {
			return inst
		}
		time.Sleep(10 * time.Millisecond)
	}
	inst, _ := store.GetInstance(context.Background(), workflowID)
	if inst != nil {
		t.Fatalf("instance never reached %s, stuck at %s", want, inst.Status)
	}
	t.Fatalf("instance never reached %s", want)
	return nil
}

// ============================================================================
// Engine Construction Tests
// ============================================================================

func TestNewEngine_Defaults(t *testing.T) {
	engine := NewEngine()

	cfg := engine.Config()
	if cfg.SignalTimeout != 20*time.Second {
		t.Errorf("expected default signal timeout 20s, got %v", cfg.SignalTimeout)
	}
	if cfg.MaxConcurrentRuns != 32 {
		t.Errorf("expected default run bound 32, got %d", cfg.MaxConcurrentRuns)
	}
	if engine.Coordinator() == nil {
		t.Error("expected a coordinator")
	}
}

func TestNewEngine_ConfigOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SignalTimeout = 7 * time.Second
	cfg.MaxConcurrentRuns = 4

	engine := NewEngine(WithEngineConfig(cfg))

	if engine.Config().SignalTimeout != 7*time.Second {
		t.Errorf("expected 7s signal timeout, got %v", engine.Config().SignalTimeout)
	}
	if engine.Config().MaxConcurrentRuns != 4 {
		t.Errorf("expected run bound 4, got %d", engine.Config().MaxConcurrentRuns)
	}
}

// ============================================================================
// Start Tests
// ============================================================================

func TestEngine_Start_SuspendsAwaitingSignal(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	res, err := f.engine.Start(context.Background(), topUpRequest("ACC-100"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Status != StatusAwaitingSignal {
		t.Errorf("expected AWAITING_SIGNAL, got %s", res.Status)
	}
	if res.WorkflowID == "" {
		t.Error("expected a workflow id")
	}
	if res.AuthorizationHandle == "" {
		t.Error("expected an authorization handle")
	}
	if res.SignalDeadline.IsZero() {
		t.Error("expected a signal deadline")
	}
	if !f.engine.timers.Armed(res.WorkflowID) {
		t.Error("expected a deadline timer armed for the suspended instance")
	}

	stored, err := f.store.GetInstance(context.Background(), res.WorkflowID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if stored.DeadlineAt == nil {
		t.Error("expected the absolute instance deadline set")
	}
}

func TestEngine_Start_Validation(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	tests := []struct {
		name   string
		mutate func(req *StartRequest)
	}{
		{"missing kind", func(req *StartRequest) { req.Kind = "" }},
		{"unknown kind", func(req *StartRequest) { req.Kind = "loan" }},
		{"missing user", func(req *StartRequest) { req.UserID = "" }},
		{"missing account", func(req *StartRequest) { req.AccountKey = "" }},
		{"zero amount", func(req *StartRequest) { req.Amount = 0 }},
		{"negative amount", func(req *StartRequest) { req.Amount = -500 }},
		{"lowercase currency", func(req *StartRequest) { req.Currency = "azn" }},
		{"short currency", func(req *StartRequest) { req.Currency = "AZ" }},
		{"malformed correlation id", func(req *StartRequest) { req.CorrelationID = "not-a-uuid" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := topUpRequest("ACC-101")
			tt.mutate(req)

			res, err := f.engine.Start(context.Background(), req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
			if res != nil {
				t.Error("expected no result for a rejected request")
			}
		})
	}

	if f.collab.CallCount(ActivityValidateUser) != 0 {
		t.Error("no collaborator call should happen for rejected requests")
	}
}

func TestEngine_Start_IdempotentOnCorrelationID(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	req := topUpRequest("ACC-102")

	first, err := f.engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, err := f.engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}

	if first.WorkflowID != second.WorkflowID {
		t.Errorf("expected the same instance, got %s and %s", first.WorkflowID, second.WorkflowID)
	}
	if second.Status != StatusAwaitingSignal {
		t.Errorf("expected the existing state reported, got %s", second.Status)
	}
	if got := f.collab.CallCount(ActivityInitiateTransfer); got != 1 {
		t.Errorf("expected 1 transfer initiation, got %d", got)
	}
}

func TestEngine_Start_InitiationFailureReturnsResult(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	f.collab.initiateTransfer = func(ctx context.Context, req *StartRequest, correlationID string) (*TransferIntent, error) {
		return nil, ErrInsufficientFunds
	}

	res, err := f.engine.Start(context.Background(), topUpRequest("ACC-103"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if res == nil {
		t.Fatal("a failed initiation must still return the terminal result")
	}
	if res.Status != StatusInitiationFailed {
		t.Errorf("expected INITIATION_FAILED, got %s", res.Status)
	}
	if f.engine.timers.Armed(res.WorkflowID) {
		t.Error("no deadline timer should be armed for a failed instance")
	}
}

func TestEngine_Start_SecondInstanceSameAccountBlocked(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	if _, err := f.engine.Start(context.Background(), topUpRequest("ACC-104")); err != nil {
		t.Fatalf("first start: %v", err)
	}

	res, err := f.engine.Start(context.Background(), topUpRequest("ACC-104"))
	if !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", err)
	}
	if res.Status != StatusInitiationFailed {
		t.Errorf("expected INITIATION_FAILED, got %s", res.Status)
	}
}

// ============================================================================
// Signal Tests
// ============================================================================

func TestEngine_Signal_CompletesWithinBudget(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	req := topUpRequest("ACC-110")

	res, err := f.engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	snap, err := f.engine.Signal(context.Background(), &SignalRequest{
		CorrelationID: req.CorrelationID,
		Payload:       "123456",
	})
	if err != nil {
		t.Fatalf("signal: %v", err)
	}
	if snap.Status != StatusFinalized {
		t.Errorf("expected FINALIZED within the wait budget, got %s", snap.Status)
	}
	if snap.BrokerOperationID == "" {
		t.Error("expected the broker operation id in the snapshot")
	}
	if f.engine.timers.Armed(res.WorkflowID) {
		t.Error("expected the deadline timer cancelled on acceptance")
	}
}

func TestEngine_Signal_RedeliveryReturnsSnapshot(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	req := topUpRequest("ACC-111")

	if _, err := f.engine.Start(context.Background(), req); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.engine.Signal(context.Background(), &SignalRequest{CorrelationID: req.CorrelationID, Payload: "123456"}); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	snap, err := f.engine.Signal(context.Background(), &SignalRequest{CorrelationID: req.CorrelationID, Payload: "999999"})
	if err != nil {
		t.Fatalf("redelivery must be idempotent, got %v", err)
	}
	if snap == nil {
		t.Fatal("expected the current snapshot")
	}
}

func TestEngine_Signal_Validation(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	tests := []struct {
		name string
		req  *SignalRequest
	}{
		{"missing correlation id", &SignalRequest{Payload: "123456"}},
		{"malformed correlation id", &SignalRequest{CorrelationID: "nope", Payload: "123456"}},
		{"missing payload", &SignalRequest{CorrelationID: uuid.New().String()}},
		{"payload too short", &SignalRequest{CorrelationID: uuid.New().String(), Payload: "123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Signal(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestEngine_Signal_UnknownCorrelationID(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	_, err := f.engine.Signal(context.Background(), &SignalRequest{
		CorrelationID: uuid.New().String(),
		Payload:       "123456",
	})
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestEngine_Signal_BankFailureReportedInSnapshot(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	f.collab.finalizeTransfer = func(ctx context.Context, authorization, payload string) (*TransferReceipt, error) {
		return nil, ErrInvalidAuthorization
	}
	req := topUpRequest("ACC-112")

	if _, err := f.engine.Start(context.Background(), req); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The delivery itself is accepted; the finalization failure surfaces in
	// the snapshot, not as a signal error.
	snap, err := f.engine.Signal(context.Background(), &SignalRequest{CorrelationID: req.CorrelationID, Payload: "000000"})
	if err != nil {
		t.Fatalf("signal: %v", err)
	}
	if snap.Status != StatusFinalizationFailed {
		t.Errorf("expected FINALIZATION_FAILED, got %s", snap.Status)
	}
	if snap.ErrorMsg == "" {
		t.Error("expected the failure cause in the snapshot")
	}
}

func TestEngine_Signal_BudgetExpiryReturnsProgress(t *testing.T) {
	cfg := testConfig()
	cfg.SignalWaitBudget = 100 * time.Millisecond
	cfg.ActivityTimeout = 2 * time.Second
	f := newEngineFixture(t, cfg)

	f.collab.finalizeTransfer = func(ctx context.Context, authorization, payload string) (*TransferReceipt, error) {
		time.Sleep(400 * time.Millisecond)
		return &TransferReceipt{Reference: authorization, ReceiptID: "RCPT-slow"}, nil
	}
	req := topUpRequest("ACC-113")

	res, err := f.engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	snap, err := f.engine.Signal(context.Background(), &SignalRequest{CorrelationID: req.CorrelationID, Payload: "123456"})
	if err != nil {
		t.Fatalf("signal: %v", err)
	}
	if snap.Done() {
		t.Errorf("expected an in-progress snapshot past the budget, got %s", snap.Status)
	}

	// The run carries on in the background and completes.
	awaitStatus(t, f.store, res.WorkflowID, StatusFinalized)
}

func TestEngine_Signal_AfterDeadlineElapsed(t *testing.T) {
	cfg := testConfig()
	cfg.SignalTimeout = 150 * time.Millisecond
	f := newEngineFixture(t, cfg)
	req := topUpRequest("ACC-114")

	res, err := f.engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// The in-process timer fires the timeout path once the window closes.
	awaitStatus(t, f.store, res.WorkflowID, StatusFinalizationFailed)

	snap, err := f.engine.Signal(context.Background(), &SignalRequest{CorrelationID: req.CorrelationID, Payload: "123456"})
	if !errors.Is(err, ErrSignalNotAccepted) {
		t.Fatalf("expected ErrSignalNotAccepted, got %v", err)
	}
	if snap == nil {
		t.Fatal("expected the snapshot alongside the rejection")
	}
	if snap.Status != StatusFinalizationFailed {
		t.Errorf("expected FINALIZATION_FAILED in the snapshot, got %s", snap.Status)
	}
}

// ============================================================================
// Query and History Tests
// ============================================================================

func TestEngine_Query(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	req := topUpRequest("ACC-120")

	res, err := f.engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	snap, err := f.engine.Query(context.Background(), req.CorrelationID)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if snap.WorkflowID != res.WorkflowID {
		t.Errorf("expected workflow %s, got %s", res.WorkflowID, snap.WorkflowID)
	}
	if snap.Status != StatusAwaitingSignal {
		t.Errorf("expected AWAITING_SIGNAL, got %s", snap.Status)
	}
	if snap.Done() {
		t.Error("a suspended instance is not done")
	}
}

func TestEngine_Query_UnknownCorrelationID(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	_, err := f.engine.Query(context.Background(), uuid.New().String())
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestEngine_History(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	req := topUpRequest("ACC-121")

	res, err := f.engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, err := f.engine.Signal(context.Background(), &SignalRequest{CorrelationID: req.CorrelationID, Payload: "123456"})
	if err != nil || snap.Status != StatusFinalized {
		t.Fatalf("expected a finalized run, got status=%v err=%v", snap.Status, err)
	}

	history, err := f.engine.History(context.Background(), res.WorkflowID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) < 7 {
		t.Fatalf("expected the full audit trail, got %d events", len(history))
	}
	for i, ev := range history {
		if ev.Seq != i+1 {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, ev.Seq)
		}
	}
}

// ============================================================================
// Recovery Tests
// ============================================================================

func TestEngine_RecoverSuspended_RearmsFutureDeadlines(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	req := topUpRequest("ACC-130")

	res, err := f.engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// A second engine on the same store simulates the restarted process.
	restarted := NewEngine(
		WithEngineStore(f.store),
		WithEngineLocker(lockmem.NewMemoryLocker()),
		WithEngineChecker(idemstore.New(f.store)),
		WithEngineCollaborators(f.collab.collaborators()),
		WithEngineConfig(testConfig()),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		restarted.Close(ctx)
	})

	count, err := restarted.RecoverSuspended(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 recovered instance, got %d", count)
	}
	if !restarted.timers.Armed(res.WorkflowID) {
		t.Error("expected the deadline timer re-armed after restart")
	}
}

func TestEngine_RecoverSuspended_DrivesElapsedDeadlines(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	// An instance whose window closed while the process was down.
	inst := NewInstance(topUpRequest("ACC-131"))
	if err := f.store.CreateInstance(context.Background(), inst); err != nil {
		t.Fatalf("create: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	inst.Status = StatusAwaitingSignal
	inst.SignalDeadline = &past
	inst.IncrementVersion()
	if err := f.store.UpdateInstance(context.Background(), inst); err != nil {
		t.Fatalf("persist: %v", err)
	}

	count, err := f.engine.RecoverSuspended(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 recovered instance, got %d", count)
	}

	awaitStatus(t, f.store, inst.WorkflowID, StatusFinalizationFailed)
}

func TestEngine_RecoverSuspended_Empty(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	count, err := f.engine.RecoverSuspended(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if count != 0 {
		t.Errorf("expected nothing to recover, got %d", count)
	}
}

// ============================================================================
// Event Subscription Tests
// ============================================================================

func TestEngine_Subscribe(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	var mu sync.Mutex
	var finalized []string
	f.engine.Subscribe(event.EventWorkflowFinalized, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		finalized = append(finalized, e.WorkflowID)
		mu.Unlock()
		return nil
	})

	req := topUpRequest("ACC-140")
	res, err := f.engine.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, err := f.engine.Signal(context.Background(), &SignalRequest{CorrelationID: req.CorrelationID, Payload: "123456"})
	if err != nil || snap.Status != StatusFinalized {
		t.Fatalf("expected a finalized run, got status=%v err=%v", snap.Status, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(finalized) != 1 || finalized[0] != res.WorkflowID {
		t.Errorf("expected one finalized event for %s, got %v", res.WorkflowID, finalized)
	}
}

func TestEngine_SubscribeAll(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	var mu sync.Mutex
	seen := make(map[event.EventType]int)
	f.engine.SubscribeAll(func(ctx context.Context, e event.Event) error {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
		return nil
	})

	req := topUpRequest("ACC-141")
	if _, err := f.engine.Start(context.Background(), req); err != nil {
		t.Fatalf("start: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[event.EventWorkflowStarted] != 1 {
		t.Errorf("expected 1 workflow.started, got %d", seen[event.EventWorkflowStarted])
	}
	if seen[event.EventWorkflowAwaiting] != 1 {
		t.Errorf("expected 1 workflow.awaiting_signal, got %d", seen[event.EventWorkflowAwaiting])
	}
	if seen[event.EventActivityCompleted] != 3 {
		t.Errorf("expected 3 activity completions during initiation, got %d", seen[event.EventActivityCompleted])
	}
}

func TestEngine_Subscribe_NilBus(t *testing.T) {
	store := newMockStore()
	collab := newStubCollab()
	engine := NewEngine(
		WithEngineStore(store),
		WithEngineLocker(lockmem.NewMemoryLocker()),
		WithEngineCollaborators(collab.collaborators()),
		WithEngineConfig(testConfig()),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		engine.Close(ctx)
	})

	if err := engine.Subscribe(event.EventWorkflowFinalized, func(ctx context.Context, e event.Event) error { return nil }); err != nil {
		t.Errorf("subscribe on a nil bus must be a no-op, got %v", err)
	}
	if err := engine.SubscribeAll(func(ctx context.Context, e event.Event) error { return nil }); err != nil {
		t.Errorf("subscribe-all on a nil bus must be a no-op, got %v", err)
	}

	// The whole flow still works without a bus.
	req := topUpRequest("ACC-142")
	if _, err := engine.Start(context.Background(), req); err != nil {
		t.Fatalf("start without a bus: %v", err)
	}
	snap, err := engine.Signal(context.Background(), &SignalRequest{CorrelationID: req.CorrelationID, Payload: "123456"})
	if err != nil {
		t.Fatalf("signal without a bus: %v", err)
	}
	if snap.Status != StatusFinalized {
		t.Errorf("expected FINALIZED, got %s", snap.Status)
	}
}

// ============================================================================
// Close Tests
// ============================================================================

func TestEngine_Close_WaitsForIdle(t *testing.T) {
	f := newEngineFixture(t, testConfig())
	req := topUpRequest("ACC-150")

	if _, err := f.engine.Start(context.Background(), req); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, err := f.engine.Signal(context.Background(), &SignalRequest{CorrelationID: req.CorrelationID, Payload: "123456"})
	if err != nil || !snap.Done() {
		t.Fatalf("expected a completed run before close, got status=%v err=%v", snap.Status, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.engine.Close(ctx); err != nil {
		t.Errorf("close on an idle engine: %v", err)
	}
	if f.engine.timers.Len() != 0 {
		t.Errorf("expected all timers stopped, got %d armed", f.engine.timers.Len())
	}
}

func TestEngine_Close_Twice(t *testing.T) {
	f := newEngineFixture(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.engine.Close(ctx); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := f.engine.Close(ctx); err != nil {
		t.Errorf("second close must be safe, got %v", err)
	}
}
