// Package mysql provides tests for the MySQL implementation of the instance store.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"pgregory.net/rapid"

	"fundflow"
)

// ============================================================================
// Test Helpers
// ============================================================================

var instanceTestColumns = []string{
	"id", "workflow_id", "correlation_id", "kind", "status", "user_id", "account_key",
	"amount", "currency", "transfer_reference", "authorization_handle", "receipt_id",
	"broker_operation_id", "signal_deadline", "signal_payload", "signal_received_at",
	"current_step", "reconcile_attempts", "manual_review", "error_msg", "version",
	"created_at", "updated_at", "completed_at", "deadline_at",
}

func newTestStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	s := New(db)
	return s, mock, func() { db.Close() }
}

func createTestInstance(correlationID string, kind fundflow.Kind) *fundflow.WorkflowInstance {
	return fundflow.NewInstance(&fundflow.StartRequest{
		Kind:          kind,
		CorrelationID: correlationID,
		UserID:        "user-1",
		AccountKey:    "acc-1",
		Amount:        2500,
		Currency:      "AZN",
	})
}

func addInstanceRow(rows *sqlmock.Rows, inst *fundflow.WorkflowInstance) *sqlmock.Rows {
	return rows.AddRow(
		inst.ID, inst.WorkflowID, inst.CorrelationID, string(inst.Kind), string(inst.Status),
		inst.UserID, inst.AccountKey, inst.Amount, inst.Currency,
		inst.TransferReference, inst.AuthorizationHandle, inst.ReceiptID,
		inst.BrokerOperationID, inst.SignalDeadline, inst.SignalPayload, inst.SignalReceivedAt,
		inst.CurrentStep, inst.ReconcileAttempts, inst.ManualReview, inst.ErrorMsg, inst.Version,
		inst.CreatedAt, inst.UpdatedAt, inst.CompletedAt, inst.DeadlineAt,
	)
}

// ============================================================================
// Instance CRUD Tests
// ============================================================================

func TestMySQLStore_CreateInstance(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-123", fundflow.KindTopUp)

	mock.ExpectExec("INSERT INTO fundflow_instances").
		WithArgs(
			inst.WorkflowID, inst.CorrelationID, inst.Kind, inst.Status, inst.UserID, inst.AccountKey,
			inst.Amount, inst.Currency, inst.TransferReference, inst.AuthorizationHandle, inst.ReceiptID,
			inst.BrokerOperationID, inst.SignalDeadline, inst.SignalPayload, inst.SignalReceivedAt,
			inst.CurrentStep, inst.ReconcileAttempts, inst.ManualReview, inst.ErrorMsg, inst.Version,
			sqlmock.AnyArg(), sqlmock.AnyArg(), // created_at, updated_at
			inst.CompletedAt, inst.DeadlineAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.CreateInstance(context.Background(), inst)
	if err != nil {
		t.Errorf("CreateInstance failed: %v", err)
	}

	if inst.ID != 1 {
		t.Errorf("expected ID 1, got %d", inst.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMySQLStore_CreateInstance_DuplicateKey(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-123", fundflow.KindTopUp)

	mock.ExpectExec("INSERT INTO fundflow_instances").
		WillReturnError(errors.New("Duplicate entry 'corr-123' for key 'uk_correlation_id'"))

	err := s.CreateInstance(context.Background(), inst)
	if !errors.Is(err, fundflow.ErrInstanceAlreadyExists) {
		t.Errorf("expected ErrInstanceAlreadyExists, got %v", err)
	}
}

func TestMySQLStore_CreateInstance_ExecError(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-123", fundflow.KindTopUp)

	mock.ExpectExec("INSERT INTO fundflow_instances").
		WillReturnError(errors.New("database connection error"))

	err := s.CreateInstance(context.Background(), inst)
	if !errors.Is(err, fundflow.ErrStoreOperationFailed) {
		t.Errorf("expected ErrStoreOperationFailed, got %v", err)
	}
}

func TestMySQLStore_GetInstance(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-123", fundflow.KindWithdraw)
	inst.ID = 1
	rows := addInstanceRow(sqlmock.NewRows(instanceTestColumns), inst)

	mock.ExpectQuery("SELECT .+ FROM fundflow_instances WHERE workflow_id = ?").
		WithArgs(inst.WorkflowID).
		WillReturnRows(rows)

	got, err := s.GetInstance(context.Background(), inst.WorkflowID)
	if err != nil {
		t.Errorf("GetInstance failed: %v", err)
	}

	if got.WorkflowID != inst.WorkflowID {
		t.Errorf("expected WorkflowID %q, got %q", inst.WorkflowID, got.WorkflowID)
	}
	if got.Kind != fundflow.KindWithdraw {
		t.Errorf("expected kind withdraw, got %s", got.Kind)
	}
	if got.Status != fundflow.StatusInitialized {
		t.Errorf("expected status INITIALIZED, got %s", got.Status)
	}
	if got.Amount != 2500 {
		t.Errorf("expected amount 2500, got %d", got.Amount)
	}
}

func TestMySQLStore_GetInstance_NotFound(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .+ FROM fundflow_instances WHERE workflow_id = ?").
		WithArgs("wf-not-found").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetInstance(context.Background(), "wf-not-found")
	if !errors.Is(err, fundflow.ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestMySQLStore_GetInstanceByCorrelationID(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-123", fundflow.KindTopUp)
	inst.ID = 1
	rows := addInstanceRow(sqlmock.NewRows(instanceTestColumns), inst)

	mock.ExpectQuery("SELECT .+ FROM fundflow_instances WHERE correlation_id = ?").
		WithArgs("corr-123").
		WillReturnRows(rows)

	got, err := s.GetInstanceByCorrelationID(context.Background(), "corr-123")
	if err != nil {
		t.Errorf("GetInstanceByCorrelationID failed: %v", err)
	}

	if got.CorrelationID != "corr-123" {
		t.Errorf("expected CorrelationID 'corr-123', got %q", got.CorrelationID)
	}
}

func TestMySQLStore_UpdateInstance(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-123", fundflow.KindTopUp)
	inst.Status = fundflow.StatusInitiating
	inst.Version = 1 // Caller is expected to have already incremented the version

	mock.ExpectExec("UPDATE fundflow_instances SET").
		WithArgs(
			inst.Status, inst.TransferReference, inst.AuthorizationHandle, inst.ReceiptID,
			inst.BrokerOperationID, inst.SignalDeadline, inst.SignalPayload, inst.SignalReceivedAt,
			inst.CurrentStep, inst.ReconcileAttempts, inst.ManualReview, inst.ErrorMsg,
			inst.Version, sqlmock.AnyArg(), inst.CompletedAt, inst.DeadlineAt,
			inst.WorkflowID, inst.Version-1, // WHERE clause uses version-1
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateInstance(context.Background(), inst)
	if err != nil {
		t.Errorf("UpdateInstance failed: %v", err)
	}

	// Version should remain the same (caller already incremented it)
	if inst.Version != 1 {
		t.Errorf("expected version to remain 1, got %d", inst.Version)
	}
}

func TestMySQLStore_UpdateInstance_NotFound(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-not-found", fundflow.KindTopUp)
	inst.Version = 1

	mock.ExpectExec("UPDATE fundflow_instances SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM fundflow_instances WHERE workflow_id = ?").
		WithArgs(inst.WorkflowID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := s.UpdateInstance(context.Background(), inst)
	if !errors.Is(err, fundflow.ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestMySQLStore_UpdateInstance_VersionConflict(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-123", fundflow.KindTopUp)
	inst.Version = 6 // Caller has already incremented version to 6

	// No rows affected because the stored version no longer matches version-1
	mock.ExpectExec("UPDATE fundflow_instances SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Instance exists but version doesn't match
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM fundflow_instances WHERE workflow_id = ?").
		WithArgs(inst.WorkflowID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := s.UpdateInstance(context.Background(), inst)
	if !errors.Is(err, fundflow.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

func TestMySQLStore_UpdateInstance_ExecError(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-123", fundflow.KindTopUp)
	inst.Version = 1

	mock.ExpectExec("UPDATE fundflow_instances SET").
		WillReturnError(errors.New("database connection error"))

	err := s.UpdateInstance(context.Background(), inst)
	if !errors.Is(err, fundflow.ErrStoreOperationFailed) {
		t.Errorf("expected ErrStoreOperationFailed, got %v", err)
	}
}

// ============================================================================
// HasActive Tests
// ============================================================================

func TestMySQLStore_HasActive(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM fundflow_instances WHERE account_key = \\? AND workflow_id != \\? AND status NOT IN").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	active, err := s.HasActive(context.Background(), "acc-1", "wf-current")
	if err != nil {
		t.Errorf("HasActive failed: %v", err)
	}
	if !active {
		t.Error("expected active to be true")
	}
}

func TestMySQLStore_HasActive_None(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM fundflow_instances WHERE account_key = \\? AND workflow_id != \\? AND status NOT IN").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	active, err := s.HasActive(context.Background(), "acc-1", "wf-current")
	if err != nil {
		t.Errorf("HasActive failed: %v", err)
	}
	if active {
		t.Error("expected active to be false")
	}
}

// ============================================================================
// History Tests
// ============================================================================

func TestMySQLStore_AppendHistory(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	ev := fundflow.NewHistoryEvent("wf-123", 1, fundflow.PhaseInitiation, "validate_user", fundflow.OutcomeCompleted)
	ev.Attempts = 1

	mock.ExpectExec("INSERT INTO fundflow_history").
		WithArgs(
			ev.WorkflowID, ev.Seq, ev.Phase, ev.Activity, ev.Outcome, ev.Class, ev.Attempts, ev.Detail,
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.AppendHistory(context.Background(), ev)
	if err != nil {
		t.Errorf("AppendHistory failed: %v", err)
	}

	if ev.ID != 1 {
		t.Errorf("expected ID 1, got %d", ev.ID)
	}
}

func TestMySQLStore_AppendHistory_DuplicateSeq(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	ev := fundflow.NewHistoryEvent("wf-123", 1, fundflow.PhaseInitiation, "validate_user", fundflow.OutcomeCompleted)

	mock.ExpectExec("INSERT INTO fundflow_history").
		WillReturnError(errors.New("Duplicate entry 'wf-123-1' for key 'uk_workflow_seq'"))

	err := s.AppendHistory(context.Background(), ev)
	if !errors.Is(err, fundflow.ErrDuplicateHistorySeq) {
		t.Errorf("expected ErrDuplicateHistorySeq, got %v", err)
	}
}

func TestMySQLStore_GetHistory(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "workflow_id", "seq", "phase", "activity", "outcome", "class", "attempts", "detail", "created_at",
	}).
		AddRow(1, "wf-123", 1, "initiation", "validate_user", "completed", "", 1, "", now).
		AddRow(2, "wf-123", 2, "initiation", "check_restrictions", "completed", "", 1, "", now)

	mock.ExpectQuery("SELECT .+ FROM fundflow_history WHERE workflow_id = \\? ORDER BY seq ASC").
		WithArgs("wf-123").
		WillReturnRows(rows)

	events, err := s.GetHistory(context.Background(), "wf-123")
	if err != nil {
		t.Errorf("GetHistory failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 history events, got %d", len(events))
	}
	if events[0].Seq != 1 || events[1].Seq != 2 {
		t.Errorf("expected sequences 1,2, got %d,%d", events[0].Seq, events[1].Seq)
	}
	if events[0].Activity != "validate_user" {
		t.Errorf("expected activity 'validate_user', got %q", events[0].Activity)
	}
}

func TestMySQLStore_NextHistorySeq(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(seq\\), 0\\) \\+ 1 FROM fundflow_history WHERE workflow_id = ?").
		WithArgs("wf-123").
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(4))

	next, err := s.NextHistorySeq(context.Background(), "wf-123")
	if err != nil {
		t.Errorf("NextHistorySeq failed: %v", err)
	}
	if next != 4 {
		t.Errorf("expected next seq 4, got %d", next)
	}
}

// ============================================================================
// Reconciliation Query Tests
// ============================================================================

func TestMySQLStore_GetReconcilable(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-parked", fundflow.KindTopUp)
	inst.ID = 1
	inst.Status = fundflow.StatusFinalizationTimeout
	rows := addInstanceRow(sqlmock.NewRows(instanceTestColumns), inst)

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery("SELECT .+ FROM fundflow_instances WHERE status = \\? AND created_at >= \\? AND reconcile_attempts <= \\?").
		WithArgs(fundflow.StatusFinalizationTimeout, cutoff, 10, 100).
		WillReturnRows(rows)

	instances, err := s.GetReconcilable(context.Background(), cutoff, 10, 100)
	if err != nil {
		t.Errorf("GetReconcilable failed: %v", err)
	}

	if len(instances) != 1 {
		t.Fatalf("expected 1 reconcilable instance, got %d", len(instances))
	}
	if instances[0].Status != fundflow.StatusFinalizationTimeout {
		t.Errorf("expected status FINALIZATION_TIMEOUT, got %s", instances[0].Status)
	}
}

func TestMySQLStore_GetExpiredAwaiting(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-expired", fundflow.KindWithdraw)
	inst.ID = 1
	inst.Status = fundflow.StatusAwaitingSignal
	deadline := time.Now().Add(-time.Minute)
	inst.SignalDeadline = &deadline
	rows := addInstanceRow(sqlmock.NewRows(instanceTestColumns), inst)

	asOf := time.Now()
	mock.ExpectQuery("SELECT .+ FROM fundflow_instances WHERE status = \\? AND signal_deadline IS NOT NULL AND signal_deadline <= \\?").
		WithArgs(fundflow.StatusAwaitingSignal, asOf, 50).
		WillReturnRows(rows)

	instances, err := s.GetExpiredAwaiting(context.Background(), asOf, 50)
	if err != nil {
		t.Errorf("GetExpiredAwaiting failed: %v", err)
	}

	if len(instances) != 1 {
		t.Fatalf("expected 1 expired instance, got %d", len(instances))
	}
	if instances[0].SignalDeadline == nil {
		t.Error("expected signal deadline to be set")
	}
}

func TestMySQLStore_GetStuck(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-stuck", fundflow.KindTopUp)
	inst.ID = 1
	inst.Status = fundflow.StatusFinalizing
	rows := addInstanceRow(sqlmock.NewRows(instanceTestColumns), inst)

	mock.ExpectQuery("SELECT .+ FROM fundflow_instances WHERE status IN").
		WithArgs(fundflow.StatusInitiating, fundflow.StatusFinalizing, sqlmock.AnyArg(), 50).
		WillReturnRows(rows)

	instances, err := s.GetStuck(context.Background(),
		[]fundflow.Status{fundflow.StatusInitiating, fundflow.StatusFinalizing}, 5*time.Minute, 50)
	if err != nil {
		t.Errorf("GetStuck failed: %v", err)
	}

	if len(instances) != 1 {
		t.Errorf("expected 1 stuck instance, got %d", len(instances))
	}
}

func TestMySQLStore_GetStuck_NoStatuses(t *testing.T) {
	s, _, cleanup := newTestStore(t)
	defer cleanup()

	instances, err := s.GetStuck(context.Background(), nil, 5*time.Minute, 50)
	if err != nil {
		t.Errorf("GetStuck failed: %v", err)
	}
	if instances != nil {
		t.Errorf("expected nil result, got %d instances", len(instances))
	}
}

func TestMySQLStore_GetOverdue(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-overdue", fundflow.KindTopUp)
	inst.ID = 1
	inst.Status = fundflow.StatusFinalizationTimeout
	deadline := time.Now().Add(-time.Hour)
	inst.DeadlineAt = &deadline
	rows := addInstanceRow(sqlmock.NewRows(instanceTestColumns), inst)

	mock.ExpectQuery("SELECT .+ FROM fundflow_instances WHERE status NOT IN .+ AND deadline_at IS NOT NULL AND deadline_at <= \\?").
		WillReturnRows(rows)

	instances, err := s.GetOverdue(context.Background(), time.Now(), 50)
	if err != nil {
		t.Errorf("GetOverdue failed: %v", err)
	}

	if len(instances) != 1 {
		t.Errorf("expected 1 overdue instance, got %d", len(instances))
	}
}

// ============================================================================
// ListInstances Tests
// ============================================================================

func TestMySQLStore_ListInstances(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	filter := fundflow.NewInstanceFilter().
		WithStatus(fundflow.StatusFinalized).
		WithPagination(10, 0)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM fundflow_instances WHERE status IN").
		WithArgs(fundflow.StatusFinalized).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	inst := createTestInstance("corr-123", fundflow.KindTopUp)
	inst.ID = 1
	inst.Status = fundflow.StatusFinalized
	rows := addInstanceRow(sqlmock.NewRows(instanceTestColumns), inst)

	mock.ExpectQuery("SELECT .+ FROM fundflow_instances .+ LIMIT \\? OFFSET \\?").
		WithArgs(fundflow.StatusFinalized, 10, 0).
		WillReturnRows(rows)

	instances, total, err := s.ListInstances(context.Background(), filter)
	if err != nil {
		t.Errorf("ListInstances failed: %v", err)
	}

	if total != 1 {
		t.Errorf("expected total 1, got %d", total)
	}
	if len(instances) != 1 {
		t.Errorf("expected 1 instance, got %d", len(instances))
	}
}

func TestMySQLStore_ListInstances_CountError(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	filter := fundflow.NewInstanceFilter().WithPagination(10, 0)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM fundflow_instances").
		WillReturnError(errors.New("database connection error"))

	_, _, err := s.ListInstances(context.Background(), filter)
	if !errors.Is(err, fundflow.ErrStoreOperationFailed) {
		t.Errorf("expected ErrStoreOperationFailed, got %v", err)
	}
}

// ============================================================================
// Idempotency Tests
// ============================================================================

func TestMySQLStore_CheckIdempotency_NotExists(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT result FROM fundflow_idempotency").
		WithArgs("key-123", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	exists, result, err := s.CheckIdempotency(context.Background(), "key-123")
	if err != nil {
		t.Errorf("CheckIdempotency failed: %v", err)
	}
	if exists {
		t.Error("expected exists to be false")
	}
	if result != nil {
		t.Error("expected result to be nil")
	}
}

func TestMySQLStore_CheckIdempotency_Exists(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	expectedResult := []byte(`broker-op-789`)
	rows := sqlmock.NewRows([]string{"result"}).AddRow(expectedResult)

	mock.ExpectQuery("SELECT result FROM fundflow_idempotency").
		WithArgs("key-123", sqlmock.AnyArg()).
		WillReturnRows(rows)

	exists, result, err := s.CheckIdempotency(context.Background(), "key-123")
	if err != nil {
		t.Errorf("CheckIdempotency failed: %v", err)
	}
	if !exists {
		t.Error("expected exists to be true")
	}
	if string(result) != string(expectedResult) {
		t.Errorf("expected result %s, got %s", expectedResult, result)
	}
}

func TestMySQLStore_MarkIdempotency(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	result := []byte(`broker-op-789`)

	mock.ExpectExec("INSERT INTO fundflow_idempotency").
		WithArgs("key-123", result, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.MarkIdempotency(context.Background(), "key-123", result, 24*time.Hour)
	if err != nil {
		t.Errorf("MarkIdempotency failed: %v", err)
	}
}

func TestMySQLStore_DeleteExpiredIdempotency(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectExec("DELETE FROM fundflow_idempotency WHERE expires_at < ?").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 5))

	count, err := s.DeleteExpiredIdempotency(context.Background())
	if err != nil {
		t.Errorf("DeleteExpiredIdempotency failed: %v", err)
	}

	if count != 5 {
		t.Errorf("expected 5 deleted, got %d", count)
	}
}

func TestMySQLStore_CheckIdempotency_QueryError(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT result FROM fundflow_idempotency").
		WithArgs("key-123", sqlmock.AnyArg()).
		WillReturnError(errors.New("database connection error"))

	_, _, err := s.CheckIdempotency(context.Background(), "key-123")
	if !errors.Is(err, fundflow.ErrIdempotencyCheckFailed) {
		t.Errorf("expected ErrIdempotencyCheckFailed, got %v", err)
	}
}

// ============================================================================
// Error Path Tests
// ============================================================================

func TestMySQLStore_GetInstance_QueryError(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .+ FROM fundflow_instances WHERE workflow_id = ?").
		WithArgs("wf-123").
		WillReturnError(errors.New("database connection error"))

	_, err := s.GetInstance(context.Background(), "wf-123")
	if !errors.Is(err, fundflow.ErrStoreOperationFailed) {
		t.Errorf("expected ErrStoreOperationFailed, got %v", err)
	}
}

func TestMySQLStore_GetHistory_ScanError(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	// Return rows with wrong number of columns to trigger scan error
	rows := sqlmock.NewRows([]string{"id", "workflow_id"}).
		AddRow(1, "wf-123")

	mock.ExpectQuery("SELECT .+ FROM fundflow_history WHERE workflow_id = \\? ORDER BY seq ASC").
		WithArgs("wf-123").
		WillReturnRows(rows)

	_, err := s.GetHistory(context.Background(), "wf-123")
	if err == nil {
		t.Error("expected error, got nil")
	}
}

func TestMySQLStore_GetReconcilable_QueryError(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .+ FROM fundflow_instances WHERE status = \\? AND created_at >= \\?").
		WillReturnError(errors.New("database connection error"))

	_, err := s.GetReconcilable(context.Background(), time.Now().Add(-time.Hour), 10, 100)
	if !errors.Is(err, fundflow.ErrStoreOperationFailed) {
		t.Errorf("expected ErrStoreOperationFailed, got %v", err)
	}
}

func TestMySQLStore_UpdateInstance_ExistsCheckError(t *testing.T) {
	s, mock, cleanup := newTestStore(t)
	defer cleanup()

	inst := createTestInstance("corr-123", fundflow.KindTopUp)
	inst.Version = 1

	mock.ExpectExec("UPDATE fundflow_instances SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM fundflow_instances WHERE workflow_id = ?").
		WithArgs(inst.WorkflowID).
		WillReturnError(errors.New("database error"))

	err := s.UpdateInstance(context.Background(), inst)
	if !errors.Is(err, fundflow.ErrStoreOperationFailed) {
		t.Errorf("expected ErrStoreOperationFailed, got %v", err)
	}
}

// ============================================================================
// Property-Based Tests
// ============================================================================

// For any instance, if two concurrent updates attempt to modify the same
// instance from the same base version, only one succeeds and the other
// receives a version conflict. The caller is expected to have already
// incremented the version before calling UpdateInstance.
func TestProperty_OptimisticLockPreventsLostUpdates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		correlationID := rapid.StringMatching(`corr-[a-z0-9]{8}`).Draw(t, "correlationID")
		kind := rapid.SampledFrom([]fundflow.Kind{fundflow.KindTopUp, fundflow.KindWithdraw}).Draw(t, "kind")
		initialVersion := rapid.IntRange(0, 100).Draw(t, "initialVersion")

		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create sqlmock: %v", err)
		}
		defer db.Close()
		s := New(db)

		// Two copies of the same instance simulating two concurrent writers,
		// both of which read version=initialVersion and incremented
		inst1 := createTestInstance(correlationID, kind)
		inst1.Version = initialVersion + 1
		inst1.Status = fundflow.StatusFinalizing

		inst2 := createTestInstance(correlationID, kind)
		inst2.WorkflowID = inst1.WorkflowID
		inst2.Version = initialVersion + 1
		inst2.Status = fundflow.StatusSignalTimeout

		// First conditional update matches version-1 and wins
		mock.ExpectExec("UPDATE fundflow_instances SET").
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Second loses: the stored version moved past initialVersion
		mock.ExpectExec("UPDATE fundflow_instances SET").
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM fundflow_instances WHERE workflow_id = ?").
			WithArgs(inst2.WorkflowID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		err1 := s.UpdateInstance(context.Background(), inst1)
		if err1 != nil {
			t.Fatalf("first update should succeed, got error: %v", err1)
		}
		if inst1.Version != initialVersion+1 {
			t.Fatalf("expected version %d after first update, got %d", initialVersion+1, inst1.Version)
		}

		err2 := s.UpdateInstance(context.Background(), inst2)
		if !errors.Is(err2, fundflow.ErrVersionConflict) {
			t.Fatalf("second update should fail with ErrVersionConflict, got: %v", err2)
		}
		if inst2.Version != initialVersion+1 {
			t.Fatalf("expected version %d unchanged after failed update, got %d", initialVersion+1, inst2.Version)
		}

		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unfulfilled expectations: %v", err)
		}
	})
}

// ============================================================================
// isDuplicateKeyError Tests
// ============================================================================

func TestIsDuplicateKeyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "duplicate entry error",
			err:      errors.New("Duplicate entry 'corr-123' for key 'uk_correlation_id'"),
			expected: true,
		},
		{
			name:     "error code 1062",
			err:      errors.New("Error 1062: Duplicate entry"),
			expected: true,
		},
		{
			name:     "other error",
			err:      errors.New("connection refused"),
			expected: false,
		},
		{
			name:     "empty error message",
			err:      errors.New(""),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isDuplicateKeyError(tt.err)
			if result != tt.expected {
				t.Errorf("isDuplicateKeyError(%v) = %v, expected %v", tt.err, result, tt.expected)
			}
		})
	}
}
