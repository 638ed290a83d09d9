// Package mysql provides a MySQL implementation of the instance store.
//
// Expected schema:
//
//	CREATE TABLE fundflow_instances (
//	    id                   BIGINT AUTO_INCREMENT PRIMARY KEY,
//	    workflow_id          VARCHAR(64)  NOT NULL,
//	    correlation_id       VARCHAR(64)  NOT NULL,
//	    kind                 VARCHAR(16)  NOT NULL,
//	    status               VARCHAR(32)  NOT NULL,
//	    user_id              VARCHAR(64)  NOT NULL,
//	    account_key          VARCHAR(64)  NOT NULL,
//	    amount               BIGINT       NOT NULL,
//	    currency             CHAR(3)      NOT NULL,
//	    transfer_reference   VARCHAR(128) NOT NULL DEFAULT '',
//	    authorization_handle VARCHAR(128) NOT NULL DEFAULT '',
//	    receipt_id           VARCHAR(128) NOT NULL DEFAULT '',
//	    broker_operation_id  VARCHAR(128) NOT NULL DEFAULT '',
//	    signal_deadline      DATETIME(6)  NULL,
//	    signal_payload       VARCHAR(128) NOT NULL DEFAULT '',
//	    signal_received_at   DATETIME(6)  NULL,
//	    current_step         INT          NOT NULL DEFAULT 0,
//	    reconcile_attempts   INT          NOT NULL DEFAULT 0,
//	    manual_review        TINYINT(1)   NOT NULL DEFAULT 0,
//	    error_msg            TEXT         NOT NULL,
//	    version              INT          NOT NULL DEFAULT 0,
//	    created_at           DATETIME(6)  NOT NULL,
//	    updated_at           DATETIME(6)  NOT NULL,
//	    completed_at         DATETIME(6)  NULL,
//	    deadline_at          DATETIME(6)  NULL,
//	    UNIQUE KEY uk_workflow_id (workflow_id),
//	    UNIQUE KEY uk_correlation_id (correlation_id),
//	    KEY idx_account_status (account_key, status),
//	    KEY idx_status_created (status, created_at)
//	);
//
//	CREATE TABLE fundflow_history (
//	    id          BIGINT AUTO_INCREMENT PRIMARY KEY,
//	    workflow_id VARCHAR(64) NOT NULL,
//	    seq         INT         NOT NULL,
//	    phase       VARCHAR(16) NOT NULL,
//	    activity    VARCHAR(64) NOT NULL,
//	    outcome     VARCHAR(16) NOT NULL,
//	    class       VARCHAR(16) NOT NULL DEFAULT '',
//	    attempts    INT         NOT NULL DEFAULT 0,
//	    detail      TEXT        NOT NULL,
//	    created_at  DATETIME(6) NOT NULL,
//	    UNIQUE KEY uk_workflow_seq (workflow_id, seq)
//	);
//
//	CREATE TABLE fundflow_idempotency (
//	    id              BIGINT AUTO_INCREMENT PRIMARY KEY,
//	    idempotency_key VARCHAR(128) NOT NULL,
//	    result          BLOB         NULL,
//	    created_at      DATETIME(6)  NOT NULL,
//	    expires_at      DATETIME(6)  NOT NULL,
//	    UNIQUE KEY uk_idempotency_key (idempotency_key)
//	);
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fundflow"
)

// MySQLStore implements the fundflow.InstanceStore interface using MySQL.
type MySQLStore struct {
	db *sql.DB
}

// New creates a new MySQLStore with the given database connection.
func New(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

const instanceColumns = `id, workflow_id, correlation_id, kind, status, user_id, account_key,
		amount, currency, transfer_reference, authorization_handle, receipt_id,
		broker_operation_id, signal_deadline, signal_payload, signal_received_at,
		current_step, reconcile_attempts, manual_review, error_msg, version,
		created_at, updated_at, completed_at, deadline_at`

// ============================================================================
// Instance Operations
// ============================================================================

// CreateInstance creates a new workflow instance record.
func (s *MySQLStore) CreateInstance(ctx context.Context, inst *fundflow.WorkflowInstance) error {
	query := `
		INSERT INTO fundflow_instances (
			workflow_id, correlation_id, kind, status, user_id, account_key,
			amount, currency, transfer_reference, authorization_handle, receipt_id,
			broker_operation_id, signal_deadline, signal_payload, signal_received_at,
			current_step, reconcile_attempts, manual_review, error_msg, version,
			created_at, updated_at, completed_at, deadline_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		inst.WorkflowID, inst.CorrelationID, inst.Kind, inst.Status, inst.UserID, inst.AccountKey,
		inst.Amount, inst.Currency, inst.TransferReference, inst.AuthorizationHandle, inst.ReceiptID,
		inst.BrokerOperationID, inst.SignalDeadline, inst.SignalPayload, inst.SignalReceivedAt,
		inst.CurrentStep, inst.ReconcileAttempts, inst.ManualReview, inst.ErrorMsg, inst.Version,
		inst.CreatedAt, inst.UpdatedAt, inst.CompletedAt, inst.DeadlineAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fundflow.ErrInstanceAlreadyExists
		}
		return fmt.Errorf("%w: create instance: %v", fundflow.ErrStoreOperationFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	inst.ID = id

	return nil
}

// UpdateInstance updates an existing instance with optimistic locking.
// The caller is expected to have already incremented the version, so the
// WHERE clause matches version-1; zero rows affected on an existing row means
// the conditional update lost a race and is reported as ErrVersionConflict.
func (s *MySQLStore) UpdateInstance(ctx context.Context, inst *fundflow.WorkflowInstance) error {
	query := `
		UPDATE fundflow_instances SET
			status = ?, transfer_reference = ?, authorization_handle = ?, receipt_id = ?,
			broker_operation_id = ?, signal_deadline = ?, signal_payload = ?, signal_received_at = ?,
			current_step = ?, reconcile_attempts = ?, manual_review = ?, error_msg = ?,
			version = ?, updated_at = ?, completed_at = ?, deadline_at = ?
		WHERE workflow_id = ? AND version = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		inst.Status, inst.TransferReference, inst.AuthorizationHandle, inst.ReceiptID,
		inst.BrokerOperationID, inst.SignalDeadline, inst.SignalPayload, inst.SignalReceivedAt,
		inst.CurrentStep, inst.ReconcileAttempts, inst.ManualReview, inst.ErrorMsg,
		inst.Version, time.Now(), inst.CompletedAt, inst.DeadlineAt,
		inst.WorkflowID, inst.Version-1,
	)
	if err != nil {
		return fmt.Errorf("%w: update instance: %v", fundflow.ErrStoreOperationFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		exists, err := s.instanceExists(ctx, inst.WorkflowID)
		if err != nil {
			return err
		}
		if !exists {
			return fundflow.ErrInstanceNotFound
		}
		return fundflow.ErrVersionConflict
	}

	inst.UpdatedAt = time.Now()

	return nil
}

// GetInstance retrieves an instance by its workflow id.
func (s *MySQLStore) GetInstance(ctx context.Context, workflowID string) (*fundflow.WorkflowInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM fundflow_instances WHERE workflow_id = ?`, instanceColumns)
	return s.queryInstance(ctx, query, workflowID)
}

// GetInstanceByCorrelationID retrieves an instance by its correlation id.
func (s *MySQLStore) GetInstanceByCorrelationID(ctx context.Context, correlationID string) (*fundflow.WorkflowInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM fundflow_instances WHERE correlation_id = ?`, instanceColumns)
	return s.queryInstance(ctx, query, correlationID)
}

// HasActive reports whether any non-terminal instance other than
// excludeWorkflowID exists for the account key.
func (s *MySQLStore) HasActive(ctx context.Context, accountKey, excludeWorkflowID string) (bool, error) {
	terminal := fundflow.TerminalStatuses()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(terminal)), ",")
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM fundflow_instances
		WHERE account_key = ? AND workflow_id != ? AND status NOT IN (%s)
	`, placeholders)

	args := []interface{}{accountKey, excludeWorkflowID}
	for _, status := range terminal {
		args = append(args, status)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: check active instances: %v", fundflow.ErrStoreOperationFailed, err)
	}
	return count > 0, nil
}

// instanceExists checks if an instance exists.
func (s *MySQLStore) instanceExists(ctx context.Context, workflowID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fundflow_instances WHERE workflow_id = ?", workflowID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: check instance exists: %v", fundflow.ErrStoreOperationFailed, err)
	}
	return count > 0, nil
}

// ============================================================================
// History Operations
// ============================================================================

// AppendHistory appends one history event. The unique (workflow_id, seq) key
// turns a sequence collision into ErrDuplicateHistorySeq for the caller to
// retry with a fresh sequence.
func (s *MySQLStore) AppendHistory(ctx context.Context, ev *fundflow.HistoryEvent) error {
	query := `
		INSERT INTO fundflow_history (
			workflow_id, seq, phase, activity, outcome, class, attempts, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		ev.WorkflowID, ev.Seq, ev.Phase, ev.Activity, ev.Outcome, ev.Class, ev.Attempts, ev.Detail, ev.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fundflow.ErrDuplicateHistorySeq
		}
		return fmt.Errorf("%w: append history: %v", fundflow.ErrStoreOperationFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	ev.ID = id

	return nil
}

// GetHistory retrieves the full history of a workflow ordered by sequence.
func (s *MySQLStore) GetHistory(ctx context.Context, workflowID string) ([]*fundflow.HistoryEvent, error) {
	query := `
		SELECT id, workflow_id, seq, phase, activity, outcome, class, attempts, detail, created_at
		FROM fundflow_history
		WHERE workflow_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("%w: get history: %v", fundflow.ErrStoreOperationFailed, err)
	}
	defer rows.Close()

	var events []*fundflow.HistoryEvent
	for rows.Next() {
		ev := &fundflow.HistoryEvent{}
		err := rows.Scan(
			&ev.ID, &ev.WorkflowID, &ev.Seq, &ev.Phase, &ev.Activity, &ev.Outcome,
			&ev.Class, &ev.Attempts, &ev.Detail, &ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan history event: %v", fundflow.ErrStoreOperationFailed, err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate history: %v", fundflow.ErrStoreOperationFailed, err)
	}

	return events, nil
}

// NextHistorySeq returns the next unused sequence number for the workflow.
func (s *MySQLStore) NextHistorySeq(ctx context.Context, workflowID string) (int, error) {
	query := `SELECT COALESCE(MAX(seq), 0) + 1 FROM fundflow_history WHERE workflow_id = ?`

	var next int
	if err := s.db.QueryRowContext(ctx, query, workflowID).Scan(&next); err != nil {
		return 0, fmt.Errorf("%w: next history seq: %v", fundflow.ErrStoreOperationFailed, err)
	}
	return next, nil
}

// ============================================================================
// Reconciliation Queries
// ============================================================================

// GetReconcilable retrieves instances parked in FINALIZATION_TIMEOUT that were
// created after the cutoff and have not exceeded maxAttempts passes.
func (s *MySQLStore) GetReconcilable(ctx context.Context, createdAfter time.Time, maxAttempts, limit int) ([]*fundflow.WorkflowInstance, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM fundflow_instances
		WHERE status = ? AND created_at >= ? AND reconcile_attempts <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`, instanceColumns)

	return s.queryInstances(ctx, query, fundflow.StatusFinalizationTimeout, createdAfter, maxAttempts, limit)
}

// GetExpiredAwaiting retrieves suspended instances whose signal deadline has
// passed as of the given time.
func (s *MySQLStore) GetExpiredAwaiting(ctx context.Context, asOf time.Time, limit int) ([]*fundflow.WorkflowInstance, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM fundflow_instances
		WHERE status = ? AND signal_deadline IS NOT NULL AND signal_deadline <= ?
		ORDER BY signal_deadline ASC
		LIMIT ?
	`, instanceColumns)

	return s.queryInstances(ctx, query, fundflow.StatusAwaitingSignal, asOf, limit)
}

// GetStuck retrieves instances sitting in one of the given statuses with no
// update for longer than olderThan.
func (s *MySQLStore) GetStuck(ctx context.Context, statuses []fundflow.Status, olderThan time.Duration, limit int) ([]*fundflow.WorkflowInstance, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := fmt.Sprintf(`
		SELECT %s FROM fundflow_instances
		WHERE status IN (%s) AND updated_at < ?
		ORDER BY created_at ASC
		LIMIT ?
	`, instanceColumns, placeholders)

	args := make([]interface{}, 0, len(statuses)+2)
	for _, status := range statuses {
		args = append(args, status)
	}
	args = append(args, time.Now().Add(-olderThan), limit)

	return s.queryInstances(ctx, query, args...)
}

// GetOverdue retrieves non-terminal instances whose absolute deadline has
// passed as of the given time.
func (s *MySQLStore) GetOverdue(ctx context.Context, asOf time.Time, limit int) ([]*fundflow.WorkflowInstance, error) {
	terminal := fundflow.TerminalStatuses()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(terminal)), ",")
	query := fmt.Sprintf(`
		SELECT %s FROM fundflow_instances
		WHERE status NOT IN (%s) AND deadline_at IS NOT NULL AND deadline_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`, instanceColumns, placeholders)

	args := make([]interface{}, 0, len(terminal)+2)
	for _, status := range terminal {
		args = append(args, status)
	}
	args = append(args, asOf, limit)

	return s.queryInstances(ctx, query, args...)
}

// ============================================================================
// Admin Queries
// ============================================================================

// ListInstances lists instances with optional filters.
func (s *MySQLStore) ListInstances(ctx context.Context, filter *fundflow.InstanceFilter) ([]*fundflow.WorkflowInstance, int64, error) {
	var conditions []string
	var args []interface{}

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}

	if filter.AccountKey != "" {
		conditions = append(conditions, "account_key = ?")
		args = append(args, filter.AccountKey)
	}

	if filter.ManualReview != nil {
		conditions = append(conditions, "manual_review = ?")
		args = append(args, *filter.ManualReview)
	}

	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.StartTime)
	}

	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.EndTime)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM fundflow_instances %s", whereClause)
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count instances: %v", fundflow.ErrStoreOperationFailed, err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM fundflow_instances
		%s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, instanceColumns, whereClause)

	args = append(args, filter.Limit, filter.Offset)
	instances, err := s.queryInstances(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}

	return instances, total, nil
}

// ============================================================================
// Idempotency Operations
// ============================================================================

// CheckIdempotency checks if an operation was already executed.
func (s *MySQLStore) CheckIdempotency(ctx context.Context, key string) (bool, []byte, error) {
	query := `
		SELECT result FROM fundflow_idempotency
		WHERE idempotency_key = ? AND expires_at > ?
	`

	var result []byte
	err := s.db.QueryRowContext(ctx, query, key, time.Now()).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("%w: check idempotency: %v", fundflow.ErrIdempotencyCheckFailed, err)
	}

	return true, result, nil
}

// MarkIdempotency marks an operation as executed with its result.
func (s *MySQLStore) MarkIdempotency(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	query := `
		INSERT INTO fundflow_idempotency (idempotency_key, result, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE result = VALUES(result), expires_at = VALUES(expires_at)
	`

	now := time.Now()
	expiresAt := now.Add(ttl)

	_, err := s.db.ExecContext(ctx, query, key, result, now, expiresAt)
	if err != nil {
		return fmt.Errorf("%w: mark idempotency: %v", fundflow.ErrStoreOperationFailed, err)
	}

	return nil
}

// DeleteExpiredIdempotency removes expired idempotency records.
func (s *MySQLStore) DeleteExpiredIdempotency(ctx context.Context) (int64, error) {
	query := `DELETE FROM fundflow_idempotency WHERE expires_at < ?`

	result, err := s.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired idempotency: %v", fundflow.ErrStoreOperationFailed, err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return count, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

// queryInstance runs a single-row instance query.
func (s *MySQLStore) queryInstance(ctx context.Context, query string, args ...interface{}) (*fundflow.WorkflowInstance, error) {
	inst := &fundflow.WorkflowInstance{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&inst.ID, &inst.WorkflowID, &inst.CorrelationID, &inst.Kind, &inst.Status, &inst.UserID, &inst.AccountKey,
		&inst.Amount, &inst.Currency, &inst.TransferReference, &inst.AuthorizationHandle, &inst.ReceiptID,
		&inst.BrokerOperationID, &inst.SignalDeadline, &inst.SignalPayload, &inst.SignalReceivedAt,
		&inst.CurrentStep, &inst.ReconcileAttempts, &inst.ManualReview, &inst.ErrorMsg, &inst.Version,
		&inst.CreatedAt, &inst.UpdatedAt, &inst.CompletedAt, &inst.DeadlineAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fundflow.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("%w: get instance: %v", fundflow.ErrStoreOperationFailed, err)
	}

	return inst, nil
}

// queryInstances is a helper function to query multiple instances.
func (s *MySQLStore) queryInstances(ctx context.Context, query string, args ...interface{}) ([]*fundflow.WorkflowInstance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query instances: %v", fundflow.ErrStoreOperationFailed, err)
	}
	defer rows.Close()

	var instances []*fundflow.WorkflowInstance
	for rows.Next() {
		inst := &fundflow.WorkflowInstance{}
		err := rows.Scan(
			&inst.ID, &inst.WorkflowID, &inst.CorrelationID, &inst.Kind, &inst.Status, &inst.UserID, &inst.AccountKey,
			&inst.Amount, &inst.Currency, &inst.TransferReference, &inst.AuthorizationHandle, &inst.ReceiptID,
			&inst.BrokerOperationID, &inst.SignalDeadline, &inst.SignalPayload, &inst.SignalReceivedAt,
			&inst.CurrentStep, &inst.ReconcileAttempts, &inst.ManualReview, &inst.ErrorMsg, &inst.Version,
			&inst.CreatedAt, &inst.UpdatedAt, &inst.CompletedAt, &inst.DeadlineAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan instance: %v", fundflow.ErrStoreOperationFailed, err)
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate instances: %v", fundflow.ErrStoreOperationFailed, err)
	}

	return instances, nil
}

// isDuplicateKeyError checks if the error is a MySQL duplicate key error.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// MySQL error code 1062 is for duplicate entry
	return strings.Contains(err.Error(), "Duplicate entry") ||
		strings.Contains(err.Error(), "1062")
}

// Ensure MySQLStore implements the instance store interface.
var _ fundflow.InstanceStore = (*MySQLStore)(nil)
