package fundflow

import "errors"

// Workflow errors
var (
	// ErrInstanceNotFound indicates the workflow instance does not exist
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrInstanceAlreadyExists indicates an instance with the same correlation id already exists
	ErrInstanceAlreadyExists = errors.New("workflow instance already exists")

	// ErrInvalidTransition indicates an invalid workflow state transition
	ErrInvalidTransition = errors.New("invalid workflow state transition")

	// ErrInstanceDeadlineExceeded indicates the instance exceeded its overall deadline
	ErrInstanceDeadlineExceeded = errors.New("workflow instance deadline exceeded")

	// ErrInvalidRequest indicates the request failed boundary validation
	ErrInvalidRequest = errors.New("invalid request")
)

// Signal errors
var (
	// ErrSignalNotAccepted indicates the workflow is no longer accepting input
	ErrSignalNotAccepted = errors.New("workflow no longer accepting input")

	// ErrSignalDeadlineElapsed indicates the authorization deadline passed without a signal
	ErrSignalDeadlineElapsed = errors.New("authorization signal not received within deadline")
)

// Activity errors
var (
	// ErrActivityNotFound indicates the activity is not part of the saga definition
	ErrActivityNotFound = errors.New("activity not found")

	// ErrActivityTimeout indicates a single activity attempt timed out
	ErrActivityTimeout = errors.New("activity timeout")

	// ErrRetriesExhausted indicates the retry policy allowance has been spent
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Initiation errors
var (
	// ErrUserInvalid indicates the user failed validation
	ErrUserInvalid = errors.New("user validation failed")

	// ErrRestricted indicates a restriction blocks the operation
	ErrRestricted = errors.New("operation restricted")

	// ErrOperationInProgress indicates another workflow already holds the account
	ErrOperationInProgress = errors.New("top-up or withdraw already in progress")
)

// Lock errors
var (
	// ErrLockAcquisitionFailed indicates lock acquisition failed
	ErrLockAcquisitionFailed = errors.New("lock acquisition failed")

	// ErrLockNotHeld indicates the lock is not held
	ErrLockNotHeld = errors.New("lock not held")

	// ErrLockExtensionFailed indicates lock extension failed
	ErrLockExtensionFailed = errors.New("lock extension failed")

	// ErrLockReleaseFailed indicates lock release failed
	ErrLockReleaseFailed = errors.New("lock release failed")
)

// Compensation errors
var (
	// ErrCompensationFailed indicates a compensation activity failed
	ErrCompensationFailed = errors.New("compensation failed")

	// ErrCompensationExhausted indicates compensation spent its retry allowance
	ErrCompensationExhausted = errors.New("compensation retries exhausted")
)

// Collaborator errors, matched by activity non-retryable sets
var (
	// ErrTransferRejected indicates the bank explicitly rejected the transfer
	ErrTransferRejected = errors.New("transfer rejected")

	// ErrInsufficientFunds indicates the account balance does not cover the amount
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAuthorization indicates the authorization payload was rejected
	ErrInvalidAuthorization = errors.New("invalid authorization payload")

	// ErrAccountSuspended indicates the account is suspended
	ErrAccountSuspended = errors.New("account suspended")

	// ErrBrokerUnauthorized indicates the broker token was rejected
	ErrBrokerUnauthorized = errors.New("broker token unauthorized")

	// ErrBrokerRejected indicates the broker explicitly rejected the operation
	ErrBrokerRejected = errors.New("broker operation rejected")
)

// Store errors
var (
	// ErrVersionConflict indicates optimistic lock version conflict
	ErrVersionConflict = errors.New("version conflict")

	// ErrStoreOperationFailed indicates a store operation failed
	ErrStoreOperationFailed = errors.New("store operation failed")

	// ErrDuplicateHistorySeq indicates a history append reused a sequence number
	ErrDuplicateHistorySeq = errors.New("duplicate history sequence")
)

// Circuit breaker errors
var (
	// ErrCircuitOpen indicates the circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Idempotency errors
var (
	// ErrIdempotencyCheckFailed indicates idempotency check failed
	ErrIdempotencyCheckFailed = errors.New("idempotency check failed")
)

// Config errors
var (
	// ErrInvalidConfig indicates the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")
)
