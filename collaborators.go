package fundflow

import "context"

// The engine consumes these collaborator contracts and never embeds their
// logic. Implementations translate their own error vocabulary into the
// classified sentinels of this package (ErrTransferRejected,
// ErrInsufficientFunds, ...) or wrap errors in a Failure directly.

// UserContext is the validated user identity returned by the directory.
type UserContext struct {
	UserID   string
	FullName string
}

// UserDirectory validates that a user exists and is eligible to move money.
type UserDirectory interface {
	// ValidateUser returns the user context or a fatal error
	ValidateUser(ctx context.Context, userID string) (*UserContext, error)
}

// RestrictionChecker checks business restrictions for an account operation.
// Failures are fatal and never retried.
type RestrictionChecker interface {
	// CheckRestrictions returns nil when the operation is allowed
	CheckRestrictions(ctx context.Context, req *StartRequest) error
}

// TransferIntent is the result of transfer initiation. Reference is the
// bank-side transfer identifier, stable for status lookups and reversal;
// Authorization is the opaque handle consumed by Finalize. Initiation also
// triggers out-of-band delivery of the authorization challenge to the user.
type TransferIntent struct {
	Reference     string
	Authorization string
}

// TransferReceipt confirms a finalized transfer.
type TransferReceipt struct {
	Reference string
	ReceiptID string
}

// TransferState is the authoritative transfer status reported by the bank.
type TransferState string

const (
	// TransferConfirmed means the debit completed
	TransferConfirmed TransferState = "CONFIRMED"
	// TransferPending means the transfer is still in flight
	TransferPending TransferState = "PENDING"
	// TransferFailed means the transfer failed or was rejected
	TransferFailed TransferState = "FAILED"
)

// TransferGateway fronts the core banking transfer APIs.
type TransferGateway interface {
	// InitiateTransfer opens a transfer and requests user authorization.
	// The correlation id doubles as the bank-side idempotency key.
	InitiateTransfer(ctx context.Context, req *StartRequest, correlationID string) (*TransferIntent, error)

	// FinalizeTransfer executes the transfer. This is the irreversible step:
	// once it succeeds the money has moved and only ReverseTransfer undoes it.
	FinalizeTransfer(ctx context.Context, authorization, payload string) (*TransferReceipt, error)

	// VerifyTransferStatus reports the authoritative transfer state,
	// consulted by reconciliation when a finalize attempt timed out
	VerifyTransferStatus(ctx context.Context, reference string) (TransferState, error)

	// ReverseTransfer compensates a finalized transfer
	ReverseTransfer(ctx context.Context, reference, correlationID string) error
}

// BrokerOrder describes a broker deposit or redemption. IdempotencyKey is
// stable per workflow so retries and reconciliation resumes never create a
// second operation.
type BrokerOrder struct {
	IdempotencyKey string
	Side           string
	AccountKey     string
	Amount         int64
	Currency       string
	Reference      string
}

// BrokerReceipt confirms a recorded broker operation.
type BrokerReceipt struct {
	OperationID string
	State       string
}

// BrokerGateway fronts the brokerage APIs.
type BrokerGateway interface {
	// Token returns an auth token, from cache unless force is set.
	// Callers treat ErrBrokerUnauthorized from the next call as cause to
	// re-fetch with force exactly once.
	Token(ctx context.Context, force bool) (string, error)

	// CreateOperation records the deposit or redemption order
	CreateOperation(ctx context.Context, token string, order *BrokerOrder) (*BrokerReceipt, error)
}

// Notification reports a terminal workflow outcome to the user.
type Notification struct {
	CorrelationID string
	UserID        string
	Kind          Kind
	Status        Status
	Amount        int64
	Currency      string
}

// Notifier delivers outcome notifications. Best effort: a notification
// failure never fails the workflow.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// Collaborators bundles the external contracts the engine depends on.
type Collaborators struct {
	Users        UserDirectory
	Restrictions RestrictionChecker
	Transfers    TransferGateway
	Broker       BrokerGateway
	Notifier     Notifier
}

// Validate checks that the required collaborators are present.
// Notifier is optional because notification is best effort.
func (c *Collaborators) Validate() error {
	if c.Users == nil || c.Restrictions == nil || c.Transfers == nil || c.Broker == nil {
		return ErrInvalidConfig
	}
	return nil
}
