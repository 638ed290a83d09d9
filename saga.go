package fundflow

import "time"

// Kind is the saga kind: the direction money moves between the bank account
// and the brokerage.
type Kind string

const (
	// KindTopUp moves money from the bank account into the brokerage
	// (transfer debit followed by a broker deposit)
	KindTopUp Kind = "topup"
	// KindWithdraw moves money from the brokerage back to the bank account
	// (broker redemption keyed to a transfer credit)
	KindWithdraw Kind = "withdraw"
)

// BrokerSide returns the broker operation side for this kind.
func (k Kind) BrokerSide() string {
	if k == KindWithdraw {
		return "redemption"
	}
	return "deposit"
}

// StartRequest starts a new workflow instance. CorrelationID may be supplied
// by the caller for idempotent creation; when empty the engine assigns one.
type StartRequest struct {
	Kind          Kind   `validate:"required,oneof=topup withdraw"`
	CorrelationID string `validate:"omitempty,uuid4"`
	UserID        string `validate:"required,max=64"`
	AccountKey    string `validate:"required,max=64"`
	Amount        int64  `validate:"required,gt=0"`
	Currency      string `validate:"required,len=3,uppercase"`
}

// StartResult is returned by a successful start. The instance is suspended
// awaiting the authorization signal when Status is AWAITING_SIGNAL; the
// authorization handle identifies the challenge the caller must answer.
type StartResult struct {
	CorrelationID       string
	WorkflowID          string
	Status              Status
	AuthorizationHandle string
	SignalDeadline      time.Time
}

// SignalRequest delivers the out-of-band authorization payload (OTP or SIMA
// approval) for a suspended instance.
type SignalRequest struct {
	CorrelationID string `validate:"required,uuid4"`
	Payload       string `validate:"required,min=4,max=128"`
}

// Snapshot is the read-only view of an instance exposed by query and signal.
type Snapshot struct {
	CorrelationID     string
	WorkflowID        string
	Kind              Kind
	Status            Status
	AccountKey        string
	Amount            int64
	Currency          string
	TransferReference string
	BrokerOperationID string
	ManualReview      bool
	ErrorMsg          string
	SignalDeadline    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// Done returns true once the instance reached a terminal status.
func (s *Snapshot) Done() bool {
	return IsTerminal(s.Status)
}
