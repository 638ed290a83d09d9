package testinfra

import (
	"context"
	"fmt"
	"sync"

	"fundflow"
)

// Behavior scripts how one collaborator call responds.
type Behavior int

const (
	// BehaviorOK performs the call normally
	BehaviorOK Behavior = iota
	// BehaviorReject fails the call with a permanent business rejection
	BehaviorReject
	// BehaviorHang blocks until the activity context times out
	BehaviorHang
)

// String returns the behavior name for rapid labels.
func (b Behavior) String() string {
	switch b {
	case BehaviorReject:
		return "reject"
	case BehaviorHang:
		return "hang"
	default:
		return "ok"
	}
}

// FailureScript scripts the collaborator behavior for one workflow run.
// The zero value is the happy path.
type FailureScript struct {
	ValidateUser Behavior
	Restrictions Behavior
	Initiate     Behavior
	Finalize     Behavior
	// FinalizeDebits controls whether a hanging finalize moved the money
	// before the line died. This is the uncertainty reconciliation exists for.
	FinalizeDebits bool
	BrokerCreate   Behavior
	Reverse        Behavior
	// PendingPasses is how many status verifications report PENDING before
	// the bank commits to a truth.
	PendingPasses int
}

// scriptedTransfer is one transfer the scripted bank knows about.
type scriptedTransfer struct {
	correlationID  string
	reference      string
	kind           fundflow.Kind
	amount         int64
	otp            string
	debited        bool
	reversed       bool
	brokerRecorded bool
}

// ScriptedWorld implements every collaborator contract against an in-memory
// money ledger, with failures injected per the script. It tracks a single
// bank balance and a single portfolio so conservation can be checked exactly.
type ScriptedWorld struct {
	mu        sync.Mutex
	script    FailureScript
	bank      int64
	portfolio int64
	initial   int64
	byAuth    map[string]*scriptedTransfer
	byRef     map[string]*scriptedTransfer
	byCorr    map[string]*scriptedTransfer
	ops       map[string]string // idempotency key -> operation id
	calls     map[string]int
	otpSeq    int
	opSeq     int
}

// NewScriptedWorld creates a world holding bankBalance at the bank and
// portfolioCash at the broker, with collaborator behavior per script.
func NewScriptedWorld(bankBalance, portfolioCash int64, script FailureScript) *ScriptedWorld {
	return &ScriptedWorld{
		script:    script,
		bank:      bankBalance,
		portfolio: portfolioCash,
		initial:   bankBalance + portfolioCash,
		byAuth:    make(map[string]*scriptedTransfer),
		byRef:     make(map[string]*scriptedTransfer),
		byCorr:    make(map[string]*scriptedTransfer),
		ops:       make(map[string]string),
		calls:     make(map[string]int),
	}
}

// Collaborators returns the world wired into every collaborator role.
func (w *ScriptedWorld) Collaborators() fundflow.Collaborators {
	return fundflow.Collaborators{
		Users:        w,
		Restrictions: w,
		Transfers:    w,
		Broker:       w,
		Notifier:     w,
	}
}

// BankBalance returns the current bank balance.
func (w *ScriptedWorld) BankBalance() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bank
}

// PortfolioCash returns the current portfolio cash.
func (w *ScriptedWorld) PortfolioCash() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.portfolio
}

// InitialTotal returns the total amount of money the world started with.
func (w *ScriptedWorld) InitialTotal() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initial
}

// CallCount returns how many times the named collaborator call ran.
func (w *ScriptedWorld) CallCount(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[name]
}

// OTPByAuthorization returns the challenge code issued for an authorization.
func (w *ScriptedWorld) OTPByAuthorization(auth string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.byAuth[auth]
	if !ok {
		return "", false
	}
	return t.otp, true
}

// Debited reports whether the transfer for a correlation id actually moved
// money.
func (w *ScriptedWorld) Debited(correlationID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.byCorr[correlationID]
	return ok && t.debited
}

// InTransit returns the signed amount still unaccounted for the transfer of
// a correlation id.
func (w *ScriptedWorld) InTransit(correlationID string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.byCorr[correlationID]
	if !ok {
		return 0
	}
	return inTransitLocked(t)
}

// inTransitLocked returns the signed amount missing from the ledger for one
// transfer: money debited but neither recorded at the broker nor reversed.
// Positive means the system is short (top-up), negative means it overpaid
// (withdraw).
func inTransitLocked(t *scriptedTransfer) int64 {
	if !t.debited || t.reversed || t.brokerRecorded {
		return 0
	}
	if t.kind == fundflow.KindWithdraw {
		return -t.amount
	}
	return t.amount
}

// InTransitTotal returns the signed total currently missing from the ledger.
func (w *ScriptedWorld) InTransitTotal() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for _, t := range w.byAuth {
		total += inTransitLocked(t)
	}
	return total
}

// Conserved reports whether every unit of money is either in the ledger or
// attributed to an in-transit transfer.
func (w *ScriptedWorld) Conserved() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	var inTransit int64
	for _, t := range w.byAuth {
		inTransit += inTransitLocked(t)
	}
	return w.bank+w.portfolio+inTransit == w.initial
}

// step counts the call and applies the scripted behavior. It returns the
// rejection to surface, or nil when the call should proceed.
func (w *ScriptedWorld) step(ctx context.Context, name string, b Behavior, reject error) error {
	w.mu.Lock()
	w.calls[name]++
	w.mu.Unlock()

	switch b {
	case BehaviorReject:
		return reject
	case BehaviorHang:
		<-ctx.Done()
		return ctx.Err()
	default:
		return nil
	}
}

// ValidateUser implements fundflow.UserDirectory.
func (w *ScriptedWorld) ValidateUser(ctx context.Context, userID string) (*fundflow.UserContext, error) {
	if err := w.step(ctx, "validate_user", w.script.ValidateUser,
		fmt.Errorf("%w: %s", fundflow.ErrUserInvalid, userID)); err != nil {
		return nil, err
	}
	return &fundflow.UserContext{UserID: userID, FullName: "Scripted User"}, nil
}

// CheckRestrictions implements fundflow.RestrictionChecker.
func (w *ScriptedWorld) CheckRestrictions(ctx context.Context, req *fundflow.StartRequest) error {
	return w.step(ctx, "check_restrictions", w.script.Restrictions,
		fmt.Errorf("%w: user %s", fundflow.ErrRestricted, req.UserID))
}

// InitiateTransfer implements fundflow.TransferGateway.
func (w *ScriptedWorld) InitiateTransfer(ctx context.Context, req *fundflow.StartRequest, correlationID string) (*fundflow.TransferIntent, error) {
	reject := fundflow.ErrTransferRejected
	if req.Kind == fundflow.KindTopUp {
		reject = fundflow.ErrInsufficientFunds
	}
	if err := w.step(ctx, "initiate_transfer", w.script.Initiate,
		fmt.Errorf("%w: account %s", reject, req.AccountKey)); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.otpSeq++
	t := &scriptedTransfer{
		correlationID: correlationID,
		reference:     fmt.Sprintf("TRF-%s", correlationID[:8]),
		kind:          req.Kind,
		amount:        req.Amount,
		otp:           fmt.Sprintf("%06d", 200000+w.otpSeq),
	}
	auth := fmt.Sprintf("AUTH-%s", correlationID[:8])
	w.byAuth[auth] = t
	w.byRef[t.reference] = t
	w.byCorr[correlationID] = t
	return &fundflow.TransferIntent{Reference: t.reference, Authorization: auth}, nil
}

// FinalizeTransfer implements fundflow.TransferGateway. A hanging finalize
// applies the debit first when the script says the money moved, which is the
// case reconciliation later resolves as CONFIRMED.
func (w *ScriptedWorld) FinalizeTransfer(ctx context.Context, authorization, payload string) (*fundflow.TransferReceipt, error) {
	w.mu.Lock()
	w.calls["finalize_transfer"]++
	t, ok := w.byAuth[authorization]
	if !ok {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: unknown authorization", fundflow.ErrTransferRejected)
	}
	if t.debited {
		receipt := &fundflow.TransferReceipt{Reference: t.reference, ReceiptID: "RCPT-" + t.reference}
		w.mu.Unlock()
		return receipt, nil
	}

	if payload != t.otp {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: challenge mismatch", fundflow.ErrInvalidAuthorization)
	}

	switch w.script.Finalize {
	case BehaviorReject:
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: finalize refused", fundflow.ErrTransferRejected)
	case BehaviorHang:
		if w.script.FinalizeDebits {
			w.debitLocked(t)
		}
		w.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}

	w.debitLocked(t)
	receipt := &fundflow.TransferReceipt{Reference: t.reference, ReceiptID: "RCPT-" + t.reference}
	w.mu.Unlock()
	return receipt, nil
}

// debitLocked moves the bank-side money for a transfer. Callers hold w.mu.
func (w *ScriptedWorld) debitLocked(t *scriptedTransfer) {
	if t.kind == fundflow.KindWithdraw {
		w.bank += t.amount
	} else {
		w.bank -= t.amount
	}
	t.debited = true
}

// VerifyTransferStatus implements fundflow.TransferGateway. The bank reports
// PENDING for the scripted number of passes, then the actual outcome.
func (w *ScriptedWorld) VerifyTransferStatus(ctx context.Context, reference string) (fundflow.TransferState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls["verify_transfer"]++

	if w.script.PendingPasses > 0 {
		w.script.PendingPasses--
		return fundflow.TransferPending, nil
	}
	t, ok := w.byRef[reference]
	if !ok || !t.debited {
		return fundflow.TransferFailed, nil
	}
	return fundflow.TransferConfirmed, nil
}

// ReverseTransfer implements fundflow.TransferGateway. Reversing twice is a
// no-op.
func (w *ScriptedWorld) ReverseTransfer(ctx context.Context, reference, correlationID string) error {
	if err := w.step(ctx, "reverse_transfer", w.script.Reverse,
		fmt.Errorf("%w: reversal refused for %s", fundflow.ErrTransferRejected, reference)); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.byRef[reference]
	if !ok || !t.debited {
		return fmt.Errorf("%w: transfer %s not reversible", fundflow.ErrTransferRejected, reference)
	}
	if t.reversed {
		return nil
	}
	if t.kind == fundflow.KindWithdraw {
		w.bank -= t.amount
	} else {
		w.bank += t.amount
	}
	t.reversed = true
	return nil
}

// Token implements fundflow.BrokerGateway.
func (w *ScriptedWorld) Token(ctx context.Context, force bool) (string, error) {
	w.mu.Lock()
	w.calls["broker_token"]++
	w.mu.Unlock()
	return "scripted-token", nil
}

// CreateOperation implements fundflow.BrokerGateway. Operations are
// deduplicated on the idempotency key so a replay never moves money twice.
func (w *ScriptedWorld) CreateOperation(ctx context.Context, token string, order *fundflow.BrokerOrder) (*fundflow.BrokerReceipt, error) {
	w.mu.Lock()
	w.calls["broker_create"]++
	if opID, ok := w.ops[order.IdempotencyKey]; ok {
		w.mu.Unlock()
		return &fundflow.BrokerReceipt{OperationID: opID, State: "SETTLED"}, nil
	}
	w.mu.Unlock()

	switch w.script.BrokerCreate {
	case BehaviorReject:
		return nil, fmt.Errorf("%w: %s refused", fundflow.ErrBrokerRejected, order.Side)
	case BehaviorHang:
		<-ctx.Done()
		return nil, ctx.Err()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if order.Side == "redemption" {
		w.portfolio -= order.Amount
	} else {
		w.portfolio += order.Amount
	}
	if t, ok := w.byRef[order.Reference]; ok {
		t.brokerRecorded = true
	}
	w.opSeq++
	opID := fmt.Sprintf("OP-%04d", w.opSeq)
	w.ops[order.IdempotencyKey] = opID
	return &fundflow.BrokerReceipt{OperationID: opID, State: "SETTLED"}, nil
}

// Notify implements fundflow.Notifier.
func (w *ScriptedWorld) Notify(ctx context.Context, n *fundflow.Notification) error {
	w.mu.Lock()
	w.calls["notify"]++
	w.mu.Unlock()
	return nil
}

var (
	_ fundflow.UserDirectory      = (*ScriptedWorld)(nil)
	_ fundflow.RestrictionChecker = (*ScriptedWorld)(nil)
	_ fundflow.TransferGateway    = (*ScriptedWorld)(nil)
	_ fundflow.BrokerGateway      = (*ScriptedWorld)(nil)
	_ fundflow.Notifier           = (*ScriptedWorld)(nil)
)
