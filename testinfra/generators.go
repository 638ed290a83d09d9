package testinfra

import (
	"pgregory.net/rapid"

	"fundflow"
)

// KindGenerator generates money movement kinds.
func KindGenerator() *rapid.Generator[fundflow.Kind] {
	return rapid.SampledFrom([]fundflow.Kind{fundflow.KindTopUp, fundflow.KindWithdraw})
}

// CurrencyGenerator generates supported ISO currency codes.
func CurrencyGenerator() *rapid.Generator[string] {
	return rapid.SampledFrom([]string{"AZN", "USD", "EUR"})
}

// UserIDGenerator generates valid user identifiers.
func UserIDGenerator() *rapid.Generator[string] {
	return rapid.StringMatching(`^user-[a-z0-9]{6}$`)
}

// AmountGenerator generates transfer amounts in minor units.
func AmountGenerator() *rapid.Generator[int64] {
	return rapid.Int64Range(1, 1_000_000)
}

// StartRequestGenerator generates valid start requests bound to the given
// account key.
func StartRequestGenerator(accountKey string) *rapid.Generator[fundflow.StartRequest] {
	return rapid.Custom(func(t *rapid.T) fundflow.StartRequest {
		return fundflow.StartRequest{
			Kind:       KindGenerator().Draw(t, "kind"),
			UserID:     UserIDGenerator().Draw(t, "user_id"),
			AccountKey: accountKey,
			Amount:     AmountGenerator().Draw(t, "amount"),
			Currency:   CurrencyGenerator().Draw(t, "currency"),
		}
	})
}

// RejectableGenerator generates behaviors for activities whose scripted
// failures must be permanent rejections. Weighted toward success so most
// runs exercise the later stages of the pipeline.
func RejectableGenerator() *rapid.Generator[Behavior] {
	return rapid.SampledFrom([]Behavior{BehaviorOK, BehaviorOK, BehaviorOK, BehaviorReject})
}

// FinalizeBehaviorGenerator generates finalize behaviors. Finalize is the
// only call allowed to hang, since its execution runs under a fail fast
// policy that parks the instance instead of retrying.
func FinalizeBehaviorGenerator() *rapid.Generator[Behavior] {
	return rapid.SampledFrom([]Behavior{BehaviorOK, BehaviorOK, BehaviorReject, BehaviorHang})
}

// FailureScriptGenerator generates failure scripts covering the rejection,
// hang and slow verification paths without ever producing a transient
// infrastructure failure, so scripted runs never sit in retry backoff.
func FailureScriptGenerator() *rapid.Generator[FailureScript] {
	return rapid.Custom(func(t *rapid.T) FailureScript {
		return FailureScript{
			ValidateUser:   RejectableGenerator().Draw(t, "validate_user"),
			Restrictions:   RejectableGenerator().Draw(t, "restrictions"),
			Initiate:       RejectableGenerator().Draw(t, "initiate"),
			Finalize:       FinalizeBehaviorGenerator().Draw(t, "finalize"),
			FinalizeDebits: rapid.Bool().Draw(t, "finalize_debits"),
			BrokerCreate:   RejectableGenerator().Draw(t, "broker_create"),
			Reverse:        RejectableGenerator().Draw(t, "reverse"),
			PendingPasses:  rapid.IntRange(0, 2).Draw(t, "pending_passes"),
		}
	})
}

// HappyScript returns a script where every collaborator call succeeds.
func HappyScript() FailureScript {
	return FailureScript{}
}

// SignalPlan describes how a generated run delivers the authorization
// signal for an awaiting instance.
type SignalPlan int

const (
	// SignalCorrect delivers the challenge the bank issued.
	SignalCorrect SignalPlan = iota
	// SignalWrong delivers a well formed but mismatched challenge.
	SignalWrong
	// SignalNone never delivers a signal and lets the deadline elapse.
	SignalNone
)

func (p SignalPlan) String() string {
	switch p {
	case SignalCorrect:
		return "correct"
	case SignalWrong:
		return "wrong"
	case SignalNone:
		return "none"
	default:
		return "unknown"
	}
}

// SignalPlanGenerator generates signal plans, weighted toward correct
// delivery so most runs reach finalization.
func SignalPlanGenerator() *rapid.Generator[SignalPlan] {
	return rapid.SampledFrom([]SignalPlan{SignalCorrect, SignalCorrect, SignalCorrect, SignalWrong, SignalNone})
}
