package models

import "fmt"

// AuthorizationStatus is the lifecycle state of an agent authorization.
type AuthorizationStatus string

const (
	AuthActive  AuthorizationStatus = "active"
	AuthPaused  AuthorizationStatus = "paused"
	AuthRevoked AuthorizationStatus = "revoked"
	AuthExpired AuthorizationStatus = "expired"
)

// TransactionStatus is the lifecycle state of a spend transaction.
type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxAuthorized TransactionStatus = "authorized"
	TxSettling   TransactionStatus = "settling"
	TxCompleted  TransactionStatus = "completed"
	TxFailed     TransactionStatus = "failed"
	TxRejected   TransactionStatus = "rejected"
)

// IntentStatus is the lifecycle state of a funding intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentConfirmed IntentStatus = "confirmed"
	IntentFailed    IntentStatus = "failed"
	IntentTimeout   IntentStatus = "timeout"
)

// EscrowStatus is the lifecycle state of an escrow balance.
type EscrowStatus string

const (
	EscrowPendingDeposit EscrowStatus = "pending_deposit"
	EscrowActive         EscrowStatus = "active"
	EscrowDepleted       EscrowStatus = "depleted"
	EscrowExpired        EscrowStatus = "expired"
)

// Transition tables. A status may only advance along a listed edge;
// everything else is an illegal transition and must be rejected, never
// written.
var (
	authTransitions = map[AuthorizationStatus][]AuthorizationStatus{
		AuthActive: {AuthPaused, AuthRevoked, AuthExpired},
		AuthPaused: {AuthActive, AuthRevoked, AuthExpired},
	}
	txTransitions = map[TransactionStatus][]TransactionStatus{
		TxPending:    {TxAuthorized, TxRejected, TxFailed},
		TxAuthorized: {TxSettling, TxCompleted, TxFailed},
		TxSettling:   {TxCompleted, TxFailed},
	}
	intentTransitions = map[IntentStatus][]IntentStatus{
		IntentPending: {IntentConfirmed, IntentFailed, IntentTimeout},
	}
	escrowTransitions = map[EscrowStatus][]EscrowStatus{
		EscrowPendingDeposit: {EscrowActive, EscrowExpired},
		EscrowActive:         {EscrowDepleted, EscrowExpired},
	}
)

func contains[S ~string](list []S, s S) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether an authorization may move from one status
// to another.
func (s AuthorizationStatus) CanTransition(to AuthorizationStatus) bool {
	return contains(authTransitions[s], to)
}

func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	return contains(txTransitions[s], to)
}

func (s IntentStatus) CanTransition(to IntentStatus) bool {
	return contains(intentTransitions[s], to)
}

func (s EscrowStatus) CanTransition(to EscrowStatus) bool {
	return contains(escrowTransitions[s], to)
}

// Terminal reports whether a transaction status admits no further edges.
func (s TransactionStatus) Terminal() bool {
	return len(txTransitions[s]) == 0
}

// ErrIllegalTransition describes a rejected status change.
type ErrIllegalTransition struct {
	Entity string
	From   string
	To     string
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("%s status cannot move %s -> %s", e.Entity, e.From, e.To)
}
