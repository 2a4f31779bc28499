package models

import "fmt"

// NotFoundError reports an unknown request or ride id.
type NotFoundError struct {
	Kind string // "request" or "ride"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

// InvalidOfferError reports a non-positive or otherwise malformed price.
type InvalidOfferError struct {
	Price  float64
	Reason string
}

func (e *InvalidOfferError) Error() string {
	return fmt.Sprintf("invalid price %.2f: %s", e.Price, e.Reason)
}

// InvalidTransitionError reports an operation attempted on a state machine
// that is not in the required state. The entity stays unchanged.
type InvalidTransitionError struct {
	Entity string // "request" or "ride"
	ID     string
	From   string
	Op     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %s", e.Op, e.Entity, e.ID, e.From)
}

// WalletInsufficientError reports a balance below the threshold the
// attempted operation needs.
type WalletInsufficientError struct {
	OwnerID  string
	Balance  float64
	Required float64
}

func (e *WalletInsufficientError) Error() string {
	return fmt.Sprintf("wallet %s has %.2f, needs %.2f", e.OwnerID, e.Balance, e.Required)
}

// RideAlreadyActiveError reports a second concurrent ride for an actor.
type RideAlreadyActiveError struct {
	ActorID string
	RideID  string
}

func (e *RideAlreadyActiveError) Error() string {
	return fmt.Sprintf("actor %s already has active ride %s", e.ActorID, e.RideID)
}
