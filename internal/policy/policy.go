// Package policy decides how the mock counterparty reacts during a
// negotiation. It is the seam a production deployment replaces with real
// rider/driver choice; nothing in the state machine depends on the
// randomized behavior here.
package policy

import (
	"math/rand"

	"github.com/example/ride-negotiation/internal/models"
)

type Outcome int

const (
	// Silence leaves the offer standing with no response.
	Silence Outcome = iota
	Accept
	Counter
	Reject
)

// Decision is the counterparty's reaction. CounterPrice is only set for
// Counter outcomes.
type Decision struct {
	Outcome      Outcome
	CounterPrice float64
}

// Policy produces the counterparty side of a negotiation. Implementations
// must be pure functions of their inputs and injected randomness so tests
// can seed them.
type Policy interface {
	// RespondToOffer decides how the rider reacts to a driver's offer:
	// accept, counter below the offer, or stay silent.
	RespondToOffer(req models.RideRequest, offer models.Offer) Decision
	// RespondToCounter decides how the driver reacts to a rider's
	// counter: accept it or reject it outright.
	RespondToCounter(req models.RideRequest, counter models.CounterOffer) Decision
}

// RandomPolicy reproduces the simulated counterparty behavior of the mock
// client: riders counter 30% of the time, accept 40%, and ignore the rest;
// drivers accept half of all counters.
type RandomPolicy struct {
	rnd *rand.Rand

	CounterProb       float64 // rider counters a driver offer
	AcceptProb        float64 // rider accepts a driver offer
	CounterAcceptProb float64 // driver accepts a rider counter
	MinPrice          float64 // floor for generated counter prices
}

func NewRandomPolicy(src rand.Source, minPrice float64) *RandomPolicy {
	return &RandomPolicy{
		rnd:               rand.New(src),
		CounterProb:       0.3,
		AcceptProb:        0.4,
		CounterAcceptProb: 0.5,
		MinPrice:          minPrice,
	}
}

func (p *RandomPolicy) RespondToOffer(req models.RideRequest, offer models.Offer) Decision {
	roll := p.rnd.Float64()
	switch {
	case roll < p.CounterProb:
		// Shave 1..3 off the offer, never below the configured floor.
		price := offer.Price - float64(p.rnd.Intn(3)+1)
		if price < p.MinPrice {
			price = p.MinPrice
		}
		if price >= offer.Price {
			// Offer already at or below the floor; a counter that does not
			// move the price is no counter at all.
			return Decision{Outcome: Silence}
		}
		return Decision{Outcome: Counter, CounterPrice: price}
	case roll < p.CounterProb+p.AcceptProb:
		return Decision{Outcome: Accept}
	default:
		return Decision{Outcome: Silence}
	}
}

func (p *RandomPolicy) RespondToCounter(req models.RideRequest, counter models.CounterOffer) Decision {
	if p.rnd.Float64() < p.CounterAcceptProb {
		return Decision{Outcome: Accept}
	}
	return Decision{Outcome: Reject}
}
