// Package negotiation owns the open ride-request pool and the
// offer/counter-offer protocol that turns a priced request into an agreed
// ride.
//
// Request state machine:
//
//	searching --driver offer--> offer_sent
//	offer_sent --rider accepts--> matched (removed from pool)
//	offer_sent --rider counters--> counter_received
//	counter_received --driver accepts counter--> matched
//	counter_received --driver re-offers--> offer_sent
//	any non-terminal --cancel--> cancelled
//
// The rider is debited the agreed price the moment a match happens, never
// at completion.
package negotiation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/observability"
	"github.com/example/ride-negotiation/internal/policy"
	"github.com/example/ride-negotiation/internal/wallet"
)

// Notifier receives human-readable events for the client feed.
type Notifier interface {
	Emit(message string, category models.NotificationCategory) models.Notification
}

// RideStarter takes ownership of an agreed ride. It must reject a second
// concurrent ride for either actor with RideAlreadyActiveError.
type RideStarter interface {
	Start(ride *models.AgreedRide) error
}

type Config struct {
	MinRidePrice  float64       // floor for a rider's initial price
	OfferFloor    float64       // driver balance required to make offers
	ResponseDelay time.Duration // simulated latency before the mock counterparty reacts
}

// Engine manages all open requests. One mutex serializes every mutation;
// the only asynchrony is the scheduled counterparty response, of which at
// most one is in flight per request.
type Engine struct {
	cfg    Config
	ledger *wallet.Ledger
	sink   Notifier
	policy policy.Policy
	rides  RideStarter

	mu       sync.Mutex
	requests map[string]*models.RideRequest
	offers   map[string]*models.Offer
	counters map[string]*models.CounterOffer
	pending  map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewEngine(cfg Config, ledger *wallet.Ledger, sink Notifier, pol policy.Policy, rides RideStarter) *Engine {
	return &Engine{
		cfg:      cfg,
		ledger:   ledger,
		sink:     sink,
		policy:   pol,
		rides:    rides,
		requests: make(map[string]*models.RideRequest),
		offers:   make(map[string]*models.Offer),
		counters: make(map[string]*models.CounterOffer),
		pending:  make(map[string]context.CancelFunc),
	}
}

// CreateRequest opens a ride request in the pool.
func (e *Engine) CreateRequest(rider models.Party, pickup, destination models.Place, price float64) (models.RideRequest, error) {
	if price < e.cfg.MinRidePrice {
		return models.RideRequest{}, &models.InvalidOfferError{
			Price:  price,
			Reason: fmt.Sprintf("price must be at least %.2f", e.cfg.MinRidePrice),
		}
	}
	req := &models.RideRequest{
		ID:           uuid.NewString(),
		RiderID:      rider.ID,
		RiderName:    rider.Name,
		RiderRating:  rider.Rating,
		Pickup:       pickup,
		Destination:  destination,
		OfferedPrice: price,
		Status:       models.StatusSearching,
		CreatedAt:    time.Now(),
	}
	e.mu.Lock()
	e.requests[req.ID] = req
	e.mu.Unlock()
	observability.RequestsTotal.Inc()
	e.sink.Emit("Searching for drivers...", models.CategoryInfo)
	return *req, nil
}

// SubmitOffer records a driver's offer against a request. A new offer
// replaces any prior one outright; a re-offer from counter_received must
// price strictly below the driver's prior offer. The mock counterparty
// response is scheduled after the configured delay.
func (e *Engine) SubmitOffer(requestID string, driver models.Party, price float64) (models.Offer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.requests[requestID]
	if !ok {
		return models.Offer{}, &models.NotFoundError{Kind: "request", ID: requestID}
	}
	if req.Status.Terminal() {
		return models.Offer{}, &models.InvalidTransitionError{Entity: "request", ID: requestID, From: string(req.Status), Op: "offer on"}
	}
	if price <= 0 {
		e.sink.Emit("Invalid offer price.", models.CategoryWarning)
		return models.Offer{}, &models.InvalidOfferError{Price: price, Reason: "price must be > 0"}
	}
	if req.Status == models.StatusCounterReceived {
		if prev := e.offers[requestID]; prev != nil && price >= prev.Price {
			return models.Offer{}, &models.InvalidOfferError{Price: price, Reason: "re-offer must be below your previous offer"}
		}
	}
	if !e.ledger.IsSufficient(driver.ID, e.cfg.OfferFloor) {
		e.sink.Emit("Insufficient wallet balance. Please top up to make offers.", models.CategoryWarning)
		return models.Offer{}, &models.WalletInsufficientError{
			OwnerID:  driver.ID,
			Balance:  e.ledger.Balance(driver.ID),
			Required: e.cfg.OfferFloor,
		}
	}

	e.cancelPendingLocked(requestID)
	offer := &models.Offer{
		ID:           uuid.NewString(),
		RequestID:    requestID,
		DriverID:     driver.ID,
		DriverName:   driver.Name,
		DriverRating: driver.Rating,
		Vehicle:      driver.Vehicle,
		Plate:        driver.Plate,
		Price:        price,
		CreatedAt:    time.Now(),
	}
	e.offers[requestID] = offer
	delete(e.counters, requestID)
	req.Status = models.StatusOfferSent

	observability.OffersTotal.Inc()
	e.sink.Emit(fmt.Sprintf("Offer of $%.2f sent for %s's ride.", price, req.RiderName), models.CategoryInfo)
	e.scheduleOfferResponse(requestID, offer.ID)
	return *offer, nil
}

// AcceptOffer is the rider accepting the standing driver offer. The rider
// is debited the offer price immediately; the request leaves the pool.
func (e *Engine) AcceptOffer(requestID string) (models.AgreedRide, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.requests[requestID]
	if !ok {
		return models.AgreedRide{}, &models.NotFoundError{Kind: "request", ID: requestID}
	}
	if req.Status != models.StatusOfferSent {
		return models.AgreedRide{}, &models.InvalidTransitionError{Entity: "request", ID: requestID, From: string(req.Status), Op: "accept offer on"}
	}
	offer := e.offers[requestID]
	e.cancelPendingLocked(requestID)
	ride, err := e.matchLocked(req, offer, offer.Price)
	if err != nil {
		return models.AgreedRide{}, err
	}
	e.sink.Emit(fmt.Sprintf("Accepted offer from %s for $%.2f.", offer.DriverName, offer.Price), models.CategorySuccess)
	return *ride, nil
}

// SubmitCounter is the rider countering the standing driver offer. The
// counter must move the negotiation down. The mock driver's
// accept-or-reject is scheduled after the configured delay.
func (e *Engine) SubmitCounter(requestID string, price float64) (models.CounterOffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.requests[requestID]
	if !ok {
		return models.CounterOffer{}, &models.NotFoundError{Kind: "request", ID: requestID}
	}
	if req.Status != models.StatusOfferSent {
		return models.CounterOffer{}, &models.InvalidTransitionError{Entity: "request", ID: requestID, From: string(req.Status), Op: "counter on"}
	}
	offer := e.offers[requestID]
	if price <= 0 || price >= offer.Price {
		e.sink.Emit("Invalid counter offer price.", models.CategoryWarning)
		return models.CounterOffer{}, &models.InvalidOfferError{Price: price, Reason: "counter must be above zero and below the current offer"}
	}

	e.cancelPendingLocked(requestID)
	counter := &models.CounterOffer{
		ID:        uuid.NewString(),
		RequestID: requestID,
		OfferID:   offer.ID,
		Side:      models.CounterByRider,
		Price:     price,
		CreatedAt: time.Now(),
	}
	e.counters[requestID] = counter
	req.Status = models.StatusCounterReceived

	observability.CountersTotal.Inc()
	e.sink.Emit(fmt.Sprintf("Sent counter offer of $%.2f to %s.", price, offer.DriverName), models.CategoryInfo)
	e.scheduleCounterResponse(requestID, counter.ID)
	return *counter, nil
}

// AcceptCounter is the driver accepting the rider's counter. The agreed
// price is the counter price.
func (e *Engine) AcceptCounter(requestID string) (models.AgreedRide, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.requests[requestID]
	if !ok {
		return models.AgreedRide{}, &models.NotFoundError{Kind: "request", ID: requestID}
	}
	if req.Status != models.StatusCounterReceived {
		return models.AgreedRide{}, &models.InvalidTransitionError{Entity: "request", ID: requestID, From: string(req.Status), Op: "accept counter on"}
	}
	offer := e.offers[requestID]
	counter := e.counters[requestID]
	e.cancelPendingLocked(requestID)
	ride, err := e.matchLocked(req, offer, counter.Price)
	if err != nil {
		return models.AgreedRide{}, err
	}
	e.sink.Emit(fmt.Sprintf("Accepted %s's counter offer of $%.2f.", req.RiderName, counter.Price), models.CategorySuccess)
	return *ride, nil
}

// CancelRequest cancels a request from any non-terminal state. A pending
// counterparty response is interrupted before it can apply side effects.
func (e *Engine) CancelRequest(requestID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.requests[requestID]
	if !ok {
		return &models.NotFoundError{Kind: "request", ID: requestID}
	}
	e.cancelPendingLocked(requestID)
	req.Status = models.StatusCancelled
	delete(e.requests, requestID)
	delete(e.offers, requestID)
	delete(e.counters, requestID)
	e.sink.Emit("Ride request cancelled.", models.CategoryWarning)
	return nil
}

// Get returns a copy of an open request.
func (e *Engine) Get(requestID string) (models.RideRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.requests[requestID]
	if !ok {
		return models.RideRequest{}, &models.NotFoundError{Kind: "request", ID: requestID}
	}
	return *req, nil
}

// CurrentOffer returns a copy of the standing offer for a request.
func (e *Engine) CurrentOffer(requestID string) (models.Offer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o := e.offers[requestID]; o != nil {
		return *o, true
	}
	return models.Offer{}, false
}

// OpenRequests returns a snapshot of the pool, oldest first.
func (e *Engine) OpenRequests() []models.RideRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.RideRequest, 0, len(e.requests))
	for _, req := range e.requests {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Wait blocks until all scheduled counterparty responses have settled.
// Used by tests and graceful shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// matchLocked finalizes a negotiation at the given price: checks the rider
// can pay, hands the ride to the lifecycle controller, debits the rider,
// and removes the request from the pool. On any error the request is left
// exactly as it was.
func (e *Engine) matchLocked(req *models.RideRequest, offer *models.Offer, price float64) (*models.AgreedRide, error) {
	if bal := e.ledger.Balance(req.RiderID); bal < price {
		e.sink.Emit("Insufficient wallet balance. Please top up.", models.CategoryWarning)
		return nil, &models.WalletInsufficientError{OwnerID: req.RiderID, Balance: bal, Required: price}
	}
	ride := &models.AgreedRide{
		RideID:       uuid.NewString(),
		RiderID:      req.RiderID,
		RiderName:    req.RiderName,
		DriverID:     offer.DriverID,
		DriverName:   offer.DriverName,
		DriverRating: offer.DriverRating,
		Vehicle:      offer.Vehicle,
		Plate:        offer.Plate,
		Pickup:       req.Pickup,
		Destination:  req.Destination,
		AgreedPrice:  price,
		MatchedAt:    time.Now(),
	}
	if err := e.rides.Start(ride); err != nil {
		return nil, err
	}
	// Funds at match: the rider pays now, not at completion.
	if _, err := e.ledger.Debit(req.RiderID, models.TxPayment, price, fmt.Sprintf("Ride payment to %s", offer.DriverName)); err != nil {
		return nil, err
	}
	req.Status = models.StatusMatched
	delete(e.requests, req.ID)
	delete(e.offers, req.ID)
	delete(e.counters, req.ID)
	observability.MatchesTotal.Inc()
	e.sink.Emit(fmt.Sprintf("Ride confirmed with %s. Price: $%.2f. Navigate to pickup.", req.RiderName, price), models.CategorySuccess)
	return ride, nil
}

func (e *Engine) cancelPendingLocked(requestID string) {
	if cancel, ok := e.pending[requestID]; ok {
		cancel()
		delete(e.pending, requestID)
	}
}

// scheduleOfferResponse arranges for the mock rider to react to the offer
// after the simulated network delay. The response applies nothing if the
// request was cancelled, re-offered, or acted on in the meantime.
func (e *Engine) scheduleOfferResponse(requestID, offerID string) {
	ctx, cancel := context.WithCancel(context.Background())
	e.pending[requestID] = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if !sleep(ctx, e.cfg.ResponseDelay) {
			return
		}
		e.applyOfferResponse(ctx, requestID, offerID)
	}()
}

func (e *Engine) applyOfferResponse(ctx context.Context, requestID, offerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil {
		return // cancelled while waiting for the lock
	}
	req, ok := e.requests[requestID]
	if !ok || req.Status != models.StatusOfferSent {
		return
	}
	offer := e.offers[requestID]
	if offer == nil || offer.ID != offerID {
		return // superseded by a newer offer
	}
	delete(e.pending, requestID)

	decision := e.policy.RespondToOffer(*req, *offer)
	switch decision.Outcome {
	case policy.Accept:
		if _, err := e.matchLocked(req, offer, offer.Price); err != nil {
			// The mock rider could not complete the match (no funds, or a
			// ride already active). The offer stays standing.
			return
		}
		e.sink.Emit(fmt.Sprintf("%s accepted your offer!", req.RiderName), models.CategorySuccess)
	case policy.Counter:
		counter := &models.CounterOffer{
			ID:        uuid.NewString(),
			RequestID: requestID,
			OfferID:   offer.ID,
			Side:      models.CounterByRider,
			Price:     decision.CounterPrice,
			CreatedAt: time.Now(),
		}
		e.counters[requestID] = counter
		req.Status = models.StatusCounterReceived
		observability.CountersTotal.Inc()
		e.sink.Emit(fmt.Sprintf("%s made a counter offer: $%.2f", req.RiderName, decision.CounterPrice), models.CategoryOffer)
	default:
		e.sink.Emit(fmt.Sprintf("No response yet from %s. Offer remains active.", req.RiderName), models.CategoryInfo)
	}
}

// scheduleCounterResponse arranges for the mock driver to accept or reject
// the rider's counter.
func (e *Engine) scheduleCounterResponse(requestID, counterID string) {
	ctx, cancel := context.WithCancel(context.Background())
	e.pending[requestID] = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if !sleep(ctx, e.cfg.ResponseDelay) {
			return
		}
		e.applyCounterResponse(ctx, requestID, counterID)
	}()
}

func (e *Engine) applyCounterResponse(ctx context.Context, requestID, counterID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	req, ok := e.requests[requestID]
	if !ok || req.Status != models.StatusCounterReceived {
		return
	}
	counter := e.counters[requestID]
	if counter == nil || counter.ID != counterID {
		return
	}
	offer := e.offers[requestID]
	delete(e.pending, requestID)

	decision := e.policy.RespondToCounter(*req, *counter)
	if decision.Outcome == policy.Accept {
		if _, err := e.matchLocked(req, offer, counter.Price); err != nil {
			return
		}
		e.sink.Emit(fmt.Sprintf("%s accepted your counter offer!", offer.DriverName), models.CategorySuccess)
		return
	}
	// Rejection withdraws the offer; the request goes back to searching.
	delete(e.offers, requestID)
	delete(e.counters, requestID)
	req.Status = models.StatusSearching
	e.sink.Emit(fmt.Sprintf("%s rejected your counter offer.", offer.DriverName), models.CategoryWarning)
}

// sleep waits for d or until ctx is cancelled; it reports whether the full
// delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
