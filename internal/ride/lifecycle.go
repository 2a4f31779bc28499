// Package ride tracks agreed rides from match to completion and settles
// the driver's earnings.
//
// Ride state machine:
//
//	en_route_to_pickup --markPickedUp--> picked_up
//	picked_up --complete--> completed
//	en_route_to_pickup | picked_up --cancel--> cancelled
package ride

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-negotiation/internal/eta"
	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/observability"
	"github.com/example/ride-negotiation/internal/storage"
	"github.com/example/ride-negotiation/internal/wallet"
)

// Notifier receives human-readable events for the client feed.
type Notifier interface {
	Emit(message string, category models.NotificationCategory) models.Notification
}

// Publisher fans ride lifecycle events out; may be nil.
type Publisher interface {
	PublishRideEvent(ev models.RideEvent) error
}

type Config struct {
	FeeRate         float64 // platform cut of the agreed price, e.g. 0.10
	PlatformAccount string  // ledger account that accrues fees
}

// Controller owns all active rides. At most one ride is active per rider
// and per driver at any time.
type Controller struct {
	cfg     Config
	ledger  *wallet.Ledger
	sink    Notifier
	history storage.HistoryStore
	events  Publisher
	eta     *eta.Estimator

	mu      sync.Mutex
	rides   map[string]*models.AgreedRide
	byActor map[string]string // rider or driver id -> active ride id
}

func NewController(cfg Config, ledger *wallet.Ledger, sink Notifier, history storage.HistoryStore, events Publisher, est *eta.Estimator) *Controller {
	return &Controller{
		cfg:     cfg,
		ledger:  ledger,
		sink:    sink,
		history: history,
		events:  events,
		eta:     est,
		rides:   make(map[string]*models.AgreedRide),
		byActor: make(map[string]string),
	}
}

// Start takes ownership of a freshly agreed ride. Fails with
// RideAlreadyActiveError if either actor already has one.
func (c *Controller) Start(r *models.AgreedRide) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rideID, ok := c.byActor[r.RiderID]; ok {
		return &models.RideAlreadyActiveError{ActorID: r.RiderID, RideID: rideID}
	}
	if rideID, ok := c.byActor[r.DriverID]; ok {
		return &models.RideAlreadyActiveError{ActorID: r.DriverID, RideID: rideID}
	}
	r.Phase = models.PhaseEnRouteToPickup
	r.ETA = eta.Pending
	c.rides[r.RideID] = r
	c.byActor[r.RiderID] = r.RideID
	c.byActor[r.DriverID] = r.RideID
	c.publish(models.EventRideMatched, r)
	return nil
}

// MarkPickedUp moves the ride to picked_up and points the ETA at the
// destination.
func (c *Controller) MarkPickedUp(rideID string) (models.AgreedRide, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rides[rideID]
	if !ok {
		return models.AgreedRide{}, &models.NotFoundError{Kind: "ride", ID: rideID}
	}
	if r.Phase != models.PhaseEnRouteToPickup {
		return models.AgreedRide{}, &models.InvalidTransitionError{Entity: "ride", ID: rideID, From: string(r.Phase), Op: "mark picked up"}
	}
	r.Phase = models.PhasePickedUp
	r.ETA = c.eta.ToDestination(r.Pickup, r.Destination)
	c.sink.Emit("Rider picked up! Navigate to destination.", models.CategoryInfo)
	return *r, nil
}

// Complete finishes the ride and pays the driver the agreed price minus
// the platform fee. The rider already paid at match time.
func (c *Controller) Complete(rideID string) (models.AgreedRide, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rides[rideID]
	if !ok {
		return models.AgreedRide{}, &models.NotFoundError{Kind: "ride", ID: rideID}
	}
	if r.Phase != models.PhasePickedUp {
		return models.AgreedRide{}, &models.InvalidTransitionError{Entity: "ride", ID: rideID, From: string(r.Phase), Op: "complete"}
	}

	earnings := r.AgreedPrice * (1 - c.cfg.FeeRate)
	fee := r.AgreedPrice - earnings
	if _, err := c.ledger.Credit(r.DriverID, models.TxPayout, earnings, fmt.Sprintf("Ride earnings: %s to %s", r.Pickup.Label, r.Destination.Label)); err != nil {
		return models.AgreedRide{}, err
	}
	if fee > 0 && c.cfg.PlatformAccount != "" {
		_, _ = c.ledger.Credit(c.cfg.PlatformAccount, models.TxFee, fee, fmt.Sprintf("Platform fee for ride %s", r.RideID))
		observability.PlatformFees.Add(fee)
	}

	r.Phase = models.PhaseCompleted
	c.finishLocked(r)
	observability.RidesCompleted.Inc()
	c.publish(models.EventRideCompleted, r)
	c.sink.Emit(fmt.Sprintf("Ride completed! You earned $%.2f.", earnings), models.CategorySuccess)
	return *r, nil
}

// Cancel aborts the ride from either non-terminal phase. No wallet
// movement happens here; the match-time rider debit stands.
func (c *Controller) Cancel(rideID string) (models.AgreedRide, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rides[rideID]
	if !ok {
		return models.AgreedRide{}, &models.NotFoundError{Kind: "ride", ID: rideID}
	}
	if r.Phase.Terminal() {
		return models.AgreedRide{}, &models.InvalidTransitionError{Entity: "ride", ID: rideID, From: string(r.Phase), Op: "cancel"}
	}
	r.Phase = models.PhaseCancelled
	c.finishLocked(r)
	observability.RidesCancelled.Inc()
	c.publish(models.EventRideCancelled, r)
	c.sink.Emit("Ride cancelled.", models.CategoryWarning)
	return *r, nil
}

// ActiveFor returns the actor's active ride, if any.
func (c *Controller) ActiveFor(actorID string) (models.AgreedRide, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rideID, ok := c.byActor[actorID]
	if !ok {
		return models.AgreedRide{}, false
	}
	return *c.rides[rideID], true
}

// Get returns a copy of an active ride.
func (c *Controller) Get(rideID string) (models.AgreedRide, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rides[rideID]
	if !ok {
		return models.AgreedRide{}, &models.NotFoundError{Kind: "ride", ID: rideID}
	}
	return *r, nil
}

// finishLocked archives the ride and releases both actors.
func (c *Controller) finishLocked(r *models.AgreedRide) {
	delete(c.rides, r.RideID)
	delete(c.byActor, r.RiderID)
	delete(c.byActor, r.DriverID)
	if c.history != nil {
		rec := &models.RideRecord{
			RideID:      r.RideID,
			RiderID:     r.RiderID,
			DriverID:    r.DriverID,
			Pickup:      r.Pickup.Label,
			Destination: r.Destination.Label,
			Price:       r.AgreedPrice,
			Outcome:     r.Phase,
			MatchedAt:   r.MatchedAt,
			EndedAt:     time.Now(),
		}
		_ = c.history.SaveRide(rec)
	}
}

func (c *Controller) publish(t models.RideEventType, r *models.AgreedRide) {
	if c.events == nil {
		return
	}
	// best-effort; the in-memory state is authoritative
	_ = c.events.PublishRideEvent(models.RideEvent{
		Type:     t,
		RideID:   r.RideID,
		RiderID:  r.RiderID,
		DriverID: r.DriverID,
		Price:    r.AgreedPrice,
		At:       time.Now(),
	})
}
