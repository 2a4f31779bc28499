package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Place is a location as the rider entered it: a free-text label plus
// coordinates when they were resolved. Coords may be nil; everything
// downstream must keep working in text-only mode.
type Place struct {
	Label  string `json:"label"`
	Coords *Coord `json:"coords,omitempty"`
}

type RequestStatus string

const (
	StatusSearching       RequestStatus = "searching"
	StatusOfferSent       RequestStatus = "offer_sent"
	StatusCounterReceived RequestStatus = "counter_received"
	StatusMatched         RequestStatus = "matched"
	StatusCancelled       RequestStatus = "cancelled"
)

// Terminal reports whether a request can no longer change state.
func (s RequestStatus) Terminal() bool {
	return s == StatusMatched || s == StatusCancelled
}

// Party identifies one side of a negotiation. Vehicle and Plate are only
// set for drivers.
type Party struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Rating  float64 `json:"rating"` // 0..5
	Vehicle string  `json:"vehicle,omitempty"`
	Plate   string  `json:"plate,omitempty"`
}

type RideRequest struct {
	ID           string        `json:"id"`
	RiderID      string        `json:"rider_id"`
	RiderName    string        `json:"rider_name"`
	RiderRating  float64       `json:"rider_rating"`
	Pickup       Place         `json:"pickup"`
	Destination  Place         `json:"destination"`
	OfferedPrice float64       `json:"offered_price"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Offer is a driver's proposed price against a RideRequest. Immutable once
// created; a re-offer supersedes it with a new Offer.
type Offer struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	DriverID     string    `json:"driver_id"`
	DriverName   string    `json:"driver_name"`
	DriverRating float64   `json:"driver_rating"`
	Vehicle      string    `json:"vehicle"`
	Plate        string    `json:"plate"`
	Price        float64   `json:"price"`
	CreatedAt    time.Time `json:"created_at"`
}

type CounterSide string

const (
	CounterByRider  CounterSide = "rider"
	CounterByDriver CounterSide = "driver"
)

// CounterOffer is a revised price answering the other side's last price.
type CounterOffer struct {
	ID        string      `json:"id"`
	RequestID string      `json:"request_id"`
	OfferID   string      `json:"offer_id"`
	Side      CounterSide `json:"side"`
	Price     float64     `json:"price"`
	CreatedAt time.Time   `json:"created_at"`
}

type RidePhase string

const (
	PhaseEnRouteToPickup RidePhase = "en_route_to_pickup"
	PhasePickedUp        RidePhase = "picked_up"
	PhaseCompleted       RidePhase = "completed"
	PhaseCancelled       RidePhase = "cancelled"
)

func (p RidePhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// AgreedRide is the contract created the moment a price is accepted.
// AgreedPrice is frozen here and never recomputed.
type AgreedRide struct {
	RideID       string    `json:"ride_id"`
	RiderID      string    `json:"rider_id"`
	RiderName    string    `json:"rider_name"`
	DriverID     string    `json:"driver_id"`
	DriverName   string    `json:"driver_name"`
	DriverRating float64   `json:"driver_rating"`
	Vehicle      string    `json:"vehicle"`
	Plate        string    `json:"plate"`
	Pickup       Place     `json:"pickup"`
	Destination  Place     `json:"destination"`
	AgreedPrice  float64   `json:"agreed_price"`
	ETA          string    `json:"eta"` // e.g. "7 mins to destination"
	Phase        RidePhase `json:"phase"`
	MatchedAt    time.Time `json:"matched_at"`
}

type TransactionType string

const (
	TxTopup   TransactionType = "topup"
	TxPayment TransactionType = "payment"
	TxPayout  TransactionType = "payout"
	TxFee     TransactionType = "fee"
)

type TxDirection string

const (
	DirectionCredit TxDirection = "credit"
	DirectionDebit  TxDirection = "debit"
)

type Transaction struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Type        TransactionType `json:"type"`
	Direction   TxDirection     `json:"direction"`
	Amount      float64         `json:"amount"` // always > 0; Direction carries the sign
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Signed returns the balance effect of the transaction.
func (t Transaction) Signed() float64 {
	if t.Direction == DirectionDebit {
		return -t.Amount
	}
	return t.Amount
}

type NotificationCategory string

const (
	CategoryInfo    NotificationCategory = "info"
	CategorySuccess NotificationCategory = "success"
	CategoryWarning NotificationCategory = "warning"
	CategoryError   NotificationCategory = "error"
	CategoryOffer   NotificationCategory = "offer"
)

type Notification struct {
	ID        string               `json:"id"`
	Message   string               `json:"message"`
	Category  NotificationCategory `json:"category"`
	Timestamp time.Time            `json:"timestamp"`
	Read      bool                 `json:"read"`
}

// RideRecord is the archived form of a finished ride.
type RideRecord struct {
	RideID      string    `json:"ride_id"`
	RiderID     string    `json:"rider_id"`
	DriverID    string    `json:"driver_id"`
	Pickup      string    `json:"pickup"`
	Destination string    `json:"destination"`
	Price       float64   `json:"price"`
	Outcome     RidePhase `json:"outcome"` // completed or cancelled
	MatchedAt   time.Time `json:"matched_at"`
	EndedAt     time.Time `json:"ended_at"`
}

type RideEventType string

const (
	EventRideMatched   RideEventType = "ride_matched"
	EventRideCompleted RideEventType = "ride_completed"
	EventRideCancelled RideEventType = "ride_cancelled"
)

// RideEvent is what gets published for downstream consumers.
type RideEvent struct {
	Type     RideEventType `json:"type"`
	RideID   string        `json:"ride_id"`
	RiderID  string        `json:"rider_id"`
	DriverID string        `json:"driver_id"`
	Price    float64       `json:"price"`
	At       time.Time     `json:"at"`
}
