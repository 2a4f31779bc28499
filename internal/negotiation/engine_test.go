package negotiation

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/policy"
	"github.com/example/ride-negotiation/internal/wallet"
)

// fakeSink collects emitted notifications.
type fakeSink struct {
	mu   sync.Mutex
	msgs []models.Notification
}

func (f *fakeSink) Emit(message string, category models.NotificationCategory) models.Notification {
	n := models.Notification{Message: message, Category: category, Timestamp: time.Now()}
	f.mu.Lock()
	f.msgs = append(f.msgs, n)
	f.mu.Unlock()
	return n
}

// stubPolicy returns scripted decisions.
type stubPolicy struct {
	offer   policy.Decision
	counter policy.Decision
}

func (s *stubPolicy) RespondToOffer(models.RideRequest, models.Offer) policy.Decision {
	return s.offer
}

func (s *stubPolicy) RespondToCounter(models.RideRequest, models.CounterOffer) policy.Decision {
	return s.counter
}

// fakeRides implements RideStarter with the one-active-ride-per-actor rule.
type fakeRides struct {
	mu      sync.Mutex
	started []*models.AgreedRide
	active  map[string]string
}

func newFakeRides() *fakeRides {
	return &fakeRides{active: make(map[string]string)}
}

func (f *fakeRides) Start(r *models.AgreedRide) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.active[r.RiderID]; ok {
		return &models.RideAlreadyActiveError{ActorID: r.RiderID, RideID: id}
	}
	if id, ok := f.active[r.DriverID]; ok {
		return &models.RideAlreadyActiveError{ActorID: r.DriverID, RideID: id}
	}
	f.started = append(f.started, r)
	f.active[r.RiderID] = r.RideID
	f.active[r.DriverID] = r.RideID
	return nil
}

func (f *fakeRides) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

var (
	rider  = models.Party{ID: "rider1", Name: "Alice", Rating: 4.8}
	driver = models.Party{ID: "driver1", Name: "Bob", Rating: 4.9, Vehicle: "Toyota Prius", Plate: "ABC-123"}
	home   = models.Place{Label: "Home"}
	work   = models.Place{Label: "Work"}
)

func newTestEngine(delay time.Duration, pol policy.Policy) (*Engine, *wallet.Ledger, *fakeSink, *fakeRides) {
	ledger := wallet.NewLedger()
	ledger.Open(rider.ID, 50)
	ledger.Open(driver.ID, 20)
	sink := &fakeSink{}
	rides := newFakeRides()
	if pol == nil {
		pol = &stubPolicy{} // silence everywhere
	}
	e := NewEngine(Config{MinRidePrice: 5, OfferFloor: 10, ResponseDelay: delay}, ledger, sink, pol, rides)
	return e, ledger, sink, rides
}

func TestCreateRequestBelowMinimumRejected(t *testing.T) {
	e, _, _, _ := newTestEngine(time.Minute, nil)
	_, err := e.CreateRequest(rider, home, work, 4)
	var invErr *models.InvalidOfferError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvalidOfferError, got %v", err)
	}
	if len(e.OpenRequests()) != 0 {
		t.Fatal("rejected request must not enter the pool")
	}
}

func TestOfferCounterAcceptFlow(t *testing.T) {
	e, ledger, _, rides := newTestEngine(time.Minute, nil)

	req, err := e.CreateRequest(rider, home, work, 10)
	if err != nil {
		t.Fatal(err)
	}

	offer, err := e.SubmitOffer(req.ID, driver, 12)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := e.Get(req.ID); got.Status != models.StatusOfferSent {
		t.Fatalf("expected offer_sent, got %s", got.Status)
	}
	if offer.Price != 12 || offer.DriverID != driver.ID {
		t.Fatalf("unexpected offer %+v", offer)
	}

	counter, err := e.SubmitCounter(req.ID, 11)
	if err != nil {
		t.Fatal(err)
	}
	if counter.Side != models.CounterByRider || counter.OfferID != offer.ID {
		t.Fatalf("unexpected counter %+v", counter)
	}
	if got, _ := e.Get(req.ID); got.Status != models.StatusCounterReceived {
		t.Fatalf("expected counter_received, got %s", got.Status)
	}

	agreed, err := e.AcceptCounter(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if agreed.AgreedPrice != 11 {
		t.Fatalf("agreed price should be the counter price, got %f", agreed.AgreedPrice)
	}
	if b := ledger.Balance(rider.ID); b != 39 {
		t.Fatalf("rider pays at match: expected 39, got %f", b)
	}
	if rides.count() != 1 {
		t.Fatalf("expected one started ride, got %d", rides.count())
	}
	if _, err := e.Get(req.ID); err == nil {
		t.Fatal("matched request must leave the pool")
	}
	e.Wait()
}

func TestAcceptOfferMatchesAtOfferPrice(t *testing.T) {
	e, ledger, _, rides := newTestEngine(time.Minute, nil)
	req, _ := e.CreateRequest(rider, home, work, 10)
	e.SubmitOffer(req.ID, driver, 12)

	agreed, err := e.AcceptOffer(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if agreed.AgreedPrice != 12 {
		t.Fatalf("expected agreed price 12, got %f", agreed.AgreedPrice)
	}
	if b := ledger.Balance(rider.ID); b != 38 {
		t.Fatalf("expected rider balance 38, got %f", b)
	}
	if rides.count() != 1 {
		t.Fatal("expected one started ride")
	}
	e.Wait()
}

func TestZeroPriceOfferRejected(t *testing.T) {
	e, _, _, _ := newTestEngine(time.Minute, nil)
	req, _ := e.CreateRequest(rider, home, work, 10)

	_, err := e.SubmitOffer(req.ID, driver, 0)
	var invErr *models.InvalidOfferError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvalidOfferError, got %v", err)
	}
	if got, _ := e.Get(req.ID); got.Status != models.StatusSearching {
		t.Fatalf("rejected offer must not change status, got %s", got.Status)
	}
	if _, ok := e.CurrentOffer(req.ID); ok {
		t.Fatal("rejected offer must not be recorded")
	}
}

func TestOfferRequiresDriverBalanceFloor(t *testing.T) {
	e, ledger, _, _ := newTestEngine(time.Minute, nil)
	broke := models.Party{ID: "driver2", Name: "Carol"}
	ledger.Open(broke.ID, 5)
	req, _ := e.CreateRequest(rider, home, work, 10)

	_, err := e.SubmitOffer(req.ID, broke, 12)
	var walletErr *models.WalletInsufficientError
	if !errors.As(err, &walletErr) {
		t.Fatalf("expected WalletInsufficientError, got %v", err)
	}
	if walletErr.Required != 10 {
		t.Fatalf("expected floor of 10, got %f", walletErr.Required)
	}
	if _, ok := e.CurrentOffer(req.ID); ok {
		t.Fatal("offer from an underfunded driver must not be recorded")
	}
}

func TestAcceptFailsWhenRiderCannotPay(t *testing.T) {
	e, ledger, _, rides := newTestEngine(time.Minute, nil)
	poor := models.Party{ID: "rider2", Name: "Dave"}
	ledger.Open(poor.ID, 8)
	req, _ := e.CreateRequest(poor, home, work, 10)
	e.SubmitOffer(req.ID, driver, 12)

	_, err := e.AcceptOffer(req.ID)
	var walletErr *models.WalletInsufficientError
	if !errors.As(err, &walletErr) {
		t.Fatalf("expected WalletInsufficientError, got %v", err)
	}
	if got, _ := e.Get(req.ID); got.Status != models.StatusOfferSent {
		t.Fatalf("failed accept must leave the offer standing, got %s", got.Status)
	}
	if b := ledger.Balance(poor.ID); b != 8 {
		t.Fatalf("no partial debit on failure, got %f", b)
	}
	if rides.count() != 0 {
		t.Fatal("no ride should start")
	}
	e.Wait()
}

func TestInvalidTransitions(t *testing.T) {
	e, _, _, _ := newTestEngine(time.Minute, nil)
	req, _ := e.CreateRequest(rider, home, work, 10)

	var transErr *models.InvalidTransitionError
	if _, err := e.AcceptOffer(req.ID); !errors.As(err, &transErr) {
		t.Fatalf("accept without an offer: expected InvalidTransitionError, got %v", err)
	}
	if _, err := e.SubmitCounter(req.ID, 8); !errors.As(err, &transErr) {
		t.Fatalf("counter without an offer: expected InvalidTransitionError, got %v", err)
	}

	e.SubmitOffer(req.ID, driver, 12)
	if _, err := e.AcceptCounter(req.ID); !errors.As(err, &transErr) {
		t.Fatalf("accept counter without a counter: expected InvalidTransitionError, got %v", err)
	}

	var nfErr *models.NotFoundError
	if _, err := e.SubmitOffer("no-such-request", driver, 12); !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	e.CancelRequest(req.ID)
	e.Wait()
}

func TestCounterMustBeBelowOffer(t *testing.T) {
	e, _, _, _ := newTestEngine(time.Minute, nil)
	req, _ := e.CreateRequest(rider, home, work, 10)
	e.SubmitOffer(req.ID, driver, 12)

	var invErr *models.InvalidOfferError
	if _, err := e.SubmitCounter(req.ID, 12); !errors.As(err, &invErr) {
		t.Fatalf("counter at the offer price: expected InvalidOfferError, got %v", err)
	}
	if _, err := e.SubmitCounter(req.ID, 0); !errors.As(err, &invErr) {
		t.Fatalf("zero counter: expected InvalidOfferError, got %v", err)
	}
	e.CancelRequest(req.ID)
	e.Wait()
}

func TestReOfferMustUndercutPreviousOffer(t *testing.T) {
	e, _, _, _ := newTestEngine(time.Minute, nil)
	req, _ := e.CreateRequest(rider, home, work, 10)
	e.SubmitOffer(req.ID, driver, 12)
	e.SubmitCounter(req.ID, 10)

	var invErr *models.InvalidOfferError
	if _, err := e.SubmitOffer(req.ID, driver, 12); !errors.As(err, &invErr) {
		t.Fatalf("re-offer at the old price: expected InvalidOfferError, got %v", err)
	}

	reoffer, err := e.SubmitOffer(req.ID, driver, 11)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := e.Get(req.ID); got.Status != models.StatusOfferSent {
		t.Fatalf("re-offer should return to offer_sent, got %s", got.Status)
	}
	if cur, ok := e.CurrentOffer(req.ID); !ok || cur.ID != reoffer.ID || cur.Price != 11 {
		t.Fatalf("standing offer should be the re-offer, got %+v", cur)
	}
	e.CancelRequest(req.ID)
	e.Wait()
}

func TestNewOfferReplacesStandingOffer(t *testing.T) {
	e, ledger, _, _ := newTestEngine(time.Minute, nil)
	other := models.Party{ID: "driver3", Name: "Eve"}
	ledger.Open(other.ID, 20)
	req, _ := e.CreateRequest(rider, home, work, 10)

	e.SubmitOffer(req.ID, driver, 12)
	second, err := e.SubmitOffer(req.ID, other, 15)
	if err != nil {
		t.Fatal(err)
	}
	if cur, ok := e.CurrentOffer(req.ID); !ok || cur.ID != second.ID || cur.DriverID != other.ID {
		t.Fatalf("last offer should win, got %+v", cur)
	}
	e.CancelRequest(req.ID)
	e.Wait()
}

func TestCancelInterruptsPendingResponse(t *testing.T) {
	pol := &stubPolicy{offer: policy.Decision{Outcome: policy.Accept}}
	e, ledger, _, rides := newTestEngine(50*time.Millisecond, pol)
	req, _ := e.CreateRequest(rider, home, work, 10)
	e.SubmitOffer(req.ID, driver, 12)

	if err := e.CancelRequest(req.ID); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	if rides.count() != 0 {
		t.Fatal("cancelled request must not match")
	}
	if b := ledger.Balance(rider.ID); b != 50 {
		t.Fatalf("cancelled request must not move funds, got %f", b)
	}
	var nfErr *models.NotFoundError
	if _, err := e.Get(req.ID); !errors.As(err, &nfErr) {
		t.Fatalf("cancelled request must leave the pool, got %v", err)
	}
}

func TestScheduledAcceptMatchesAtOfferPrice(t *testing.T) {
	pol := &stubPolicy{offer: policy.Decision{Outcome: policy.Accept}}
	e, ledger, _, rides := newTestEngine(0, pol)
	req, _ := e.CreateRequest(rider, home, work, 10)
	e.SubmitOffer(req.ID, driver, 12)
	e.Wait()

	if rides.count() != 1 {
		t.Fatal("expected the mock rider to accept")
	}
	if b := ledger.Balance(rider.ID); b != 38 {
		t.Fatalf("expected rider debited 12, balance %f", b)
	}
	var nfErr *models.NotFoundError
	if _, err := e.Get(req.ID); !errors.As(err, &nfErr) {
		t.Fatal("matched request must leave the pool")
	}
}

func TestScheduledCounterThenDriverAccepts(t *testing.T) {
	pol := &stubPolicy{offer: policy.Decision{Outcome: policy.Counter, CounterPrice: 11}}
	e, ledger, _, _ := newTestEngine(0, pol)
	req, _ := e.CreateRequest(rider, home, work, 10)
	e.SubmitOffer(req.ID, driver, 12)
	e.Wait()

	if got, _ := e.Get(req.ID); got.Status != models.StatusCounterReceived {
		t.Fatalf("expected counter_received, got %s", got.Status)
	}
	agreed, err := e.AcceptCounter(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if agreed.AgreedPrice != 11 {
		t.Fatalf("expected agreed price 11, got %f", agreed.AgreedPrice)
	}
	if b := ledger.Balance(rider.ID); b != 39 {
		t.Fatalf("expected rider balance 39, got %f", b)
	}
}

func TestCounterRejectionReturnsToSearching(t *testing.T) {
	pol := &stubPolicy{counter: policy.Decision{Outcome: policy.Reject}}
	e, _, _, rides := newTestEngine(0, pol)
	req, _ := e.CreateRequest(rider, home, work, 10)
	e.SubmitOffer(req.ID, driver, 12)
	e.Wait()
	e.SubmitCounter(req.ID, 11)
	e.Wait()

	if got, _ := e.Get(req.ID); got.Status != models.StatusSearching {
		t.Fatalf("rejection should withdraw the offer, got %s", got.Status)
	}
	if _, ok := e.CurrentOffer(req.ID); ok {
		t.Fatal("withdrawn offer should be cleared")
	}
	if rides.count() != 0 {
		t.Fatal("no ride should start")
	}
}

func TestSecondMatchForSameRiderRejected(t *testing.T) {
	e, ledger, _, rides := newTestEngine(time.Minute, nil)
	other := models.Party{ID: "driver3", Name: "Eve"}
	ledger.Open(other.ID, 20)

	req1, _ := e.CreateRequest(rider, home, work, 10)
	e.SubmitOffer(req1.ID, driver, 12)
	if _, err := e.AcceptOffer(req1.ID); err != nil {
		t.Fatal(err)
	}

	req2, _ := e.CreateRequest(rider, work, home, 10)
	e.SubmitOffer(req2.ID, other, 12)
	_, err := e.AcceptOffer(req2.ID)
	var activeErr *models.RideAlreadyActiveError
	if !errors.As(err, &activeErr) {
		t.Fatalf("expected RideAlreadyActiveError, got %v", err)
	}
	if got, _ := e.Get(req2.ID); got.Status != models.StatusOfferSent {
		t.Fatalf("failed match must leave the offer standing, got %s", got.Status)
	}
	if b := ledger.Balance(rider.ID); b != 38 {
		t.Fatalf("only the first ride should be paid for, balance %f", b)
	}
	if rides.count() != 1 {
		t.Fatalf("expected exactly one ride, got %d", rides.count())
	}
	e.Wait()
}
