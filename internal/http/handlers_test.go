package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-negotiation/internal/config"
	"github.com/example/ride-negotiation/internal/dispatch"
	"github.com/example/ride-negotiation/internal/eta"
	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/negotiation"
	"github.com/example/ride-negotiation/internal/notify"
	"github.com/example/ride-negotiation/internal/policy"
	"github.com/example/ride-negotiation/internal/ride"
	"github.com/example/ride-negotiation/internal/storage"
	"github.com/example/ride-negotiation/internal/wallet"
)

// silentPolicy never reacts, so tests drive every transition themselves.
type silentPolicy struct{}

func (silentPolicy) RespondToOffer(models.RideRequest, models.Offer) policy.Decision {
	return policy.Decision{Outcome: policy.Silence}
}

func (silentPolicy) RespondToCounter(models.RideRequest, models.CounterOffer) policy.Decision {
	return policy.Decision{Outcome: policy.Reject}
}

func newTestServer() *Server {
	cfg := config.ServerConfig{
		MinRidePrice:         5,
		OfferFloor:           10,
		PlatformFeeRate:      0.10,
		ResponseDelay:        time.Minute,
		NotificationCap:      10,
		DefaultSpeedMps:      10,
		InitialRiderBalance:  50,
		InitialDriverBalance: 20,
		PlatformAccount:      "platform",
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ledger := wallet.NewLedger()
	wsreg := dispatch.NewWSRegistry()
	sink := notify.NewSink(cfg.NotificationCap, nil)
	history := storage.NewMemoryStore()
	est := &eta.Estimator{SpeedMps: cfg.DefaultSpeedMps}
	rides := ride.NewController(ride.Config{FeeRate: cfg.PlatformFeeRate, PlatformAccount: cfg.PlatformAccount}, ledger, sink, history, nil, est)
	engine := negotiation.NewEngine(negotiation.Config{
		MinRidePrice:  cfg.MinRidePrice,
		OfferFloor:    cfg.OfferFloor,
		ResponseDelay: cfg.ResponseDelay,
	}, ledger, sink, silentPolicy{}, rides)
	return NewServer(cfg, logger, engine, rides, ledger, sink, wsreg, history, nil)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	s := newTestServer()

	if w := do(t, s, "POST", "/api/v1/accounts", map[string]string{"owner_id": "rider1", "role": "rider"}); w.Code != http.StatusCreated {
		t.Fatalf("open rider account: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, s, "POST", "/api/v1/accounts", map[string]string{"owner_id": "driver1", "role": "driver"}); w.Code != http.StatusCreated {
		t.Fatalf("open driver account: %d", w.Code)
	}

	w := do(t, s, "POST", "/api/v1/requests", map[string]any{
		"rider":       models.Party{ID: "rider1", Name: "Alice"},
		"pickup":      models.Place{Label: "Home"},
		"destination": models.Place{Label: "Work"},
		"price":       10,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create request: %d %s", w.Code, w.Body.String())
	}
	req := decode[models.RideRequest](t, w)

	w = do(t, s, "POST", "/api/v1/requests/"+req.ID+"/offer", map[string]any{
		"driver": models.Party{ID: "driver1", Name: "Bob", Vehicle: "Prius", Plate: "ABC-123"},
		"price":  12,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit offer: %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, "POST", "/api/v1/requests/"+req.ID+"/counter", map[string]float64{"price": 11})
	if w.Code != http.StatusCreated {
		t.Fatalf("counter: %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, "POST", "/api/v1/requests/"+req.ID+"/counter/accept", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept counter: %d %s", w.Code, w.Body.String())
	}
	agreed := decode[models.AgreedRide](t, w)
	if agreed.AgreedPrice != 11 {
		t.Fatalf("expected agreed price 11, got %f", agreed.AgreedPrice)
	}

	w = do(t, s, "GET", "/api/v1/rides/active?actor=rider1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("active ride: %d", w.Code)
	}

	if w := do(t, s, "POST", "/api/v1/rides/"+agreed.RideID+"/pickup", nil); w.Code != http.StatusOK {
		t.Fatalf("pickup: %d %s", w.Code, w.Body.String())
	}
	if w := do(t, s, "POST", "/api/v1/rides/"+agreed.RideID+"/complete", nil); w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, "GET", "/api/v1/wallet/driver1", nil)
	acct := decode[wallet.Account](t, w)
	if acct.Balance != 20+11*0.9 {
		t.Fatalf("expected driver balance %.2f, got %f", 20+11*0.9, acct.Balance)
	}

	w = do(t, s, "GET", "/api/v1/history?actor=rider1", nil)
	recs := decode[[]models.RideRecord](t, w)
	if len(recs) != 1 || recs[0].Outcome != models.PhaseCompleted {
		t.Fatalf("expected one completed record, got %+v", recs)
	}

	w = do(t, s, "GET", "/api/v1/notifications", nil)
	if items := decode[[]models.Notification](t, w); len(items) == 0 {
		t.Fatal("expected notifications in the feed")
	}
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer()
	do(t, s, "POST", "/api/v1/accounts", map[string]string{"owner_id": "rider1", "role": "rider"})
	do(t, s, "POST", "/api/v1/accounts", map[string]string{"owner_id": "broke", "role": "driver"})
	s.Ledger.Debit("broke", models.TxFee, 15, "drain for test")

	w := do(t, s, "POST", "/api/v1/requests", map[string]any{
		"rider": models.Party{ID: "rider1", Name: "Alice"},
		"price": 3,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("below-minimum price: expected 400, got %d", w.Code)
	}

	w = do(t, s, "POST", "/api/v1/requests/no-such-id/offer", map[string]any{
		"driver": models.Party{ID: "broke"}, "price": 12,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown request: expected 404, got %d", w.Code)
	}

	w = do(t, s, "POST", "/api/v1/requests", map[string]any{
		"rider":       models.Party{ID: "rider1", Name: "Alice"},
		"pickup":      models.Place{Label: "Home"},
		"destination": models.Place{Label: "Work"},
		"price":       10,
	})
	req := decode[models.RideRequest](t, w)

	w = do(t, s, "POST", "/api/v1/requests/"+req.ID+"/accept", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("accept without an offer: expected 409, got %d", w.Code)
	}

	w = do(t, s, "POST", "/api/v1/requests/"+req.ID+"/offer", map[string]any{
		"driver": models.Party{ID: "broke", Name: "Carol"}, "price": 12,
	})
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("underfunded driver: expected 402, got %d", w.Code)
	}

	if w := do(t, s, "DELETE", "/api/v1/requests/"+req.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("cancel: expected 204, got %d", w.Code)
	}
	if w := do(t, s, "DELETE", "/api/v1/requests/"+req.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("double cancel: expected 404, got %d", w.Code)
	}
}

func TestTopUp(t *testing.T) {
	s := newTestServer()
	do(t, s, "POST", "/api/v1/accounts", map[string]string{"owner_id": "rider1", "role": "rider"})

	w := do(t, s, "POST", "/api/v1/wallet/rider1/topup", map[string]float64{"amount": -5})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("negative top-up: expected 400, got %d", w.Code)
	}

	w = do(t, s, "POST", "/api/v1/wallet/rider1/topup", map[string]float64{"amount": 25})
	if w.Code != http.StatusCreated {
		t.Fatalf("top-up: expected 201, got %d %s", w.Code, w.Body.String())
	}
	tx := decode[models.Transaction](t, w)
	if tx.Type != models.TxTopup || tx.Amount != 25 {
		t.Fatalf("unexpected transaction %+v", tx)
	}

	w = do(t, s, "GET", "/api/v1/wallet/rider1", nil)
	acct := decode[wallet.Account](t, w)
	if acct.Balance != 75 {
		t.Fatalf("expected balance 75, got %f", acct.Balance)
	}
}

func TestWalletNotFound(t *testing.T) {
	s := newTestServer()
	if w := do(t, s, "GET", "/api/v1/wallet/ghost", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer()
	w := do(t, s, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}
