package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-negotiation/internal/config"
	"github.com/example/ride-negotiation/internal/dispatch"
	"github.com/example/ride-negotiation/internal/models"
	"github.com/example/ride-negotiation/internal/negotiation"
	"github.com/example/ride-negotiation/internal/notify"
	"github.com/example/ride-negotiation/internal/payments"
	"github.com/example/ride-negotiation/internal/ride"
	"github.com/example/ride-negotiation/internal/storage"
	"github.com/example/ride-negotiation/internal/wallet"
)

type Server struct {
	Engine  *negotiation.Engine
	Rides   *ride.Controller
	Ledger  *wallet.Ledger
	Sink    *notify.Sink
	WSReg   *dispatch.WSRegistry
	History storage.HistoryStore
	Stripe  *payments.StripeClient // nil when no API key is configured

	cfg    config.ServerConfig
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(cfg config.ServerConfig, logger *slog.Logger, engine *negotiation.Engine, rides *ride.Controller, ledger *wallet.Ledger, sink *notify.Sink, wsreg *dispatch.WSRegistry, history storage.HistoryStore, stripeClient *payments.StripeClient) *Server {
	s := &Server{
		Engine:  engine,
		Rides:   rides,
		Ledger:  ledger,
		Sink:    sink,
		WSReg:   wsreg,
		History: history,
		Stripe:  stripeClient,
		cfg:     cfg,
		logger:  logger,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/accounts", s.handleOpenAccount).Methods("POST")

	s.mux.HandleFunc("/api/v1/requests", s.handleCreateRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests", s.handleListRequests).Methods("GET")
	s.mux.HandleFunc("/api/v1/requests/{id}", s.handleCancelRequest).Methods("DELETE")
	s.mux.HandleFunc("/api/v1/requests/{id}/offer", s.handleSubmitOffer).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/accept", s.handleAcceptOffer).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/counter", s.handleSubmitCounter).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{id}/counter/accept", s.handleAcceptCounter).Methods("POST")

	s.mux.HandleFunc("/api/v1/rides/active", s.handleActiveRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{id}/pickup", s.handlePickedUp).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{id}/cancel", s.handleCancelRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/history", s.handleHistory).Methods("GET")

	s.mux.HandleFunc("/api/v1/wallet/{owner}", s.handleWallet).Methods("GET")
	s.mux.HandleFunc("/api/v1/wallet/{owner}/topup", s.handleTopUp).Methods("POST")

	s.mux.HandleFunc("/api/v1/notifications", s.handleNotifications).Methods("GET")
	s.mux.HandleFunc("/api/v1/notifications", s.handleClearNotifications).Methods("DELETE")
	s.mux.HandleFunc("/api/v1/notifications/{id}/read", s.handleMarkRead).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OwnerID string `json:"owner_id"`
		Role    string `json:"role"` // "rider" or "driver"
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.OwnerID == "" {
		http.Error(w, "owner_id and role required", http.StatusBadRequest)
		return
	}
	initial := s.cfg.InitialRiderBalance
	if in.Role == "driver" {
		initial = s.cfg.InitialDriverBalance
	}
	s.Ledger.Open(in.OwnerID, initial)
	acct, _ := s.Ledger.Snapshot(in.OwnerID)
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Rider       models.Party `json:"rider"`
		Pickup      models.Place `json:"pickup"`
		Destination models.Place `json:"destination"`
		Price       float64      `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.Engine.CreateRequest(in.Rider, in.Pickup, in.Destination, in.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.OpenRequests())
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.CancelRequest(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Driver models.Party `json:"driver"`
		Price  float64      `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offer, err := s.Engine.SubmitOffer(mux.Vars(r)["id"], in.Driver, in.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	agreed, err := s.Engine.AcceptOffer(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agreed)
}

func (s *Server) handleSubmitCounter(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	counter, err := s.Engine.SubmitCounter(mux.Vars(r)["id"], in.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, counter)
}

func (s *Server) handleAcceptCounter(w http.ResponseWriter, r *http.Request) {
	agreed, err := s.Engine.AcceptCounter(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agreed)
}

func (s *Server) handleActiveRide(w http.ResponseWriter, r *http.Request) {
	actor := r.URL.Query().Get("actor")
	if actor == "" {
		http.Error(w, "actor query parameter required", http.StatusBadRequest)
		return
	}
	ride, ok := s.Rides.ActiveFor(actor)
	if !ok {
		s.writeError(w, &models.NotFoundError{Kind: "ride", ID: "active:" + actor})
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handlePickedUp(w http.ResponseWriter, r *http.Request) {
	updated, err := s.Rides.MarkPickedUp(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	completed, err := s.Rides.Complete(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completed)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.Rides.Cancel(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	actor := r.URL.Query().Get("actor")
	if actor == "" {
		http.Error(w, "actor query parameter required", http.StatusBadRequest)
		return
	}
	recs, err := s.History.ListByActor(actor, 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	acct, ok := s.Ledger.Snapshot(owner)
	if !ok {
		s.writeError(w, &models.NotFoundError{Kind: "account", ID: owner})
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	var in struct {
		Amount   float64 `json:"amount"`
		Card     bool    `json:"card"`
		Currency string  `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if in.Amount <= 0 {
		s.Sink.Emit("Top-up amount must be positive.", models.CategoryWarning)
		s.writeError(w, wallet.ErrNonPositiveAmount)
		return
	}
	desc := "Wallet top-up"
	if in.Card && s.Stripe != nil {
		currency := in.Currency
		if currency == "" {
			currency = "usd"
		}
		cents := int64(math.Round(in.Amount * 100))
		piID, err := s.Stripe.Hold(r.Context(), cents, currency, owner)
		if err != nil {
			http.Error(w, "card hold failed", http.StatusBadGateway)
			return
		}
		if err := s.Stripe.Capture(r.Context(), piID); err != nil {
			_ = s.Stripe.Cancel(context.WithoutCancel(r.Context()), piID)
			http.Error(w, "card capture failed", http.StatusBadGateway)
			return
		}
		desc = "Card top-up"
	}
	tx, err := s.Ledger.Credit(owner, models.TxTopup, in.Amount, desc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.Sink.Emit(fmt.Sprintf("Successfully topped up $%.2f!", in.Amount), models.CategorySuccess)
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sink.Items())
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	s.Sink.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.Sink.MarkRead(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
	go func() {
		// drain control frames until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.WSReg.Remove(id)
				_ = conn.Close()
				return
			}
		}
	}()
}

// writeError maps the typed error taxonomy onto HTTP status codes. Every
// core error already landed in the notification feed as a warning or error.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		notFound     *models.NotFoundError
		invalidOffer *models.InvalidOfferError
		transition   *models.InvalidTransitionError
		insufficient *models.WalletInsufficientError
		active       *models.RideAlreadyActiveError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &invalidOffer):
		status = http.StatusBadRequest
	case errors.As(err, &transition):
		status = http.StatusConflict
	case errors.As(err, &insufficient):
		status = http.StatusPaymentRequired
	case errors.As(err, &active):
		status = http.StatusConflict
	case errors.Is(err, wallet.ErrNonPositiveAmount):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("unhandled error", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
