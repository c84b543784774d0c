package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/campusride/internal/advisory"
	"github.com/example/campusride/internal/booking"
	"github.com/example/campusride/internal/dispatch"
	"github.com/example/campusride/internal/models"
	"github.com/example/campusride/internal/observability"
	"github.com/example/campusride/internal/pricing"
	"github.com/example/campusride/internal/users"
	"github.com/example/campusride/internal/wallet"
)

// Deps are the collaborators the API serves. Idem may be nil to disable
// Idempotency-Key handling.
type Deps struct {
	Model       *booking.Model
	Pricing     *pricing.Panel
	Wallets     *wallet.Ledger
	Fares       *wallet.Fares
	TopUps      *wallet.TopUps
	Recommender advisory.Recommender
	Verifier    advisory.Verifier
	Users       *users.Directory
	Hub         *dispatch.Hub
	Idem        IdempotencyStore
}

type Server struct {
	Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(d Deps, logger *slog.Logger) *Server {
	if d.Recommender == nil {
		d.Recommender = advisory.Static{}
	}
	if d.Verifier == nil {
		d.Verifier = advisory.Static{}
	}
	if d.Fares == nil {
		d.Fares = wallet.NewFares()
	}
	if d.Users == nil {
		d.Users = users.NewDirectory()
	}
	s := &Server{Deps: d, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides", s.handleSearchRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/available", s.handleAvailableRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/book", s.handleBookSeat).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelBooking).Methods(http.MethodPost)

	api.HandleFunc("/wallets/{user_id}", s.handleGetWallet).Methods(http.MethodGet)
	api.HandleFunc("/wallets/{user_id}/topup", s.handleTopUp).Methods(http.MethodPost)

	api.HandleFunc("/admin/pricing", s.handleGetPricing).Methods(http.MethodGet)
	api.HandleFunc("/admin/pricing", s.handleUpdatePricing).Methods(http.MethodPut)
	api.HandleFunc("/pricing/quote", s.handleQuote).Methods(http.MethodGet)

	api.HandleFunc("/advisory/recommendation", s.handleRecommendation).Methods(http.MethodGet)
	api.HandleFunc("/advisory/verify", s.handleVerify).Methods(http.MethodPost)
	api.HandleFunc("/users/{user_id}", s.handleGetUser).Methods(http.MethodGet)

	s.mux.HandleFunc("/ws/rides", s.handleWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var spec models.OfferSpec
	if err := decodeBody(r, &spec, false); err != nil {
		writeError(w, err)
		return
	}
	spec.VehicleType = models.VehicleType(strings.ToUpper(strings.TrimSpace(string(spec.VehicleType))))
	offer, err := s.Model.CreateOffer(spec)
	if err != nil {
		s.rejected(err)
		writeError(w, err)
		return
	}
	observability.OffersCreated.WithLabelValues(string(offer.VehicleType)).Inc()
	s.refreshOpenOffers()
	writeJSON(w, http.StatusCreated, offer)
}

func (s *Server) handleSearchRides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vt, ok := models.ParseVehicleType(q.Get("vehicle_type"))
	if !ok {
		writeError(w, fmt.Errorf("%w: unknown vehicle_type %q", booking.ErrValidation, q.Get("vehicle_type")))
		return
	}
	offers := slices.Collect(s.Model.Search(models.SearchFilter{VehicleType: vt, Query: q.Get("q")}))
	if offers == nil {
		offers = []models.RideOffer{}
	}
	writeJSON(w, http.StatusOK, offers)
}

func (s *Server) handleAvailableRides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Model.Available())
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	offer, err := s.Model.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

type seatsRequest struct {
	Seats   int    `json:"seats"`
	PayerID string `json:"payerId,omitempty"`
}

func (s *Server) decodeSeats(r *http.Request) (seatsRequest, error) {
	req := seatsRequest{Seats: 1}
	if err := decodeBody(r, &req, true); err != nil {
		return req, err
	}
	return req, nil
}

// handleBookSeat charges the payer first and refunds if the booking is
// rejected, so the caller never pays for a seat it did not get.
func (s *Server) handleBookSeat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.decodeSeats(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var charge float64
	if req.PayerID != "" && req.Seats > 0 {
		offer, err := s.Model.Get(id)
		if err != nil {
			writeError(w, err)
			return
		}
		charge = offer.Price * float64(req.Seats)
		if charge > 0 {
			if _, err := s.Wallets.Debit(req.PayerID, charge, "Ride to "+offer.Destination); err != nil {
				writeError(w, err)
				return
			}
		}
	}

	offer, err := s.Model.BookSeat(id, req.Seats)
	if err != nil {
		if charge > 0 {
			if _, rerr := s.Wallets.Credit(req.PayerID, charge, "Refund: booking rejected"); rerr != nil {
				s.logger.Error("refund failed", "offer_id", id, "payer_id", req.PayerID, "amount", charge, "error", rerr)
			}
		}
		s.rejected(err)
		writeError(w, err)
		return
	}
	if req.PayerID != "" {
		s.Fares.Record(id, req.PayerID, req.Seats, charge)
	}
	observability.SeatsBooked.Add(float64(req.Seats))
	s.refreshOpenOffers()
	writeJSON(w, http.StatusOK, offer)
}

// handleCancelBooking refunds payerId only for seats it paid for. The paid
// seats are taken first and handed back if the cancellation is rejected.
func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, err := s.decodeSeats(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var refund float64
	paid := req.PayerID != "" && req.Seats > 0
	if paid {
		if _, err := s.Model.Get(id); err != nil {
			writeError(w, err)
			return
		}
		if refund, err = s.Fares.Release(id, req.PayerID, req.Seats); err != nil {
			s.rejected(err)
			writeError(w, err)
			return
		}
	}

	offer, err := s.Model.CancelBooking(id, req.Seats)
	if err != nil {
		if paid {
			s.Fares.Record(id, req.PayerID, req.Seats, refund)
		}
		s.rejected(err)
		writeError(w, err)
		return
	}
	if paid && refund > 0 {
		if _, err := s.Wallets.Credit(req.PayerID, refund, "Refund: ride to "+offer.Destination); err != nil {
			s.logger.Error("refund failed", "offer_id", id, "payer_id", req.PayerID, "amount", refund, "error", err)
		}
	}
	observability.SeatsCancelled.Add(float64(req.Seats))
	s.refreshOpenOffers()
	writeJSON(w, http.StatusOK, offer)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Wallets.Get(mux.Vars(r)["user_id"]))
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	if s.TopUps == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "payments not configured"})
		return
	}
	var req wallet.TopUpRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	req.UserID = mux.Vars(r)["user_id"]
	tx, err := s.TopUps.TopUp(r.Context(), req)
	if err != nil {
		observability.WalletTopUps.WithLabelValues("failed").Inc()
		s.logger.Warn("wallet top-up failed", "user_id", req.UserID, "error", err)
		writeError(w, err)
		return
	}
	observability.WalletTopUps.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusCreated, tx)
}

func (s *Server) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Pricing.Params())
}

func (s *Server) handleUpdatePricing(w http.ResponseWriter, r *http.Request) {
	var p models.PricingParams
	if err := decodeBody(r, &p, false); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.Pricing.Update(p)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("pricing updated", "base_fare", updated.BaseFare, "per_km", updated.PerKm, "traffic", updated.Traffic, "demand", updated.Demand)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	d, err := strconv.ParseFloat(r.URL.Query().Get("distance_km"), 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: distance_km: %w", pricing.ErrInvalidParams, err))
		return
	}
	q, err := s.Pricing.Quote(d)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	text := s.Recommender.Recommend(r.Context(), r.URL.Query().Get("context"))
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

type verifyRequest struct {
	UserID string `json:"userId,omitempty"`
	advisory.Document
}

// handleVerify returns the verdict and, when userId is given, records it
// on that user's profile.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if req.Data == "" {
		writeError(w, fmt.Errorf("%w: document data is required", booking.ErrValidation))
		return
	}
	verdict := s.Verifier.Verify(r.Context(), req.Document)
	if req.UserID != "" {
		p := s.Users.RecordVerdict(req.UserID, verdict)
		s.logger.Info("verification recorded", "user_id", p.ID, "status", p.VerificationStatus, "approved", verdict.Approved)
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Users.Get(mux.Vars(r)["user_id"]))
}

func (s *Server) rejected(err error) {
	reason := "other"
	switch {
	case errors.Is(err, booking.ErrValidation):
		reason = "validation"
	case errors.Is(err, booking.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, booking.ErrCapacityExceeded):
		reason = "capacity"
	case errors.Is(err, booking.ErrInvalidState):
		reason = "state"
	case errors.Is(err, wallet.ErrNotPaid):
		reason = "not_paid"
	}
	observability.BookingRejections.WithLabelValues(reason).Inc()
}

func (s *Server) refreshOpenOffers() {
	observability.OffersOpen.Set(float64(len(s.Model.Available())))
}

// decodeBody reads JSON into v. With optional set, an empty body keeps v's defaults.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: malformed body: %w", booking.ErrValidation, err)
	}
	return nil
}
