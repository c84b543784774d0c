package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/campusride/internal/advisory"
	"github.com/example/campusride/internal/booking"
	"github.com/example/campusride/internal/dispatch"
	"github.com/example/campusride/internal/models"
	"github.com/example/campusride/internal/payments"
	"github.com/example/campusride/internal/pricing"
	"github.com/example/campusride/internal/wallet"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type memIdem struct {
	mu   sync.Mutex
	vals map[string]string
}

func (m *memIdem) Reserve(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = idemPending
	return true, nil
}

func (m *memIdem) Load(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vals[key], nil
}

func (m *memIdem) Save(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func (m *memIdem) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	hub := dispatch.NewHub(quiet)
	panel, err := pricing.NewPanel(pricing.DefaultParams())
	if err != nil {
		t.Fatalf("panel: %v", err)
	}
	ledger := wallet.NewLedger()
	return NewServer(Deps{
		Model:   booking.NewModel(dispatch.NewFanout(quiet, time.Second, hub)),
		Pricing: panel,
		Wallets: ledger,
		TopUps:  &wallet.TopUps{Ledger: ledger, Processor: payments.NewOffline(), Currency: "ngn"},
		Hub:     hub,
		Idem:    &memIdem{vals: map[string]string{}},
	}, quiet)
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

const carBody = `{"vehicleType":"car","allowExtra":true,"origin":"Hostel A","destination":"Gate","price":200}`

func TestRideLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/rides", carBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	offer := decode[models.RideOffer](t, rec)
	if offer.TotalSeats != 6 || offer.Status != models.StatusWaiting || offer.DriverID != nil {
		t.Fatalf("unexpected offer %+v", offer)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/book", `{"seats":6}`)
	if rec.Code != http.StatusOK || decode[models.RideOffer](t, rec).Status != models.StatusFull {
		t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/book", "")
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "ride full") {
		t.Fatalf("expected 409 ride full, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/cancel", `{"seats":2}`)
	got := decode[models.RideOffer](t, rec)
	if rec.Code != http.StatusOK || got.BookedSeats != 4 || got.Status != models.StatusWaiting {
		t.Fatalf("cancel: %d %+v", rec.Code, got)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/cancel", `{"seats":5}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for over-cancel, got %d", rec.Code)
	}

	if rec = do(t, s, http.MethodGet, "/api/v1/rides/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreateRideValidation(t *testing.T) {
	s := newTestServer(t)
	cases := []string{
		`{"vehicleType":"CAR","origin":" ","destination":"Gate"}`,
		`{"vehicleType":"CAR","origin":"A","destination":"Gate","price":-5}`,
		`{"vehicleType":"ANY","origin":"A","destination":"Gate"}`,
		`{"vehicleType":"CAR","origin":"A","destination":"Gate","colour":"red"}`,
		`not json`,
	}
	for _, body := range cases {
		if rec := do(t, s, http.MethodPost, "/api/v1/rides", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestSearchAndAvailable(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/api/v1/rides", `{"vehicleType":"BUS","origin":"Faculty of Art","destination":"Campus Market","price":150}`)
	do(t, s, http.MethodPost, "/api/v1/rides", carBody)
	do(t, s, http.MethodPost, "/api/v1/rides", `{"vehicleType":"TRICYCLE","origin":"Market Square","destination":"Library","price":100,"initialBookedSeats":4}`)

	rec := do(t, s, http.MethodGet, "/api/v1/rides?q=MARKET", "")
	if got := decode[[]models.RideOffer](t, rec); len(got) != 2 || got[0].VehicleType != models.VehicleBus {
		t.Fatalf("text search: %+v", got)
	}
	rec = do(t, s, http.MethodGet, "/api/v1/rides?vehicle_type=bus&q=hostel", "")
	if got := decode[[]models.RideOffer](t, rec); len(got) != 0 || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
	if rec = do(t, s, http.MethodGet, "/api/v1/rides?vehicle_type=boat", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/rides/available", "")
	got := decode[[]models.RideOffer](t, rec)
	if len(got) != 2 || got[0].VehicleType != models.VehicleCar || got[1].VehicleType != models.VehicleBus {
		t.Fatalf("available should skip FULL and list newest first: %+v", got)
	}
}

func TestBookingChargesWalletAndRefundsOnRejection(t *testing.T) {
	s := newTestServer(t)
	if rec := do(t, s, http.MethodPost, "/api/v1/wallets/u1/topup", `{"amount":1000}`); rec.Code != http.StatusCreated {
		t.Fatalf("topup: %d %s", rec.Code, rec.Body.String())
	}
	offer := decode[models.RideOffer](t, do(t, s, http.MethodPost, "/api/v1/rides", carBody))

	rec := do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/book", `{"seats":2,"payerId":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
	}
	if w := decode[models.Wallet](t, do(t, s, http.MethodGet, "/api/v1/wallets/u1", "")); w.Balance != 600 || len(w.History) != 2 {
		t.Fatalf("expected 600 after paying 400, got %+v", w)
	}

	// 5 more seats do not fit; the 1000 charge must not stick (and cannot be paid anyway).
	rec = do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/book", `{"seats":5,"payerId":"u1"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}

	_, _ = s.Wallets.Credit("u1", 1000, "seed")
	rec = do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/book", `{"seats":5,"payerId":"u1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if w := s.Wallets.Get("u1"); w.Balance != 1600 {
		t.Fatalf("rejected booking must be refunded, balance %.2f", w.Balance)
	}
}

func TestCancelRefundsOnlyPaidSeats(t *testing.T) {
	s := newTestServer(t)
	offer := decode[models.RideOffer](t, do(t, s, http.MethodPost, "/api/v1/rides", carBody))

	// Seats booked without a payer earn nobody a refund.
	if rec := do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/book", `{"seats":4}`); rec.Code != http.StatusOK {
		t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
	}
	rec := do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/cancel", `{"seats":4,"payerId":"eve"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unpaid seats, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, s, http.MethodPost, "/api/v1/rides/missing/cancel", `{"seats":1,"payerId":"eve"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown offer, got %d", rec.Code)
	}
	if w := s.Wallets.Get("eve"); w.Balance != 0 || len(w.History) != 0 {
		t.Fatalf("eve must not be credited: %+v", w)
	}
	if got, _ := s.Model.Get(offer.ID); got.BookedSeats != 4 {
		t.Fatalf("rejected cancel changed seats: %d", got.BookedSeats)
	}

	if _, err := s.Wallets.Credit("alice", 1000, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if rec := do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/book", `{"seats":2,"payerId":"alice"}`); rec.Code != http.StatusOK {
		t.Fatalf("paid book: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/cancel", `{"seats":3,"payerId":"alice"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 beyond paid seats, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/cancel", `{"seats":1,"payerId":"alice"}`)
	if rec.Code != http.StatusOK || decode[models.RideOffer](t, rec).BookedSeats != 5 {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}
	if w := s.Wallets.Get("alice"); w.Balance != 800 {
		t.Fatalf("expected 800 after one refunded seat, got %.2f", w.Balance)
	}
	if rec := do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/cancel", `{"seats":1,"payerId":"alice"}`); rec.Code != http.StatusOK {
		t.Fatalf("second cancel: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/cancel", `{"seats":1,"payerId":"alice"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("refund twice: expected 403, got %d", rec.Code)
	}
	if w := s.Wallets.Get("alice"); w.Balance != 1000 {
		t.Fatalf("expected full refund back to 1000, got %.2f", w.Balance)
	}
}

func TestRejectedCancelKeepsPaidSeats(t *testing.T) {
	s := newTestServer(t)
	offer := decode[models.RideOffer](t, do(t, s, http.MethodPost, "/api/v1/rides", carBody))
	if _, err := s.Wallets.Credit("alice", 1000, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/book", `{"seats":2,"payerId":"alice"}`)

	// The seats were released without a payer, so alice's cancel now exceeds the booking.
	do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/cancel", `{"seats":2}`)
	if rec := do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/cancel", `{"seats":2,"payerId":"alice"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if s.Fares.Paid(offer.ID, "alice") != 2 {
		t.Fatalf("paid seats must be restored after a rejected cancel, got %d", s.Fares.Paid(offer.ID, "alice"))
	}
	if w := s.Wallets.Get("alice"); w.Balance != 600 {
		t.Fatalf("no refund on rejected cancel, got %.2f", w.Balance)
	}
}

func TestIdempotentBookingReplays(t *testing.T) {
	s := newTestServer(t)
	offer := decode[models.RideOffer](t, do(t, s, http.MethodPost, "/api/v1/rides", carBody))

	first := do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/book", `{"seats":1}`, "Idempotency-Key", "k1")
	second := do(t, s, http.MethodPost, "/api/v1/rides/"+offer.ID+"/book", `{"seats":1}`, "Idempotency-Key", "k1")
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("codes %d %d", first.Code, second.Code)
	}
	if second.Header().Get("X-Idempotency-Hit") != "true" || !bytes.Equal(bytes.TrimSpace(first.Body.Bytes()), bytes.TrimSpace(second.Body.Bytes())) {
		t.Fatalf("expected replayed response")
	}
	got, _ := s.Model.Get(offer.ID)
	if got.BookedSeats != 1 {
		t.Fatalf("retry booked twice: %d", got.BookedSeats)
	}
}

func TestPricingEndpoints(t *testing.T) {
	s := newTestServer(t)
	q := decode[models.FareQuote](t, do(t, s, http.MethodGet, "/api/v1/pricing/quote?distance_km=5", ""))
	if q.Fare != 540 {
		t.Fatalf("expected 540, got %+v", q)
	}
	if rec := do(t, s, http.MethodPut, "/api/v1/admin/pricing", `{"baseFare":200,"perKm":50,"traffic":1,"demand":0}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPut, "/api/v1/admin/pricing", `{"baseFare":100,"perKm":50,"traffic":1,"demand":1}`); rec.Code != http.StatusOK {
		t.Fatalf("update: %d", rec.Code)
	}
	if p := decode[models.PricingParams](t, do(t, s, http.MethodGet, "/api/v1/admin/pricing", "")); p.BaseFare != 100 {
		t.Fatalf("params not updated: %+v", p)
	}
	if rec := do(t, s, http.MethodGet, "/api/v1/pricing/quote?distance_km=far", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdvisoryEndpointsUseFallbacks(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/v1/advisory/recommendation?context=passenger", "")
	if body := decode[map[string]string](t, rec); !strings.Contains(body["text"], "CampusRide") {
		t.Fatalf("unexpected recommendation %v", body)
	}
	rec = do(t, s, http.MethodPost, "/api/v1/advisory/verify", `{"data":"aGVsbG8="}`)
	if v := decode[map[string]any](t, rec); v["approved"] != false {
		t.Fatalf("static verifier must not approve: %v", v)
	}
	if rec = do(t, s, http.MethodPost, "/api/v1/advisory/verify", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

type approvingVerifier struct{}

func (approvingVerifier) Verify(context.Context, advisory.Document) advisory.Verdict {
	return advisory.Verdict{Approved: true, Confidence: 0.9, Reason: "matches"}
}

func TestVerifyRecordsVerdictOnUser(t *testing.T) {
	s := newTestServer(t)

	do(t, s, http.MethodPost, "/api/v1/advisory/verify", `{"userId":"u7","data":"aGVsbG8=","mimeType":"image/png"}`)
	p := decode[models.UserProfile](t, do(t, s, http.MethodGet, "/api/v1/users/u7", ""))
	if p.IsVerified || p.VerificationStatus != models.VerificationPending {
		t.Fatalf("fallback verdict should leave u7 pending: %+v", p)
	}

	s.Verifier = approvingVerifier{}
	do(t, s, http.MethodPost, "/api/v1/advisory/verify", `{"userId":"u7","data":"aGVsbG8="}`)
	p = decode[models.UserProfile](t, do(t, s, http.MethodGet, "/api/v1/users/u7", ""))
	if !p.IsVerified || p.VerificationStatus != models.VerificationOK || p.Reason != "matches" {
		t.Fatalf("approval not recorded: %+v", p)
	}

	if p := decode[models.UserProfile](t, do(t, s, http.MethodGet, "/api/v1/users/nobody", "")); p.VerificationStatus != models.VerificationNone {
		t.Fatalf("unknown user should be unverified: %+v", p)
	}
}

func TestWebsocketReceivesOfferChanges(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/rides?vehicle_type=CAR", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for s.Hub.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/api/v1/rides", "application/json", strings.NewReader(carBody))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.OfferEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != models.EventOfferCreated || ev.Offer.TotalSeats != 6 {
		t.Fatalf("unexpected event %+v", ev)
	}
}
