package booking

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/campusride/internal/models"
)

// Notifier receives a change record after every successful mutation.
// It is called outside any offer lock and its failures are its own business.
type Notifier interface {
	Notify(ev models.OfferEvent)
}

type entry struct {
	mu    sync.RWMutex
	offer models.RideOffer
}

// Model owns the open ride offers. Seat changes on one offer are serialised by
// that offer's lock; the collection lock only guards membership and order.
type Model struct {
	mu     sync.RWMutex
	order  []*entry
	byID   map[string]*entry
	notify Notifier
	now    func() time.Time
	newID  func() string
}

// NewModel builds an empty model. A nil notifier disables change events.
func NewModel(n Notifier) *Model {
	return &Model{
		byID:   make(map[string]*entry),
		notify: n,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (m *Model) CreateOffer(spec models.OfferSpec) (models.RideOffer, error) {
	total, err := validateSpec(spec)
	if err != nil {
		return models.RideOffer{}, err
	}
	booked := 0
	if spec.InitialBookedSeats != nil {
		booked = *spec.InitialBookedSeats
	}
	now := m.now()
	offer := models.RideOffer{
		ID:          m.newID(),
		DriverID:    trimmedPtr(spec.DriverID),
		DriverName:  trimmedPtr(spec.DriverName),
		VehicleType: spec.VehicleType,
		Origin:      strings.TrimSpace(spec.Origin),
		Destination: strings.TrimSpace(spec.Destination),
		TotalSeats:  total,
		BookedSeats: booked,
		Status:      deriveStatus("", booked, total),
		Price:       spec.Price,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	if _, dup := m.byID[offer.ID]; dup {
		m.mu.Unlock()
		return models.RideOffer{}, fmt.Errorf("%w: duplicate offer id %s", ErrInvalidState, offer.ID)
	}
	e := &entry{offer: offer}
	m.byID[offer.ID] = e
	m.order = append(m.order, e)
	m.mu.Unlock()

	m.emit(models.EventOfferCreated, offer, booked)
	return offer, nil
}

// Restore loads an offer that was persisted earlier, keeping its id and timestamps.
func (m *Model) Restore(offer models.RideOffer) error {
	var errs []error
	if offer.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if !offer.VehicleType.Bookable() {
		errs = append(errs, fmt.Errorf("vehicle type %q is not bookable", offer.VehicleType))
	}
	if offer.TotalSeats <= 0 {
		errs = append(errs, errors.New("total seats must be positive"))
	}
	if offer.BookedSeats < 0 || offer.BookedSeats > offer.TotalSeats {
		errs = append(errs, fmt.Errorf("booked seats %d outside [0,%d]", offer.BookedSeats, offer.TotalSeats))
	}
	if !validPrice(offer.Price) {
		errs = append(errs, fmt.Errorf("price %v must be a finite non-negative amount", offer.Price))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	offer.Status = deriveStatus(offer.Status, offer.BookedSeats, offer.TotalSeats)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byID[offer.ID]; dup {
		return fmt.Errorf("%w: offer %s already loaded", ErrInvalidState, offer.ID)
	}
	e := &entry{offer: offer}
	m.byID[offer.ID] = e
	m.order = append(m.order, e)
	return nil
}

func (m *Model) BookSeat(offerID string, seats int) (models.RideOffer, error) {
	if seats < 1 {
		return models.RideOffer{}, fmt.Errorf("%w: seats must be at least 1", ErrValidation)
	}
	e, err := m.lookup(offerID)
	if err != nil {
		return models.RideOffer{}, err
	}

	e.mu.Lock()
	o := e.offer
	if o.BookedSeats+seats > o.TotalSeats {
		e.mu.Unlock()
		return models.RideOffer{}, fmt.Errorf("%w: %d seat(s) requested, %d left on %s", ErrCapacityExceeded, seats, o.SeatsLeft(), offerID)
	}
	if o.Status != models.StatusWaiting {
		e.mu.Unlock()
		return models.RideOffer{}, fmt.Errorf("%w: offer %s is %s", ErrInvalidState, offerID, o.Status)
	}
	o.BookedSeats += seats
	o.Status = deriveStatus(o.Status, o.BookedSeats, o.TotalSeats)
	o.Version++
	o.UpdatedAt = m.now()
	e.offer = o
	e.mu.Unlock()

	m.emit(models.EventSeatsBooked, o, seats)
	return o, nil
}

func (m *Model) CancelBooking(offerID string, seats int) (models.RideOffer, error) {
	if seats < 1 {
		return models.RideOffer{}, fmt.Errorf("%w: seats must be at least 1", ErrValidation)
	}
	e, err := m.lookup(offerID)
	if err != nil {
		return models.RideOffer{}, err
	}

	e.mu.Lock()
	o := e.offer
	if seats > o.BookedSeats {
		e.mu.Unlock()
		return models.RideOffer{}, fmt.Errorf("%w: cannot cancel %d seat(s), %d booked on %s", ErrValidation, seats, o.BookedSeats, offerID)
	}
	if o.Status == models.StatusStarted || o.Status == models.StatusCompleted {
		e.mu.Unlock()
		return models.RideOffer{}, fmt.Errorf("%w: offer %s is %s", ErrInvalidState, offerID, o.Status)
	}
	o.BookedSeats = max(o.BookedSeats-seats, 0)
	o.Status = deriveStatus(o.Status, o.BookedSeats, o.TotalSeats)
	o.Version++
	o.UpdatedAt = m.now()
	e.offer = o
	e.mu.Unlock()

	m.emit(models.EventBookingCancelled, o, seats)
	return o, nil
}

func (m *Model) Get(offerID string) (models.RideOffer, error) {
	e, err := m.lookup(offerID)
	if err != nil {
		return models.RideOffer{}, err
	}
	return e.snapshot(), nil
}

// Search yields matching offers in insertion order. The sequence is evaluated
// lazily on every range, so it can be restarted; each yielded offer is a
// consistent copy taken under that offer's read lock.
func (m *Model) Search(f models.SearchFilter) iter.Seq[models.RideOffer] {
	vt := f.VehicleType
	if vt == "" {
		vt = models.VehicleAny
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	return func(yield func(models.RideOffer) bool) {
		for _, e := range m.entries() {
			o := e.snapshot()
			if vt != models.VehicleAny && o.VehicleType != vt {
				continue
			}
			if q != "" && !strings.Contains(strings.ToLower(o.Origin), q) && !strings.Contains(strings.ToLower(o.Destination), q) {
				continue
			}
			if !yield(o) {
				return
			}
		}
	}
}

// Available lists offers still open for booking, newest first.
func (m *Model) Available() []models.RideOffer {
	all := m.entries()
	out := make([]models.RideOffer, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if o := all[i].snapshot(); o.Status == models.StatusWaiting {
			out = append(out, o)
		}
	}
	return out
}

// Len is the number of offers held.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

func (m *Model) lookup(offerID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.byID[offerID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, offerID)
	}
	return e, nil
}

func (m *Model) entries() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, len(m.order))
	copy(out, m.order)
	return out
}

func (e *entry) snapshot() models.RideOffer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.offer
}

func (m *Model) emit(t models.OfferEventType, o models.RideOffer, seats int) {
	if m.notify == nil {
		return
	}
	m.notify.Notify(models.OfferEvent{ID: m.newID(), Type: t, Offer: o, Seats: seats, At: o.UpdatedAt})
}

func validateSpec(spec models.OfferSpec) (int, error) {
	var errs []error
	if strings.TrimSpace(spec.Origin) == "" {
		errs = append(errs, errors.New("origin is required"))
	}
	if strings.TrimSpace(spec.Destination) == "" {
		errs = append(errs, errors.New("destination is required"))
	}
	if !validPrice(spec.Price) {
		errs = append(errs, fmt.Errorf("price %v must be a finite non-negative amount", spec.Price))
	}
	if (trimmedPtr(spec.DriverID) == nil) != (trimmedPtr(spec.DriverName) == nil) {
		errs = append(errs, errors.New("driver id and driver name go together"))
	}
	total, err := ComputeCapacity(spec.VehicleType, spec.AllowExtra)
	if err != nil {
		errs = append(errs, fmt.Errorf("vehicle type %q cannot carry an offer", spec.VehicleType))
	}
	if b := spec.InitialBookedSeats; b != nil && err == nil && (*b < 0 || *b > total) {
		errs = append(errs, fmt.Errorf("initial booked seats %d outside [0,%d]", *b, total))
	}
	if err := errors.Join(errs...); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return total, nil
}

func validPrice(p float64) bool {
	return p >= 0 && !math.IsInf(p, 0)
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
