package models

import (
	"strings"
	"time"
)

type VehicleType string

const (
	VehicleTricycle VehicleType = "TRICYCLE"
	VehicleCar      VehicleType = "CAR"
	VehicleBus      VehicleType = "BUS"
	// VehicleAny is a search wildcard and never the type of a stored offer.
	VehicleAny VehicleType = "ANY"
)

// ParseVehicleType normalises user input; the empty string maps to VehicleAny.
func ParseVehicleType(s string) (VehicleType, bool) {
	switch v := VehicleType(strings.ToUpper(strings.TrimSpace(s))); v {
	case VehicleTricycle, VehicleCar, VehicleBus, VehicleAny:
		return v, true
	case "", "ALL":
		return VehicleAny, true
	}
	return "", false
}

// Bookable reports whether an offer may be created with this vehicle type.
func (v VehicleType) Bookable() bool {
	return v == VehicleTricycle || v == VehicleCar || v == VehicleBus
}

type RideStatus string

const (
	StatusWaiting   RideStatus = "WAITING"
	StatusFull      RideStatus = "FULL"
	StatusStarted   RideStatus = "STARTED"
	StatusCompleted RideStatus = "COMPLETED"
)

type RideOffer struct {
	ID          string      `json:"id"`
	DriverID    *string     `json:"driverId"`
	DriverName  *string     `json:"driverName"`
	VehicleType VehicleType `json:"vehicleType"`
	Origin      string      `json:"origin"`
	Destination string      `json:"destination"`
	TotalSeats  int         `json:"totalSeats"`
	BookedSeats int         `json:"bookedSeats"`
	Status      RideStatus  `json:"status"`
	Price       float64     `json:"price"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// SeatsLeft is the remaining capacity of the offer.
func (o RideOffer) SeatsLeft() int { return o.TotalSeats - o.BookedSeats }

// OfferSpec is the input to creating an offer. A nil InitialBookedSeats means zero.
type OfferSpec struct {
	DriverID           *string     `json:"driverId,omitempty"`
	DriverName         *string     `json:"driverName,omitempty"`
	VehicleType        VehicleType `json:"vehicleType"`
	Origin             string      `json:"origin"`
	Destination        string      `json:"destination"`
	AllowExtra         bool        `json:"allowExtra"`
	Price              float64     `json:"price"`
	InitialBookedSeats *int        `json:"initialBookedSeats,omitempty"`
}

type SearchFilter struct {
	VehicleType VehicleType
	Query       string
}

type OfferEventType string

const (
	EventOfferCreated     OfferEventType = "offer.created"
	EventSeatsBooked      OfferEventType = "seats.booked"
	EventBookingCancelled OfferEventType = "booking.cancelled"
)

// OfferEvent is the change record fanned out to sync collaborators.
type OfferEvent struct {
	ID    string         `json:"id"`
	Type  OfferEventType `json:"type"`
	Offer RideOffer      `json:"offer"`
	Seats int            `json:"seats"`
	At    time.Time      `json:"at"`
}

type TransactionType string

const (
	Credit TransactionType = "CREDIT"
	Debit  TransactionType = "DEBIT"
)

type Transaction struct {
	ID          string          `json:"id"`
	Amount      float64         `json:"amount"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
}

type Wallet struct {
	UserID  string        `json:"userId"`
	Balance float64       `json:"balance"`
	History []Transaction `json:"history"`
}

type PricingParams struct {
	BaseFare float64 `json:"baseFare"`
	PerKm    float64 `json:"perKm"`
	Traffic  float64 `json:"traffic"`
	Demand   float64 `json:"demand"`
}

type FareQuote struct {
	DistanceKm float64       `json:"distanceKm"`
	Fare       float64       `json:"fare"`
	Params     PricingParams `json:"params"`
}

type VerificationStatus string

const (
	VerificationNone    VerificationStatus = "UNVERIFIED"
	VerificationPending VerificationStatus = "PENDING_REVIEW"
	VerificationOK      VerificationStatus = "APPROVED"
)

// UserProfile is the verification state kept per user.
type UserProfile struct {
	ID                 string             `json:"id"`
	IsVerified         bool               `json:"isVerified"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	Confidence         float64            `json:"confidence"`
	Reason             string             `json:"reason,omitempty"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}
