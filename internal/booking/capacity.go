package booking

import (
	"fmt"

	"github.com/example/campusride/internal/models"
)

const extraSeats = 2

var baseCapacity = map[models.VehicleType]int{
	models.VehicleTricycle: 4,
	models.VehicleCar:      4,
	models.VehicleBus:      8,
}

// ComputeCapacity returns the seat count for a vehicle type, plus two flexible
// seats when allowExtra is set. It is evaluated once when an offer is created.
func ComputeCapacity(vt models.VehicleType, allowExtra bool) (int, error) {
	base, ok := baseCapacity[vt]
	if !ok {
		return 0, fmt.Errorf("%w: vehicle type %q cannot carry an offer", ErrValidation, vt)
	}
	if allowExtra {
		base += extraSeats
	}
	return base, nil
}

// deriveStatus keeps WAITING/FULL a pure function of the seat counts.
// Post-departure states are owned by dispatch and left untouched.
func deriveStatus(current models.RideStatus, booked, total int) models.RideStatus {
	switch current {
	case models.StatusStarted, models.StatusCompleted:
		return current
	}
	if booked >= total {
		return models.StatusFull
	}
	return models.StatusWaiting
}
