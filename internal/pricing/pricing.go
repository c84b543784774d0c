package pricing

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/example/campusride/internal/models"
)

var ErrInvalidParams = errors.New("invalid pricing parameters")

func DefaultParams() models.PricingParams {
	return models.PricingParams{BaseFare: 200, PerKm: 50, Traffic: 1.2, Demand: 1.0}
}

func Validate(p models.PricingParams) error {
	var errs []error
	// Written as negated comparisons so NaN fails them too.
	if !(p.BaseFare >= 0) || math.IsInf(p.BaseFare, 0) {
		errs = append(errs, fmt.Errorf("base fare %v must be a finite non-negative amount", p.BaseFare))
	}
	if !(p.PerKm >= 0) || math.IsInf(p.PerKm, 0) {
		errs = append(errs, fmt.Errorf("per-km rate %v must be a finite non-negative amount", p.PerKm))
	}
	if !(p.Traffic > 0) || math.IsInf(p.Traffic, 0) {
		errs = append(errs, fmt.Errorf("traffic multiplier %v must be finite and positive", p.Traffic))
	}
	if !(p.Demand > 0) || math.IsInf(p.Demand, 0) {
		errs = append(errs, fmt.Errorf("demand multiplier %v must be finite and positive", p.Demand))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return nil
}

// Fare is (base + km*perKm) * traffic * demand, rounded to the minor unit.
func Fare(p models.PricingParams, distanceKm float64) float64 {
	raw := (p.BaseFare + distanceKm*p.PerKm) * p.Traffic * p.Demand
	return math.Round(raw*100) / 100
}

// Panel holds the live parameters the admin dashboard adjusts.
type Panel struct {
	mu     sync.RWMutex
	params models.PricingParams
}

func NewPanel(p models.PricingParams) (*Panel, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	return &Panel{params: p}, nil
}

func (p *Panel) Params() models.PricingParams {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.params
}

func (p *Panel) Update(next models.PricingParams) (models.PricingParams, error) {
	if err := Validate(next); err != nil {
		return p.Params(), err
	}
	p.mu.Lock()
	p.params = next
	p.mu.Unlock()
	return next, nil
}

func (p *Panel) Quote(distanceKm float64) (models.FareQuote, error) {
	if distanceKm < 0 || math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return models.FareQuote{}, fmt.Errorf("%w: distance %v km", ErrInvalidParams, distanceKm)
	}
	params := p.Params()
	return models.FareQuote{DistanceKm: distanceKm, Fare: Fare(params, distanceKm), Params: params}, nil
}
