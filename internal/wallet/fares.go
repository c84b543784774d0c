package wallet

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var ErrNotPaid = errors.New("seats not paid by this payer")

type paidSeats struct {
	seats  int
	amount float64
}

// Fares remembers how many seats each payer paid for on each offer, and how
// much. Refunds are drawn from it, never from the current offer price.
type Fares struct {
	mu   sync.Mutex
	paid map[string]map[string]paidSeats
}

func NewFares() *Fares {
	return &Fares{paid: make(map[string]map[string]paidSeats)}
}

// Record adds seats bought by payerID on offerID for amount in total.
func (f *Fares) Record(offerID, payerID string, seats int, amount float64) {
	if seats < 1 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	byPayer := f.paid[offerID]
	if byPayer == nil {
		byPayer = make(map[string]paidSeats)
		f.paid[offerID] = byPayer
	}
	p := byPayer[payerID]
	p.seats += seats
	p.amount = math.Round((p.amount+amount)*100) / 100
	byPayer[payerID] = p
}

// Release gives back seats the payer paid for and returns their share of what
// was charged. It fails with ErrNotPaid when the payer holds fewer seats.
func (f *Fares) Release(offerID, payerID string, seats int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.paid[offerID][payerID]
	if seats < 1 || p.seats < seats {
		return 0, fmt.Errorf("%w: %s paid for %d seat(s) on %s, %d requested", ErrNotPaid, payerID, p.seats, offerID, seats)
	}
	refund := p.amount
	if seats < p.seats {
		refund = math.Round(p.amount*float64(seats)/float64(p.seats)*100) / 100
	}
	p.seats -= seats
	p.amount = math.Round((p.amount-refund)*100) / 100
	if p.seats == 0 {
		delete(f.paid[offerID], payerID)
		if len(f.paid[offerID]) == 0 {
			delete(f.paid, offerID)
		}
	} else {
		f.paid[offerID][payerID] = p
	}
	return refund, nil
}

// Paid is the number of seats payerID currently holds on offerID.
func (f *Fares) Paid(offerID, payerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paid[offerID][payerID].seats
}
