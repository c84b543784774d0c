package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/campusride/internal/models"
	"github.com/example/campusride/internal/payments"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPaymentFailed     = errors.New("payment failed")
)

type account struct {
	balance float64
	history []models.Transaction
}

// Ledger keeps a balance and an append-only transaction history per user.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*account
	now      func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]*account), now: time.Now}
}

func (l *Ledger) Credit(userID string, amount float64, desc string) (models.Transaction, error) {
	return l.apply(userID, models.Credit, amount, desc)
}

func (l *Ledger) Debit(userID string, amount float64, desc string) (models.Transaction, error) {
	return l.apply(userID, models.Debit, amount, desc)
}

func (l *Ledger) apply(userID string, typ models.TransactionType, amount float64, desc string) (models.Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return models.Transaction{}, fmt.Errorf("%w: user id is required", ErrInvalidAmount)
	}
	if !(amount > 0) || math.IsInf(amount, 0) {
		return models.Transaction{}, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	amount = math.Round(amount*100) / 100

	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accounts[userID]
	if acc == nil {
		acc = &account{}
		l.accounts[userID] = acc
	}
	if typ == models.Debit && acc.balance < amount {
		return models.Transaction{}, fmt.Errorf("%w: balance %.2f, need %.2f", ErrInsufficientFunds, acc.balance, amount)
	}
	tx := models.Transaction{ID: uuid.NewString(), Amount: amount, Type: typ, Description: desc, Timestamp: l.now()}
	if typ == models.Debit {
		acc.balance -= amount
	} else {
		acc.balance += amount
	}
	acc.balance = math.Round(acc.balance*100) / 100
	acc.history = append(acc.history, tx)
	return tx, nil
}

// Get returns the wallet with its history newest first. Unknown users have an empty wallet.
func (l *Ledger) Get(userID string) models.Wallet {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := models.Wallet{UserID: userID, History: []models.Transaction{}}
	if acc := l.accounts[userID]; acc != nil {
		w.Balance = acc.balance
		w.History = slices.Clone(acc.history)
		slices.Reverse(w.History)
	}
	return w
}

// TopUps credits wallets with funds captured through a payment processor.
type TopUps struct {
	Ledger    *Ledger
	Processor payments.Processor
	Currency  string
}

type TopUpRequest struct {
	UserID          string  `json:"-"`
	Amount          float64 `json:"amount"`
	CustomerID      string  `json:"customerId,omitempty"`
	PaymentMethodID string  `json:"paymentMethodId,omitempty"`
}

// TopUp holds then captures the amount; the ledger is credited only after capture.
func (t *TopUps) TopUp(ctx context.Context, req TopUpRequest) (models.Transaction, error) {
	if !(req.Amount > 0) || math.IsInf(req.Amount, 0) {
		return models.Transaction{}, fmt.Errorf("%w: %v", ErrInvalidAmount, req.Amount)
	}
	minor := int64(math.Round(req.Amount * 100))
	id, err := t.Processor.Hold(ctx, minor, t.Currency, req.CustomerID, req.PaymentMethodID)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%w: hold: %w", ErrPaymentFailed, err)
	}
	if err := t.Processor.Capture(ctx, id); err != nil {
		if cerr := t.Processor.Cancel(ctx, id); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return models.Transaction{}, fmt.Errorf("%w: capture %s: %w", ErrPaymentFailed, id, err)
	}
	return t.Ledger.Credit(req.UserID, req.Amount, "Wallet Top-up")
}
