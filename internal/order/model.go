package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusPaymentPending Status = "payment_pending"
	StatusPaid           Status = "paid"
	StatusFailed         Status = "failed"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// IsPayable reports whether a payment may still be started for an order in s.
func (s Status) IsPayable() bool {
	return s == StatusPending || s == StatusPaymentPending
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if _, ok := allowedTransitions[s]; !ok {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}

// ParseInitialStatus accepts only the statuses an order may be created with.
func ParseInitialStatus(raw string) (Status, error) {
	s, err := ParseStatus(raw)
	if err != nil {
		return "", err
	}
	if !s.IsPayable() {
		return "", fmt.Errorf("status %q cannot be used for new orders", raw)
	}
	return s, nil
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusPaymentPending: true,
		StatusPaid:           true,
		StatusFailed:         true,
	},
	StatusPaymentPending: {
		StatusPaid:   true,
		StatusFailed: true,
	},
	StatusPaid:   {},
	StatusFailed: {},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// predecessors lists the statuses from which to may be reached.
func predecessors(to Status) []string {
	var from []string
	for _, s := range []Status{StatusPending, StatusPaymentPending, StatusPaid, StatusFailed} {
		if allowedTransitions[s][to] {
			from = append(from, string(s))
		}
	}
	return from
}

type Item struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type Order struct {
	ID                int64           `json:"id" db:"id"`
	Code              string          `json:"code" db:"code"`
	Items             []Item          `json:"items" db:"items"`
	Total             decimal.Decimal `json:"total" db:"total"`
	Status            Status          `json:"status" db:"status"`
	CallbackTokenHash string          `json:"-" db:"callback_token_hash"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// ItemsTotal sums the item prices.
func (o *Order) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.Price)
	}
	return sum
}
