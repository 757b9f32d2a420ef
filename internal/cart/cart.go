// Package cart is the customer-side order builder. A Cart collects menu items
// and hands them to a Submitter on checkout.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mthsnx/caffe-diem/internal/menu"
	"github.com/mthsnx/caffe-diem/internal/ordercode"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// maxCheckoutAttempts bounds how many fresh codes are tried after collisions.
const maxCheckoutAttempts = 3

var (
	ErrEmptyCart      = errors.New("cart is empty")
	ErrNoSuchLine     = errors.New("no such cart line")
	ErrCodeCollision  = errors.New("order code already in use")
	ErrCheckoutFailed = errors.New("checkout failed")
)

type Line struct {
	Name  string
	Price decimal.Decimal
}

// Order is the payload handed to a Submitter.
type Order struct {
	Code  string
	Lines []Line
	Total decimal.Decimal
}

type Receipt struct {
	OrderID   int64
	OrderCode string
	Total     decimal.Decimal
}

type Submitter interface {
	Submit(ctx context.Context, o Order) (*Receipt, error)
}

// Cart is safe for concurrent use.
type Cart struct {
	mu    sync.Mutex
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

func (c *Cart) Add(item menu.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, Line{Name: item.Name, Price: item.Price})
}

// Remove drops the line at index i.
func (c *Cart) Remove(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.lines) {
		return fmt.Errorf("%w: %d", ErrNoSuchLine, i)
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	return nil
}

func (c *Cart) Items() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Line(nil), c.lines...)
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Total is the sum of line prices rounded to cents.
func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sum(c.lines)
}

func (c *Cart) Reset() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

// Checkout submits the cart under a freshly generated order code. On a code
// collision a new code is drawn, up to maxCheckoutAttempts times. The cart is
// emptied only after the order is accepted.
func (c *Cart) Checkout(ctx context.Context, s Submitter) (*Receipt, error) {
	return c.checkout(ctx, s, ordercode.New)
}

func (c *Cart) checkout(ctx context.Context, s Submitter, newCode func() (string, error)) (*Receipt, error) {
	lines := c.Items()
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	total := sum(lines)

	for attempt := 1; attempt <= maxCheckoutAttempts; attempt++ {
		code, err := newCode()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
		}

		receipt, err := s.Submit(ctx, Order{Code: code, Lines: lines, Total: total})
		if errors.Is(err, ErrCodeCollision) {
			log.Info().Str("order_code", code).Int("attempt", attempt).Msg("cart: order code collision, retrying with a new code")
			continue
		}
		if err != nil {
			return nil, err
		}

		c.Reset()
		return receipt, nil
	}

	return nil, fmt.Errorf("%w: gave up after %d attempts", ErrCodeCollision, maxCheckoutAttempts)
}

func sum(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Price)
	}
	return total.Round(2)
}
