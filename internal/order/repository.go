package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrDuplicateCode = errors.New("order code already exists")
	ErrStorage       = errors.New("order storage error")
)

type Repository interface {
	Insert(ctx context.Context, order *Order) (int64, error)
	GetByCode(ctx context.Context, code string) (*Order, error)
	UpdateStatus(ctx context.Context, code string, newStatus Status) error
	SetCallbackToken(ctx context.Context, code, callbackTokenHash string) error
	MarkPaymentPending(ctx context.Context, code string) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

// storedItem keeps prices as JSON numbers without losing decimal precision.
type storedItem struct {
	Name  string      `json:"name"`
	Price json.Number `json:"price"`
}

func encodeItems(items []Item) ([]byte, error) {
	stored := make([]storedItem, 0, len(items))
	for _, item := range items {
		stored = append(stored, storedItem{Name: item.Name, Price: json.Number(item.Price.String())})
	}
	return json.Marshal(stored)
}

func decodeItems(raw []byte) ([]Item, error) {
	var stored []storedItem
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(stored))
	for _, s := range stored {
		price, err := decimal.NewFromString(s.Price.String())
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", s.Name, err)
		}
		items = append(items, Item{Name: s.Name, Price: price})
	}
	return items, nil
}

func (r *postgresRepository) Insert(ctx context.Context, order *Order) (int64, error) {
	itemsJSON, err := encodeItems(order.Items)
	if err != nil {
		return 0, fmt.Errorf("%w: repository: failed to encode items: %v", ErrStorage, err)
	}

	query := `
		INSERT INTO orders (code, items, total, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id
	`

	err = r.db.QueryRow(ctx, query,
		order.Code,
		itemsJSON,
		order.Total.StringFixed(2),
		string(order.Status),
		order.CreatedAt,
	).Scan(&order.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			log.Warn().Str("order_code", order.Code).Str("constraint", pgErr.ConstraintName).Msg("repository: duplicate order code")
			return 0, ErrDuplicateCode
		}
		log.Error().Err(err).Str("order_code", order.Code).Msg("repository: failed to insert order")
		return 0, fmt.Errorf("%w: repository: failed to insert order %s: %v", ErrStorage, order.Code, err)
	}

	order.UpdatedAt = order.CreatedAt

	return order.ID, nil
}

func (r *postgresRepository) GetByCode(ctx context.Context, code string) (*Order, error) {
	query := `
		SELECT id, code, items, total::text, status, COALESCE(callback_token_hash, ''), created_at, updated_at
		FROM orders
		WHERE code = $1
	`

	var (
		order     Order
		itemsJSON []byte
		total     string
		status    string
	)
	err := r.db.QueryRow(ctx, query, code).Scan(
		&order.ID,
		&order.Code,
		&itemsJSON,
		&total,
		&status,
		&order.CallbackTokenHash,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: repository: failed to select order by code %s: %v", ErrStorage, code, err)
	}

	order.Status = Status(status)
	if order.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("%w: repository: invalid total for order %s: %v", ErrStorage, code, err)
	}
	if order.Items, err = decodeItems(itemsJSON); err != nil {
		return nil, fmt.Errorf("%w: repository: invalid items for order %s: %v", ErrStorage, code, err)
	}

	return &order, nil
}

// UpdateStatus moves the order forward in a single conditional UPDATE so that
// concurrent writers can never move it backward.
func (r *postgresRepository) UpdateStatus(ctx context.Context, code string, newStatus Status) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = now()
		WHERE code = $2 AND status = ANY($3)
	`

	cmdTag, err := r.db.Exec(ctx, query, string(newStatus), code, predecessors(newStatus))
	if err != nil {
		log.Error().Err(err).Str("order_code", code).Stringer("new_status", newStatus).Msg("repository: failed to update order status")
		return fmt.Errorf("%w: repository: failed to update order status %s: %v", ErrStorage, code, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return r.explainRejectedUpdate(ctx, code, newStatus)
	}

	return nil
}

// SetCallbackToken stores the callback token hash of a payable order without
// touching its status.
func (r *postgresRepository) SetCallbackToken(ctx context.Context, code, callbackTokenHash string) error {
	query := `
		UPDATE orders
		SET callback_token_hash = $1, updated_at = now()
		WHERE code = $2 AND status = ANY($3)
	`

	cmdTag, err := r.db.Exec(ctx, query, callbackTokenHash, code, payableStatuses())
	if err != nil {
		log.Error().Err(err).Str("order_code", code).Msg("repository: failed to store callback token")
		return fmt.Errorf("%w: repository: failed to store callback token %s: %v", ErrStorage, code, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return r.explainRejectedUpdate(ctx, code, StatusPaymentPending)
	}

	return nil
}

func (r *postgresRepository) MarkPaymentPending(ctx context.Context, code string) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = now()
		WHERE code = $2 AND status = ANY($3)
	`

	cmdTag, err := r.db.Exec(ctx, query, string(StatusPaymentPending), code, payableStatuses())
	if err != nil {
		log.Error().Err(err).Str("order_code", code).Msg("repository: failed to mark payment pending")
		return fmt.Errorf("%w: repository: failed to mark payment pending %s: %v", ErrStorage, code, err)
	}

	if cmdTag.RowsAffected() == 0 {
		return r.explainRejectedUpdate(ctx, code, StatusPaymentPending)
	}

	return nil
}

func payableStatuses() []string {
	return []string{string(StatusPending), string(StatusPaymentPending)}
}

// explainRejectedUpdate tells apart a missing order, a repeated status and an
// illegal transition after a conditional update matched no rows.
func (r *postgresRepository) explainRejectedUpdate(ctx context.Context, code string, newStatus Status) error {
	var current string
	err := r.db.QueryRow(ctx, `SELECT status FROM orders WHERE code = $1`, code).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Warn().Str("order_code", code).Stringer("new_status", newStatus).Msg("repository: order not found for status update")
			return ErrOrderNotFound
		}
		return fmt.Errorf("%w: repository: failed to read status of %s: %v", ErrStorage, code, err)
	}

	if Status(current) == newStatus {
		return ErrStatusAlreadySet
	}

	return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, current, newStatus)
}
