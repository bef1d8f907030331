package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/order"
)

// OrderRepository implements order.Repository using PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// CreateOrder inserts an order and its line items.
func (r *OrderRepository) CreateOrder(ctx context.Context, o *order.Order) error {
	amountStr := centsToNumericString(o.TotalCents)
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO orders (id, customer_id, status, total, currency, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.CustomerID, string(o.Status), amountStr, o.Currency, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range o.Items {
		priceStr := centsToNumericString(item.PriceCents)
		_, err := r.db(ctx).Exec(ctx,
			`INSERT INTO line_items (id, order_id, vendor_id, kind, name, price, quantity, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			item.ID, item.OrderID, item.VendorID, string(item.Kind), item.Name,
			priceStr, item.Quantity, string(item.Status), item.CreatedAt, item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}
	return nil
}

// GetOrder retrieves an order with its line items.
func (r *OrderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o := &order.Order{}
	var status, totalStr string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, customer_id, status, total, currency, created_at, updated_at
		 FROM orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.CustomerID, &status, &totalStr, &o.Currency, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = order.OrderStatus(status)

	cents, err := numericStringToCents(totalStr)
	if err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	o.TotalCents = cents

	items, err := r.ListLineItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

// GetLineItem retrieves a single line item.
func (r *OrderRepository) GetLineItem(ctx context.Context, id uuid.UUID) (*order.LineItem, error) {
	return r.scanLineItem(r.db(ctx).QueryRow(ctx,
		`SELECT id, order_id, vendor_id, kind, name, price, quantity, status, created_at, updated_at
		 FROM line_items WHERE id = $1`, id))
}

// ListLineItems lists an order's line items in insertion order.
func (r *OrderRepository) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]*order.LineItem, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, order_id, vendor_id, kind, name, price, quantity, status, created_at, updated_at
		 FROM line_items WHERE order_id = $1 ORDER BY created_at ASC, id ASC`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var items []*order.LineItem
	for rows.Next() {
		item, err := r.scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateLineItemStatus performs the compare-and-swap status write. Zero rows
// affected means another writer moved the item first.
func (r *OrderRepository) UpdateLineItemStatus(ctx context.Context, id uuid.UUID, from, to order.Status, updatedAt time.Time) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE line_items SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), updatedAt, id, string(from),
	)
	if err != nil {
		return fmt.Errorf("update line item status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing row.
		var exists bool
		if err := r.db(ctx).QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM line_items WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check line item: %w", err)
		}
		if !exists {
			return domainErrors.ErrLineItemNotFound
		}
		return domainErrors.ErrConcurrentUpdate
	}
	return nil
}

// UpdateOrderStatus persists the projected order status.
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status order.OrderStatus, updatedAt time.Time) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), updatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrOrderNotFound
	}
	return nil
}

// scanLineItem scans a line item from any source implementing the scanner interface.
func (r *OrderRepository) scanLineItem(s scanner) (*order.LineItem, error) {
	item := &order.LineItem{}
	var kind, priceStr, status string
	err := s.Scan(
		&item.ID, &item.OrderID, &item.VendorID, &kind, &item.Name,
		&priceStr, &item.Quantity, &status, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrLineItemNotFound
		}
		return nil, fmt.Errorf("scan line item: %w", err)
	}

	cents, err := numericStringToCents(priceStr)
	if err != nil {
		return nil, fmt.Errorf("parse line item price: %w", err)
	}
	item.PriceCents = cents
	item.Kind = order.Kind(kind)
	item.Status = order.Status(status)
	return item, nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}
