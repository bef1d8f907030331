package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/veloracommerce/fulfillment/internal/domain/catalog"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
)

// CatalogRepository implements catalog.Repository as a read-only lookup into
// the services table owned by the catalog subsystem.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *CatalogRepository) GetService(ctx context.Context, id uuid.UUID) (*catalog.Service, error) {
	svc := &catalog.Service{}
	var status string
	var durationMinutes int
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, vendor_id, name, duration_minutes, opens_at, closes_at, status, created_at
		 FROM services WHERE id = $1`, id,
	).Scan(&svc.ID, &svc.VendorID, &svc.Name, &durationMinutes, &svc.OpensAt, &svc.ClosesAt, &status, &svc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrServiceNotFound
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	svc.Duration = time.Duration(durationMinutes) * time.Minute
	svc.Status = catalog.ServiceStatus(status)
	return svc, nil
}
