package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ServiceStatus mirrors the catalog's notion of whether a service is
// bookable.
type ServiceStatus string

const (
	StatusActive   ServiceStatus = "active"
	StatusInactive ServiceStatus = "inactive"
)

// Service is the read model for a bookable service from the vendor catalog.
// The fulfillment core only reads it; catalog CRUD lives elsewhere.
type Service struct {
	ID        uuid.UUID
	VendorID  uuid.UUID
	Name      string
	Duration  time.Duration
	OpensAt   int // first bookable hour of day, 0-23
	ClosesAt  int // last bookable hour of day (exclusive)
	Status    ServiceStatus
	CreatedAt time.Time
}

// Active reports whether the service accepts new bookings.
func (s *Service) Active() bool {
	return s.Status == StatusActive
}

// Repository is the read-only lookup port into the service catalog.
type Repository interface {
	GetService(ctx context.Context, id uuid.UUID) (*Service, error)
}
