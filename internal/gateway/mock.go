package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
)

// MockGateway simulates an external gateway with configurable latency and
// failure behavior. It remembers idempotency keys so a redelivered capture or
// refund returns the original result instead of charging twice.
type MockGateway struct {
	name        string
	failureRate float64 // 0.0 to 1.0
	latency     time.Duration
	timeoutRate float64 // 0.0 to 1.0

	mu           sync.Mutex
	seen         map[string]*Result
	captureCalls int
	refundCalls  int
}

type MockGatewayOption func(*MockGateway)

func WithFailureRate(rate float64) MockGatewayOption {
	return func(g *MockGateway) { g.failureRate = rate }
}

func WithLatency(d time.Duration) MockGatewayOption {
	return func(g *MockGateway) { g.latency = d }
}

func WithTimeoutRate(rate float64) MockGatewayOption {
	return func(g *MockGateway) { g.timeoutRate = rate }
}

func NewMockGateway(name string, opts ...MockGatewayOption) *MockGateway {
	g := &MockGateway{
		name:        name,
		failureRate: 0.0,
		latency:     100 * time.Millisecond,
		timeoutRate: 0.0,
		seen:        make(map[string]*Result),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *MockGateway) Name() string { return g.name }

func (g *MockGateway) Capture(ctx context.Context, req CaptureRequest) (*Result, error) {
	if prior := g.replay(req.IdempotencyKey); prior != nil {
		return prior, nil
	}
	g.mu.Lock()
	g.captureCalls++
	g.mu.Unlock()

	// Simulate latency
	select {
	case <-time.After(g.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if rand.Float64() < g.timeoutRate {
		return nil, domainErrors.ErrGatewayTimeout
	}

	if rand.Float64() < g.failureRate {
		return &Result{
			Status:       "failed",
			ErrorMessage: fmt.Sprintf("%s: simulated capture failure for payment %s", g.name, req.PaymentID),
		}, domainErrors.ErrGatewayRejected
	}

	result := &Result{
		TransactionID: fmt.Sprintf("%s_txn_%s", g.name, uuid.New().String()[:8]),
		Status:        "success",
	}
	g.remember(req.IdempotencyKey, result)
	return result, nil
}

func (g *MockGateway) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	if prior := g.replay(req.IdempotencyKey); prior != nil {
		return prior, nil
	}
	g.mu.Lock()
	g.refundCalls++
	g.mu.Unlock()

	select {
	case <-time.After(g.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if rand.Float64() < g.failureRate {
		return &Result{
			Status:       "failed",
			ErrorMessage: fmt.Sprintf("%s: simulated refund failure", g.name),
		}, domainErrors.ErrGatewayRejected
	}

	result := &Result{
		TransactionID: fmt.Sprintf("%s_refund_%s", g.name, uuid.New().String()[:8]),
		Status:        "success",
	}
	g.remember(req.IdempotencyKey, result)
	return result, nil
}

// CaptureCalls reports how many capture attempts actually reached the
// gateway (idempotent replays excluded), for tests asserting exactly-once
// effects.
func (g *MockGateway) CaptureCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captureCalls
}

// RefundCalls reports how many refund attempts actually reached the gateway.
func (g *MockGateway) RefundCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refundCalls
}

func (g *MockGateway) replay(key string) *Result {
	if key == "" {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seen[key]
}

func (g *MockGateway) remember(key string, r *Result) {
	if key == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen[key] = r
}
