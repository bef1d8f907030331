package gateway

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	domainErrors "github.com/veloracommerce/fulfillment/internal/domain/errors"
	"github.com/veloracommerce/fulfillment/internal/domain/payment"
)

// Factory holds the registered gateways and one circuit breaker per gateway.
type Factory struct {
	gateways        map[string]Gateway
	circuitBreakers map[string]*gobreaker.CircuitBreaker[*Result]
}

func NewFactory(gatewayList ...Gateway) *Factory {
	f := &Factory{
		gateways:        make(map[string]Gateway),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker[*Result]),
	}

	if len(gatewayList) == 0 {
		f.Register(NewMockGateway("stripe",
			WithLatency(200*time.Millisecond),
			WithFailureRate(0.05),
		))
		f.Register(NewMockGateway("paypal",
			WithLatency(300*time.Millisecond),
			WithFailureRate(0.08),
		))
	} else {
		for _, g := range gatewayList {
			f.Register(g)
		}
	}

	return f
}

func (f *Factory) Register(g Gateway) {
	f.gateways[g.Name()] = g
	f.circuitBreakers[g.Name()] = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        g.Name(),
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
	})
}

func (f *Factory) Get(name payment.GatewayName) (Gateway, *gobreaker.CircuitBreaker[*Result], error) {
	g, ok := f.gateways[string(name)]
	if !ok {
		return nil, nil, fmt.Errorf("unknown gateway %q: %w", name, domainErrors.ErrGatewayNotFound)
	}
	breaker := f.circuitBreakers[string(name)]
	return g, breaker, nil
}
