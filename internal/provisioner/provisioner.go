// Package provisioner creates and deletes the dedicated store of each tenant through the
// hosted Postgres provider's HTTP API.
package provisioner

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/suteetoe/lavadero/pkg/config"
	"github.com/suteetoe/lavadero/prometheus"
)

// ErrDisabled is returned when no provider credentials are configured
var ErrDisabled = errors.New("tenant provisioning is not configured")

// Branch is a provisioned dedicated store
type Branch struct {
	ID            string
	ConnectionURI string
}

// Provisioner creates and removes dedicated stores
type Provisioner interface {
	Provision(ctx context.Context, slug string) (*Branch, error)
	Delete(ctx context.Context, branchID string) error
}

// New returns the provisioner for cfg: the API client behind a circuit breaker, or Disabled
// when credentials are missing.
func New(cfg config.ProvisionerConfig, logger *zap.Logger) Provisioner {
	if !cfg.Enabled() {
		logger.Warn("Tenant provisioning disabled; new tenants will need manual configuration")
		return Disabled{}
	}
	return NewBreaker(NewClient(cfg, logger), logger)
}

// Disabled refuses every request
type Disabled struct{}

// Provision always fails with ErrDisabled
func (Disabled) Provision(context.Context, string) (*Branch, error) { return nil, ErrDisabled }

// Delete always fails with ErrDisabled
func (Disabled) Delete(context.Context, string) error { return ErrDisabled }

const breakerName = "provisioner-api"

// Breaker stops calling the provider after repeated failures and lets a single trial call through once
// the open period has passed.
type Breaker struct {
	next   Provisioner
	cb     *gobreaker.CircuitBreaker[interface{}]
	logger *zap.Logger
}

// NewBreaker wraps next with a circuit breaker
func NewBreaker(next Provisioner, logger *zap.Logger) *Breaker {
	prometheus.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// Rejected requests say nothing about the provider's health
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			prometheus.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Breaker{next: next, cb: cb, logger: logger}
}

// Provision calls the wrapped provisioner unless the circuit is open
func (b *Breaker) Provision(ctx context.Context, slug string) (*Branch, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Provision(ctx, slug)
	})
	prometheus.RecordProvisionerRequest("provision", outcome(err))
	if err != nil {
		return nil, err
	}
	return result.(*Branch), nil
}

// Delete calls the wrapped provisioner unless the circuit is open
func (b *Breaker) Delete(ctx context.Context, branchID string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Delete(ctx, branchID)
	})
	prometheus.RecordProvisionerRequest("delete", outcome(err))
	return err
}

// State returns the current circuit state
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	default:
		return "error"
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
