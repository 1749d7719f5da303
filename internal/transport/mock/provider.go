package mock

import (
	"context"
	"math/rand"
	"time"

	"github.com/acme/lead-pipeline-scheduler/internal/config"
	"github.com/acme/lead-pipeline-scheduler/internal/transport"
)

// Provider simulates outbound message delivery.
type Provider struct {
	successRate float64
	rng         *rand.Rand
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.TransportConfig) *Provider {
	rate := cfg.SuccessRate
	if rate <= 0 || rate > 1 {
		rate = 0.8
	}
	return &Provider{
		successRate: rate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Send simulates a delivery attempt.
func (p *Provider) Send(ctx context.Context, msg transport.Message) (transport.Result, error) {
	duration := time.Duration(100+p.rng.Intn(900)) * time.Millisecond

	select {
	case <-ctx.Done():
		return transport.Result{Retryable: true, Duration: duration, Error: ctx.Err().Error()}, ctx.Err()
	case <-time.After(duration):
	}

	if p.rng.Float64() <= p.successRate {
		return transport.Result{Delivered: true, Duration: duration}, nil
	}

	retryable := p.rng.Float64() < 0.7
	return transport.Result{Retryable: retryable, Duration: duration, Error: "simulated delivery failure"}, nil
}
