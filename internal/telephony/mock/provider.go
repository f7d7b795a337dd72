package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jamesclaimtechio/rmcdialer/internal/config"
	"github.com/jamesclaimtechio/rmcdialer/internal/telephony"
)

// Provider simulates the telephony provider for local development. It
// allocates a fake call SID; status callbacks are expected to be driven by
// hand or by test fixtures.
type Provider struct {
	timeout time.Duration
	rng     *rand.Rand
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.TelephonyConfig) *Provider {
	return &Provider{
		timeout: cfg.RequestTimeout,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PlaceCall simulates placing an outbound call.
func (p *Provider) PlaceCall(ctx context.Context, req telephony.DialRequest) (telephony.DialResult, error) {
	select {
	case <-ctx.Done():
		return telephony.DialResult{}, ctx.Err()
	case <-time.After(time.Duration(10+p.rng.Intn(90)) * time.Millisecond):
	}

	sid := fmt.Sprintf("CA%030x", p.rng.Int63())
	return telephony.DialResult{CallSid: sid}, nil
}
