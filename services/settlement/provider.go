package settlement

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"
)

// PaymentProvider abstracts the external payment gateway. Checkout only
// needs an order reference to hand to the buyer; confirmation comes back
// through the webhook.
type PaymentProvider interface {
	CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (string, error)
}

// SandboxProvider issues local references without calling out anywhere.
// It is the default wiring for development and tests.
type SandboxProvider struct{}

func NewSandboxProvider() *SandboxProvider {
	return &SandboxProvider{}
}

func (p *SandboxProvider) CreateOrder(ctx context.Context, amount int64, currency string, metadata map[string]string) (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	ref := fmt.Sprintf("sandbox_%s", hex.EncodeToString(buf))
	zap.L().Debug("sandbox payment order created",
		zap.String("provider_ref", ref),
		zap.Int64("amount", amount),
		zap.String("currency", currency),
	)
	return ref, nil
}
