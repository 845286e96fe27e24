package allocator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"basenames-agent-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultDepositWindow is how long a deposit address accepts payment
const DefaultDepositWindow = 30 * time.Minute

const derivationChain = "evm"

var ErrAllocation = errors.New("deposit address allocation failed")

type Deriver interface {
	DeriveAddress(ctx context.Context, path, chain string) (string, error)
}

type Quoter interface {
	QuotePrice(name string) decimal.Decimal
}

// Allocator binds a (requester, name) pair to a derived deposit address and expiry.
// It does not persist anything.
type Allocator struct {
	deriver Deriver
	quoter  Quoter
	window  time.Duration
	now     func() time.Time
}

func New(deriver Deriver, quoter Quoter, window time.Duration) *Allocator {
	if window <= 0 {
		window = DefaultDepositWindow
	}
	return &Allocator{
		deriver: deriver,
		quoter:  quoter,
		window:  window,
		now:     time.Now,
	}
}

// DerivationPath is a pure function of the pair so retries re-derive the same address
func DerivationPath(requesterId, name string) string {
	return requesterId + "-" + name
}

func (a *Allocator) Allocate(ctx context.Context, requesterId, name string) (*models.Allocation, error) {
	path := DerivationPath(requesterId, name)

	address, err := a.deriver.DeriveAddress(ctx, path, derivationChain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: no address returned for %s", ErrAllocation, path)
	}

	allocation := &models.Allocation{
		RequesterId:    requesterId,
		Name:           name,
		DerivationPath: path,
		DepositAddress: address,
		Price:          a.quoter.QuotePrice(name),
		ExpiresAt:      a.now().UTC().Add(a.window),
	}

	zap.L().Info("Allocated deposit address",
		zap.String("requester_id", requesterId),
		zap.String("name", name),
		zap.String("deposit_address", address),
		zap.String("price", allocation.Price.String()),
		zap.Time("expires_at", allocation.ExpiresAt))

	return allocation, nil
}
