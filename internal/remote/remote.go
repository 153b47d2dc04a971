package remote

import (
	"context"
	"errors"

	"kiosque/register/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidSale       = errors.New("invalid sale")
	// ErrUnavailable means the remote store could not be reached at all.
	ErrUnavailable = errors.New("remote store unavailable")
	// ErrRemoteWriteFailed wraps any commit failure surfaced to the operator;
	// the cart is preserved so the sale can be retried without re-entry.
	ErrRemoteWriteFailed = errors.New("remote write failed")
)

// CommitResult is the outcome of an order commit. Duplicate reports that a
// sale with the same id was already committed, in which case the original
// order reference is returned and nothing was written.
type CommitResult struct {
	OrderRef  string
	Duplicate bool
}

// Store is the remote side of the register: the authoritative catalog,
// promotion list, and order ledger.
//
// CommitSale must be all-or-nothing: it creates the order, writes every line
// item, and decrements stock for every product in a single atomic operation.
// A failure partway through must leave no partial writes. The sale id doubles
// as the idempotency key so that replaying an already-committed record is a
// no-op.
type Store interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListPromotions(ctx context.Context) ([]domain.Promotion, error)
	CommitSale(ctx context.Context, record domain.SaleRecord) (CommitResult, error)
	Ping(ctx context.Context) error
	Close() error
}
