package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
)

// PaymentService is the ledger rail moving committed funds around. The
// identifier of a transfer carries the offer id it pays for.
type PaymentService interface {
	// Transfer moves amount to the target address, tagged with the
	// identifier. The returned flag reports whether the rail accepted and
	// executed the transfer.
	Transfer(ctx context.Context, to string, amount uint64, identifier uuid.UUID) bool
	// Notifications returns the stream of incoming transfers addressed to
	// this service's owner.
	Notifications() <-chan domain.TransferReceipt
}
