// Package inmemory implements an in-process ledger rail for tests and demo
// deployments: a single shared ledger tracks balances per address and each
// client gets its own receipt stream for transfers addressed to it.
package inmemory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
	"github.com/swapmesh-network/swapmesh-daemon/internal/core/ports"
)

const notificationBufferSize = 64

// Ledger is the shared in-memory balance sheet clients transfer over.
type Ledger struct {
	lock     sync.Mutex
	balances map[string]uint64
	streams  map[string]chan domain.TransferReceipt
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]uint64),
		streams:  make(map[string]chan domain.TransferReceipt),
	}
}

// Fund credits the address out of thin air. Test and demo setup only.
func (l *Ledger) Fund(address string, amount uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.balances[address] += amount
}

// Balance returns the current balance of the address.
func (l *Ledger) Balance(address string) uint64 {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.balances[address]
}

// transfer moves amount between two addresses and notifies the recipient's
// stream. It fails on insufficient funds.
func (l *Ledger) transfer(
	from, to string, amount uint64, identifier uuid.UUID,
) bool {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.balances[from] < amount {
		log.Debugf(
			"transfer of %d from %s rejected, balance %d",
			amount, from, l.balances[from],
		)
		return false
	}
	l.balances[from] -= amount
	l.balances[to] += amount

	if stream, ok := l.streams[to]; ok {
		receipt := domain.TransferReceipt{
			Sender:     from,
			Amount:     amount,
			Identifier: identifier,
			Timestamp:  domain.NowMilli(),
		}
		select {
		case stream <- receipt:
		default:
			log.Warnf("receipt stream of %s is full, notification dropped", to)
		}
	}
	return true
}

func (l *Ledger) stream(address string) chan domain.TransferReceipt {
	l.lock.Lock()
	defer l.lock.Unlock()

	if stream, ok := l.streams[address]; ok {
		return stream
	}
	stream := make(chan domain.TransferReceipt, notificationBufferSize)
	l.streams[address] = stream
	return stream
}

type paymentService struct {
	ledger        *Ledger
	address       string
	notifications chan domain.TransferReceipt
}

// NewService returns the payment service port of one ledger account. The
// receipt stream is registered right away so no transfer lands unobserved
// before the first Notifications call.
func NewService(ledger *Ledger, address string) ports.PaymentService {
	return &paymentService{
		ledger:        ledger,
		address:       address,
		notifications: ledger.stream(address),
	}
}

func (s *paymentService) Transfer(
	_ context.Context, to string, amount uint64, identifier uuid.UUID,
) bool {
	return s.ledger.transfer(s.address, to, amount, identifier)
}

func (s *paymentService) Notifications() <-chan domain.TransferReceipt {
	return s.notifications
}
