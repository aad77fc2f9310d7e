package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
	"github.com/swapmesh-network/swapmesh-daemon/internal/core/ports"
	brokerinproc "github.com/swapmesh-network/swapmesh-daemon/internal/infrastructure/broker/inproc"
	paymentinmemory "github.com/swapmesh-network/swapmesh-daemon/internal/infrastructure/payment/inmemory"
	"github.com/swapmesh-network/swapmesh-daemon/pkg/signer"
)

const (
	testCommitmentAmount uint64 = 500
	testFeeRateBps       uint32 = 100
	testNodeFunds        uint64 = 100_000

	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

var testMarket = domain.Market{BaseAsset: "base", QuoteAsset: "quote"}

func newTestVerifier() signer.RecoveryVerifier { return signer.NewVerifier() }

// csRig is a commitment service wired to an in-process broker and ledger.
type csRig struct {
	ctx    context.Context
	ledger *paymentinmemory.Ledger
	broker ports.MessageBroker
	cs     *CommitmentService
	csAddr string
}

func newCSRig(t *testing.T) *csRig {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	csSigner, err := signer.New()
	require.NoError(t, err)

	ledger := paymentinmemory.NewLedger()
	broker := brokerinproc.NewService()

	cs := NewCommitmentService(CommitmentServiceOpts{
		Signer:           csSigner,
		Verifier:         signer.NewVerifier(),
		Broker:           broker,
		Payments:         paymentinmemory.NewService(ledger, csSigner.Address()),
		CommitmentAsset:  "commitment",
		CommitmentAmount: testCommitmentAmount,
		FeeRateBps:       testFeeRateBps,
	})
	cs.Start(ctx)

	return &csRig{
		ctx:    ctx,
		ledger: ledger,
		broker: broker,
		cs:     cs,
		csAddr: cs.Address(),
	}
}

// testNode is one funded trading party on the rig's ledger and broker.
type testNode struct {
	signer   *signer.KeySigner
	payments ports.PaymentService
	address  string
}

func (r *csRig) newNode(t *testing.T) *testNode {
	t.Helper()

	nodeSigner, err := signer.New()
	require.NoError(t, err)
	r.ledger.Fund(nodeSigner.Address(), testNodeFunds)

	return &testNode{
		signer:   nodeSigner,
		payments: paymentinmemory.NewService(r.ledger, nodeSigner.Address()),
		address:  nodeSigner.Address(),
	}
}

func (n *testNode) sign(t *testing.T, msg domain.SignedMessage) domain.SignedMessage {
	t.Helper()
	require.NoError(t, n.signer.Sign(msg))
	return msg
}
