package nonce

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNoWaiter is returned by PendingTx.Wait when the submitter that produced
// the transaction does not track receipts.
var ErrNoWaiter = errors.New("pending transaction has no receipt waiter")

// Submitter is the capability set the Manager decorates. Implementations own
// signing, field population, broadcast and receipt tracking.
//
// A nil block means the pending state.
type Submitter interface {
	// TransactionCount returns the number of transactions sent from address.
	TransactionCount(ctx context.Context, address common.Address, block *big.Int) (uint64, error)
	// FillTransaction populates every field of tx the caller left empty.
	FillTransaction(ctx context.Context, tx *TxRequest, block *big.Int) error
	// SendTransaction broadcasts tx.
	SendTransaction(ctx context.Context, tx *TxRequest, block *big.Int) (*PendingTx, error)
}

// TxRequest is an unsigned transaction draft. Nil fields are left for the
// submitter to fill.
type TxRequest struct {
	From      *common.Address
	To        *common.Address
	Nonce     *uint64
	Gas       uint64
	GasPrice  *big.Int
	GasFeeCap *big.Int
	GasTipCap *big.Int
	Value     *big.Int
	Data      []byte
	ChainID   *big.Int
}

// HasNonce reports whether the draft carries an explicit nonce.
func (r *TxRequest) HasNonce() bool {
	return r.Nonce != nil
}

// SetNonce assigns n to the draft.
func (r *TxRequest) SetNonce(n uint64) {
	r.Nonce = &n
}

// Clone returns a deep copy of the draft.
func (r *TxRequest) Clone() *TxRequest {
	c := &TxRequest{
		Gas:       r.Gas,
		GasPrice:  cloneBig(r.GasPrice),
		GasFeeCap: cloneBig(r.GasFeeCap),
		GasTipCap: cloneBig(r.GasTipCap),
		Value:     cloneBig(r.Value),
		ChainID:   cloneBig(r.ChainID),
	}
	if r.From != nil {
		from := *r.From
		c.From = &from
	}
	if r.To != nil {
		to := *r.To
		c.To = &to
	}
	if r.Nonce != nil {
		c.SetNonce(*r.Nonce)
	}
	if r.Data != nil {
		c.Data = common.CopyBytes(r.Data)
	}
	return c
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// WaitFunc blocks until the transaction is mined or ctx is done.
type WaitFunc func(ctx context.Context) (*types.Receipt, error)

// PendingTx is a broadcast but unconfirmed transaction.
type PendingTx struct {
	Hash  common.Hash
	Nonce uint64
	Tx    *types.Transaction

	wait WaitFunc
}

// NewPendingTx wraps a signed transaction. wait may be nil.
func NewPendingTx(tx *types.Transaction, wait WaitFunc) *PendingTx {
	return &PendingTx{
		Hash:  tx.Hash(),
		Nonce: tx.Nonce(),
		Tx:    tx,
		wait:  wait,
	}
}

// Wait blocks until the transaction receipt is available.
func (p *PendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	if p.wait == nil {
		return nil, ErrNoWaiter
	}
	return p.wait(ctx)
}
