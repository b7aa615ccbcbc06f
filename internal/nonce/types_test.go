package nonce

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxRequestClone(t *testing.T) {
	to := common.HexToAddress("0xb0")
	r := &TxRequest{
		To:       &to,
		Value:    big.NewInt(100),
		GasPrice: big.NewInt(7),
		Data:     []byte{1, 2, 3},
	}
	r.SetNonce(4)

	c := r.Clone()
	require.Equal(t, r, c)

	c.SetNonce(5)
	c.Value.SetInt64(1)
	c.Data[0] = 9
	*c.To = common.HexToAddress("0xc0")

	assert.Equal(t, uint64(4), *r.Nonce)
	assert.Equal(t, int64(100), r.Value.Int64())
	assert.Equal(t, byte(1), r.Data[0])
	assert.Equal(t, common.HexToAddress("0xb0"), *r.To)
}

func TestPendingTxWait(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Nonce: 11})
	want := &types.Receipt{Status: types.ReceiptStatusSuccessful}

	p := NewPendingTx(tx, func(ctx context.Context) (*types.Receipt, error) {
		return want, nil
	})
	assert.Equal(t, uint64(11), p.Nonce)
	assert.Equal(t, tx.Hash(), p.Hash)

	got, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, want, got)
}
