package submitter

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somnia-chain/nonce-submitter/internal/nonce"
)

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

type fakeBackend struct {
	chainID  *big.Int
	baseFee  *big.Int
	pending  uint64
	atBlock  map[uint64]uint64
	estimate uint64
	sendErr  error

	sent     []*types.Transaction
	lastCall ethereum.CallMsg
}

func (b *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) { return b.chainID, nil }

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return b.pending, nil
}

func (b *fakeBackend) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return b.atBlock[blockNumber.Uint64()], nil
}

func (b *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (b *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: b.baseFee}, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(5_000_000_000), nil
}

func (b *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.lastCall = msg
	return b.estimate, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{TxHash: txHash, Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(2)}, nil
}

func (b *fakeBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func newTestSubmitter(t *testing.T, b *fakeBackend, cfg Config) *Submitter {
	t.Helper()
	key, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	s, err := NewWithBackend(context.Background(), b, key, cfg)
	require.NoError(t, err)
	return s
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey("0x" + testKeyHex)
	require.NoError(t, err)
	plain, err := ParseKey(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(plain.PublicKey))

	_, err = ParseKey("")
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = ParseKey("0xzz")
	assert.Error(t, err)
}

func TestTransactionCount(t *testing.T) {
	b := &fakeBackend{chainID: big.NewInt(50312), pending: 9, atBlock: map[uint64]uint64{100: 4}}
	s := newTestSubmitter(t, b, Config{})

	n, err := s.TransactionCount(context.Background(), s.Address(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), n)

	n, err = s.TransactionCount(context.Background(), s.Address(), big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
}

func TestFillTransactionDynamicFee(t *testing.T) {
	b := &fakeBackend{chainID: big.NewInt(50312), baseFee: big.NewInt(10), estimate: 40_000}
	s := newTestSubmitter(t, b, Config{GasMultiplier: 1.5})

	to := common.HexToAddress("0xb0")
	tx := &nonce.TxRequest{To: &to, Value: big.NewInt(3)}
	require.NoError(t, s.FillTransaction(context.Background(), tx, nil))

	assert.Equal(t, s.Address(), *tx.From)
	assert.Equal(t, int64(50312), tx.ChainID.Int64())
	assert.Nil(t, tx.GasPrice)
	assert.Equal(t, int64(1_000_000_000), tx.GasTipCap.Int64())
	assert.Equal(t, int64(1_000_000_020), tx.GasFeeCap.Int64())
	assert.Equal(t, uint64(60_000), tx.Gas)
	assert.False(t, tx.HasNonce())
	assert.Equal(t, s.Address(), b.lastCall.From)
}

func TestFillTransactionLegacy(t *testing.T) {
	b := &fakeBackend{chainID: big.NewInt(1), estimate: 21_000}
	s := newTestSubmitter(t, b, Config{})

	tx := &nonce.TxRequest{Gas: 50_000}
	require.NoError(t, s.FillTransaction(context.Background(), tx, nil))
	assert.Equal(t, int64(5_000_000_000), tx.GasPrice.Int64())
	assert.Equal(t, uint64(50_000), tx.Gas)

	fixed := newTestSubmitter(t, b, Config{GasPrice: big.NewInt(10_000_000_000)})
	tx = &nonce.TxRequest{}
	require.NoError(t, fixed.FillTransaction(context.Background(), tx, nil))
	assert.Equal(t, int64(10_000_000_000), tx.GasPrice.Int64())
	assert.Equal(t, uint64(21_000), tx.Gas)
}

func TestSendTransaction(t *testing.T) {
	b := &fakeBackend{chainID: big.NewInt(50312), baseFee: big.NewInt(10), estimate: 21_000}
	s := newTestSubmitter(t, b, Config{})

	to := common.HexToAddress("0xb0")
	tx := &nonce.TxRequest{To: &to, Value: big.NewInt(1)}
	_, err := s.SendTransaction(context.Background(), tx, nil)
	require.ErrorIs(t, err, ErrMissingNonce)
	require.Empty(t, b.sent)

	tx.SetNonce(12)
	pending, err := s.SendTransaction(context.Background(), tx, nil)
	require.NoError(t, err)
	require.Len(t, b.sent, 1)

	signed := b.sent[0]
	assert.Equal(t, uint64(12), pending.Nonce)
	assert.Equal(t, signed.Hash(), pending.Hash)
	assert.Equal(t, uint8(types.DynamicFeeTxType), signed.Type())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(50312)), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sender)

	receipt, err := pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signed.Hash(), receipt.TxHash)
}

func TestSendTransactionError(t *testing.T) {
	rpcErr := errors.New("nonce too low")
	b := &fakeBackend{chainID: big.NewInt(1), estimate: 21_000, sendErr: rpcErr}
	s := newTestSubmitter(t, b, Config{})

	tx := &nonce.TxRequest{}
	tx.SetNonce(0)
	_, err := s.SendTransaction(context.Background(), tx, nil)
	require.ErrorIs(t, err, rpcErr)
}

func TestSubmitterBehindManager(t *testing.T) {
	b := &fakeBackend{chainID: big.NewInt(50312), pending: 3, estimate: 21_000}
	s := newTestSubmitter(t, b, Config{})
	m := nonce.NewManager(s, s.Address())

	for i := 0; i < 3; i++ {
		_, err := m.SendTransaction(context.Background(), &nonce.TxRequest{}, nil)
		require.NoError(t, err)
	}
	require.Len(t, b.sent, 3)
	for i, tx := range b.sent {
		assert.Equal(t, uint64(3+i), tx.Nonce())
	}
}
