// Package submitter signs and broadcasts transactions through a go-ethereum
// RPC backend. It is the inner submitter the nonce manager decorates: it
// fills gas and fee fields, signs with a local key and sends, but expects
// the nonce to be chosen by the caller.
package submitter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/somnia-chain/nonce-submitter/internal/nonce"
)

var (
	// ErrMissingNonce is returned by SendTransaction for drafts without a nonce.
	ErrMissingNonce = errors.New("transaction has no nonce")
	// ErrMissingKey is returned when no secret key is configured.
	ErrMissingKey = errors.New("secret key is required")
)

// Backend is the subset of *ethclient.Client the submitter uses.
type Backend interface {
	bind.DeployBackend

	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Config holds the submitter configuration.
type Config struct {
	RPCURL    string
	SecretKey string // hex, optional 0x prefix

	// GasMultiplier scales estimated gas limits. Values below 1 are treated as 1.
	GasMultiplier float64
	// GasPrice forces legacy transactions at this price when set.
	GasPrice *big.Int
}

// Submitter implements nonce.Submitter for one key.
type Submitter struct {
	backend Backend
	closer  func()

	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer

	gasMultiplier float64
	gasPrice      *big.Int
}

var _ nonce.Submitter = (*Submitter)(nil)

// New connects to cfg.RPCURL and creates a Submitter for cfg.SecretKey.
func New(ctx context.Context, cfg Config) (*Submitter, error) {
	key, err := ParseKey(cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", cfg.RPCURL, err)
	}

	s, err := NewWithBackend(ctx, client, key, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.closer = client.Close

	slog.Info("Submitter initialized",
		"address", s.address.Hex(),
		"chainID", s.chainID,
		"rpc", cfg.RPCURL,
	)
	return s, nil
}

// NewWithBackend creates a Submitter over an existing backend. Only the gas
// settings of cfg are used.
func NewWithBackend(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, cfg Config) (*Submitter, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	multiplier := cfg.GasMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	return &Submitter{
		backend:       backend,
		key:           key,
		address:       crypto.PubkeyToAddress(key.PublicKey),
		chainID:       chainID,
		signer:        types.LatestSignerForChainID(chainID),
		gasMultiplier: multiplier,
		gasPrice:      cfg.GasPrice,
	}, nil
}

// ParseKey decodes a hex ECDSA private key, with or without a 0x prefix.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrMissingKey
	}
	hexKey = strings.TrimPrefix(hexKey, "0x")

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	return key, nil
}

// Address returns the address derived from the signing key.
func (s *Submitter) Address() common.Address {
	return s.address
}

// ChainID returns the chain ID read at construction.
func (s *Submitter) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Backend returns the RPC backend.
func (s *Submitter) Backend() Backend {
	return s.backend
}

// Close releases the RPC connection if the submitter opened it.
func (s *Submitter) Close() {
	if s.closer != nil {
		s.closer()
	}
}

// TransactionCount returns the nonce of address at block, or the pending
// nonce when block is nil.
func (s *Submitter) TransactionCount(ctx context.Context, address common.Address, block *big.Int) (uint64, error) {
	if block == nil {
		return s.backend.PendingNonceAt(ctx, address)
	}
	return s.backend.NonceAt(ctx, address, block)
}

// FillTransaction sets sender, chain ID, fees and gas limit where missing.
// The nonce is left alone.
func (s *Submitter) FillTransaction(ctx context.Context, tx *nonce.TxRequest, block *big.Int) error {
	if tx.From == nil {
		from := s.address
		tx.From = &from
	}
	if tx.ChainID == nil {
		tx.ChainID = new(big.Int).Set(s.chainID)
	}

	if err := s.fillFees(ctx, tx); err != nil {
		return err
	}

	if tx.Gas == 0 {
		gas, err := s.backend.EstimateGas(ctx, callMsg(tx))
		if err != nil {
			return fmt.Errorf("failed to estimate gas: %w", err)
		}
		tx.Gas = uint64(float64(gas) * s.gasMultiplier)
	}
	return nil
}

func (s *Submitter) fillFees(ctx context.Context, tx *nonce.TxRequest) error {
	if tx.GasPrice != nil || (tx.GasFeeCap != nil && tx.GasTipCap != nil) {
		return nil
	}
	if s.gasPrice != nil {
		tx.GasPrice = new(big.Int).Set(s.gasPrice)
		return nil
	}

	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest header: %w", err)
	}

	if head.BaseFee == nil {
		price, err := s.backend.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("failed to suggest gas price: %w", err)
		}
		tx.GasPrice = price
		return nil
	}

	if tx.GasTipCap == nil {
		tip, err := s.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return fmt.Errorf("failed to suggest gas tip cap: %w", err)
		}
		tx.GasTipCap = tip
	}
	if tx.GasFeeCap == nil {
		tx.GasFeeCap = new(big.Int).Add(tx.GasTipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return nil
}

// SendTransaction fills, signs and broadcasts tx. The returned PendingTx
// waits for the receipt with bind.WaitMined.
func (s *Submitter) SendTransaction(ctx context.Context, tx *nonce.TxRequest, block *big.Int) (*nonce.PendingTx, error) {
	if !tx.HasNonce() {
		return nil, ErrMissingNonce
	}
	if err := s.FillTransaction(ctx, tx, block); err != nil {
		return nil, err
	}

	signed, err := types.SignTx(types.NewTx(s.txData(tx)), s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	slog.Debug("Submitter sending transaction",
		"nonce", signed.Nonce(),
		"txHash", signed.Hash().Hex(),
	)

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send failed: %w", err)
	}

	return nonce.NewPendingTx(signed, func(ctx context.Context) (*types.Receipt, error) {
		return bind.WaitMined(ctx, s.backend, signed)
	}), nil
}

func (s *Submitter) txData(tx *nonce.TxRequest) types.TxData {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	if tx.GasPrice != nil {
		return &types.LegacyTx{
			Nonce:    *tx.Nonce,
			GasPrice: tx.GasPrice,
			Gas:      tx.Gas,
			To:       tx.To,
			Value:    value,
			Data:     tx.Data,
		}
	}
	return &types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     *tx.Nonce,
		GasTipCap: tx.GasTipCap,
		GasFeeCap: tx.GasFeeCap,
		Gas:       tx.Gas,
		To:        tx.To,
		Value:     value,
		Data:      tx.Data,
	}
}

func callMsg(tx *nonce.TxRequest) ethereum.CallMsg {
	msg := ethereum.CallMsg{
		To:        tx.To,
		GasPrice:  tx.GasPrice,
		GasFeeCap: tx.GasFeeCap,
		GasTipCap: tx.GasTipCap,
		Value:     tx.Value,
		Data:      tx.Data,
	}
	if tx.From != nil {
		msg.From = *tx.From
	}
	return msg
}
