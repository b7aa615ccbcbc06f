// Package nonce assigns nonces locally for a single account so that many
// transactions can be signed and sent without waiting for each one to reach
// the mempool.
//
// Manager decorates an inner Submitter. Every fill and send holds the
// manager's exclusive lock for its whole duration, including the calls into
// the inner Submitter, so no two calls on one Manager can observe or assign
// the same nonce. Callers that need bounded latency pass a context with a
// deadline; it bounds both the wait for the lock and the inner calls.
package nonce

import (
	"context"
	"log/slog"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Count query reasons, used in logs and metrics.
const (
	reasonInit    = "init"
	reasonRecover = "recover"
	reasonResync  = "resync"
)

// state is the counter and its one-shot init flag, guarded by Manager.lock.
type state struct {
	initialized bool
	value       uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithMetrics sets the collectors the manager reports to.
func WithMetrics(mt *Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// Manager tracks the next nonce of one account in front of an inner Submitter.
// It implements Submitter itself.
type Manager struct {
	inner   Submitter
	address common.Address

	lock *rwLock
	st   state

	log     *slog.Logger
	metrics *Metrics
}

var _ Submitter = (*Manager)(nil)

// NewManager creates a manager for address with an uninitialized nonce. The
// first call that needs a nonce loads it from inner.
func NewManager(inner Submitter, address common.Address, opts ...Option) *Manager {
	m := &Manager{
		inner:   inner,
		address: address,
		lock:    newRWLock(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "nonce", "address", address.Hex())
	return m
}

// Address returns the account the manager tracks.
func (m *Manager) Address() common.Address {
	return m.address
}

// Inner returns the decorated submitter.
func (m *Manager) Inner() Submitter {
	return m.inner
}

// Initialize loads the nonce from the inner submitter unless that already
// happened, and returns the stored value.
func (m *Manager) Initialize(ctx context.Context, block *big.Int) (uint64, error) {
	if err := m.lock.Lock(ctx); err != nil {
		return 0, err
	}
	defer m.lock.Unlock()

	return m.getOrInit(ctx, block)
}

// Next returns the nonce the manager will assign next. It is zero until the
// manager is initialized.
func (m *Manager) Next() uint64 {
	// Background never cancels, so RLock cannot fail.
	_ = m.lock.RLock(context.Background())
	defer m.lock.RUnlock()

	return m.st.value
}

// Resync replaces the stored nonce with the remote transaction count and
// marks the manager initialized. Use it after the account was driven from
// elsewhere while the manager was idle.
func (m *Manager) Resync(ctx context.Context, block *big.Int) (uint64, error) {
	if err := m.lock.Lock(ctx); err != nil {
		return 0, err
	}
	defer m.lock.Unlock()

	n, err := m.transactionCount(ctx, block, reasonResync)
	if err != nil {
		return 0, err
	}
	old := m.st.value
	m.st.initialized = true
	m.store(n)

	m.log.Info("Nonce resynced", "old", old, "new", n)
	return n, nil
}

// TransactionCount passes through to the inner submitter. The local counter
// is neither consulted nor updated.
func (m *Manager) TransactionCount(ctx context.Context, address common.Address, block *big.Int) (uint64, error) {
	n, err := m.inner.TransactionCount(ctx, address, block)
	if err != nil {
		return 0, wrap(OpTransactionCount, err)
	}
	return n, nil
}

// FillTransaction assigns the next nonce to tx when it has none and lets the
// inner submitter fill the remaining fields.
//
// On success the stored nonce becomes the working nonce plus one. When tx
// already carried a nonce the working nonce is the stored value, not the
// nonce of tx, so mixing explicit and assigned nonces can move the counter
// away from the account's real state. Resync repairs that.
func (m *Manager) FillTransaction(ctx context.Context, tx *TxRequest, block *big.Int) error {
	if err := m.lock.Lock(ctx); err != nil {
		return err
	}
	defer m.lock.Unlock()

	n := m.st.value
	if !tx.HasNonce() {
		var err error
		n, err = m.getOrInit(ctx, block)
		if err != nil {
			m.metrics.fill(m.address.Hex(), "error")
			return err
		}
		tx.SetNonce(n)
	}

	next, err := increment(n)
	if err != nil {
		m.metrics.fill(m.address.Hex(), "overflow")
		return err
	}

	if err := m.inner.FillTransaction(ctx, tx, block); err != nil {
		m.metrics.fill(m.address.Hex(), "error")
		return wrap(OpFill, err)
	}

	m.store(next)
	m.metrics.fill(m.address.Hex(), "ok")
	m.log.Debug("Transaction filled", "nonce", *tx.Nonce, "next", next)
	return nil
}

// SendTransaction assigns the next nonce to tx when it has none and
// broadcasts it through the inner submitter.
//
// If the broadcast fails and the remote transaction count turns out to be
// above the local nonce, some other sender used the account. The stored
// nonce then jumps to the remote count and the broadcast is retried once
// with tx.Nonce set to that count, replacing any nonce tx carried. The
// retry's outcome is returned. In every other failure case the broadcast
// error is returned and the stored nonce is unchanged.
func (m *Manager) SendTransaction(ctx context.Context, tx *TxRequest, block *big.Int) (*PendingTx, error) {
	if err := m.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer m.lock.Unlock()

	addr := m.address.Hex()

	local := m.st.value
	if !tx.HasNonce() {
		var err error
		local, err = m.getOrInit(ctx, block)
		if err != nil {
			m.metrics.send(addr, "error")
			return nil, err
		}
		tx.SetNonce(local)
	}

	next, err := increment(local)
	if err != nil {
		m.metrics.send(addr, "overflow")
		return nil, err
	}

	pending, sendErr := m.inner.SendTransaction(ctx, tx, block)
	if sendErr == nil {
		m.store(next)
		m.metrics.send(addr, "ok")
		m.log.Debug("Transaction sent", "nonce", *tx.Nonce, "next", next)
		return pending, nil
	}

	remote, err := m.transactionCount(ctx, block, reasonRecover)
	if err != nil {
		m.log.Warn("Failed to query transaction count after send failure",
			"nonce", *tx.Nonce,
			"sendError", sendErr,
			"error", err,
		)
		m.metrics.send(addr, "error")
		return nil, err
	}
	if remote <= local {
		m.metrics.send(addr, "error")
		return nil, wrap(OpSend, sendErr)
	}

	m.log.Warn("Stale nonce detected, retrying with remote transaction count",
		"local", local,
		"remote", remote,
		"error", sendErr,
	)
	m.store(remote)
	tx.SetNonce(remote)

	next, err = increment(remote)
	if err != nil {
		m.metrics.recovery(addr, "overflow")
		m.metrics.send(addr, "overflow")
		return nil, err
	}

	pending, err = m.inner.SendTransaction(ctx, tx, block)
	if err != nil {
		m.metrics.recovery(addr, "error")
		m.metrics.send(addr, "error")
		return nil, wrap(OpSend, err)
	}

	m.store(next)
	m.metrics.recovery(addr, "ok")
	m.metrics.send(addr, "retried")
	m.log.Debug("Transaction sent after retry", "nonce", remote, "next", next)
	return pending, nil
}

// getOrInit must be called with the exclusive lock held. A failed query
// leaves the manager uninitialized so the next caller retries.
func (m *Manager) getOrInit(ctx context.Context, block *big.Int) (uint64, error) {
	if m.st.initialized {
		return m.st.value, nil
	}

	n, err := m.transactionCount(ctx, block, reasonInit)
	if err != nil {
		return 0, err
	}
	m.st.initialized = true
	m.store(n)

	m.log.Info("Nonce initialized", "nonce", n)
	return n, nil
}

func (m *Manager) transactionCount(ctx context.Context, block *big.Int, reason string) (uint64, error) {
	m.metrics.countQuery(m.address.Hex(), reason)
	n, err := m.inner.TransactionCount(ctx, m.address, block)
	if err != nil {
		return 0, wrap(OpTransactionCount, err)
	}
	return n, nil
}

func (m *Manager) store(n uint64) {
	m.st.value = n
	m.metrics.setNext(m.address.Hex(), n)
}

func increment(n uint64) (uint64, error) {
	if n == math.MaxUint64 {
		return 0, ErrNonceOverflow
	}
	return n + 1, nil
}
