// Package startup provides startup checks for the nonce submitter.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CheckResult represents the result of a startup check.
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   error
}

// ChainReader is the RPC surface the checks need.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// NonceInitializer loads the starting nonce.
type NonceInitializer interface {
	Initialize(ctx context.Context, block *big.Int) (uint64, error)
}

// Checker runs startup checks.
type Checker struct {
	results []CheckResult
}

// NewChecker creates a new startup checker.
func NewChecker() *Checker {
	return &Checker{
		results: make([]CheckResult, 0),
	}
}

// Results returns all check results.
func (c *Checker) Results() []CheckResult {
	return c.results
}

// addResult adds a check result and logs it.
func (c *Checker) addResult(name string, passed bool, message string, err error) {
	result := CheckResult{
		Name:    name,
		Passed:  passed,
		Message: message,
		Error:   err,
	}
	c.results = append(c.results, result)

	if passed {
		slog.Info("Startup check passed", "check", name, "message", message)
	} else {
		if err != nil {
			slog.Error("Startup check failed", "check", name, "message", message, "error", err)
		} else {
			slog.Error("Startup check failed", "check", name, "message", message)
		}
	}
}

// CheckRPC verifies the node answers and reports the expected chain.
func (c *Checker) CheckRPC(ctx context.Context, chain ChainReader, wantChainID *big.Int) error {
	const checkName = "RPC"

	slog.Info("Running startup check", "check", checkName)

	chainID, err := chain.ChainID(ctx)
	if err != nil {
		c.addResult(checkName, false, "Cannot reach RPC node", err)
		return err
	}
	if wantChainID != nil && chainID.Cmp(wantChainID) != 0 {
		err := fmt.Errorf("chain ID changed: signer uses %s, node reports %s", wantChainID, chainID)
		c.addResult(checkName, false, "Unexpected chain ID", err)
		return err
	}

	c.addResult(checkName, true, fmt.Sprintf("Connected (chain ID %s)", chainID), nil)
	return nil
}

// CheckBalance reports whether the account can pay for gas. A zero balance
// fails the check but is returned as nil so startup continues; the account
// may be funded later.
func (c *Checker) CheckBalance(ctx context.Context, chain ChainReader, account common.Address) error {
	const checkName = "Balance"

	slog.Info("Running startup check", "check", checkName)

	balance, err := chain.BalanceAt(ctx, account, nil)
	if err != nil {
		c.addResult(checkName, false, "Failed to read balance", err)
		return err
	}
	if balance.Sign() == 0 {
		c.addResult(checkName, false, fmt.Sprintf("Account %s has no funds", account.Hex()), nil)
		return nil
	}

	c.addResult(checkName, true, fmt.Sprintf("Account %s holds %s wei", account.Hex(), balance), nil)
	return nil
}

// CheckNonce initializes the nonce manager so the first transaction does not
// pay for the remote query.
func (c *Checker) CheckNonce(ctx context.Context, nonces NonceInitializer) error {
	const checkName = "Nonce"

	slog.Info("Running startup check", "check", checkName)

	n, err := nonces.Initialize(ctx, nil)
	if err != nil {
		c.addResult(checkName, false, "Failed to load account nonce", err)
		return err
	}

	c.addResult(checkName, true, fmt.Sprintf("Next nonce %d", n), nil)
	return nil
}

// Passed reports whether every check so far passed.
func (c *Checker) Passed() bool {
	for _, r := range c.results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// PrintSummary logs a summary of all startup checks.
func (c *Checker) PrintSummary() {
	passed := 0
	for _, r := range c.results {
		if r.Passed {
			passed++
		}
	}
	slog.Info("Startup checks complete",
		"passed", passed,
		"failed", len(c.results)-passed,
		"total", len(c.results),
	)
}
