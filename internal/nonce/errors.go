package nonce

import (
	"errors"
	"fmt"
)

// ErrNonceOverflow is returned when the next nonce would not fit in a uint64.
// The stored nonce is left untouched.
var ErrNonceOverflow = errors.New("nonce overflow")

// Submitter operations reported in SubmitterError.
const (
	OpTransactionCount = "transaction count"
	OpFill             = "fill"
	OpSend             = "send"
)

// SubmitterError carries an error returned by the inner Submitter unchanged.
type SubmitterError struct {
	Op  string
	Err error
}

func (e *SubmitterError) Error() string {
	return fmt.Sprintf("nonce manager: %s: %v", e.Op, e.Err)
}

func (e *SubmitterError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	return &SubmitterError{Op: op, Err: err}
}
