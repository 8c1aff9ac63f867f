package transfer

import (
	"errors"
	"strings"
)

var (
	ErrIncomplete     = errors.New("transfer incomplete")
	ErrShortPayload   = errors.New("payload shorter than announced size")
	ErrPayloadMissing = errors.New("payload not held locally")
)

// TransferError describes a failed step of a transfer.
type TransferError struct {
	Op      string
	File    string
	Err     error
	Details string
}

func (e *TransferError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.File != "" {
		b.WriteString(" " + e.File)
	}
	b.WriteString(": " + e.Err.Error())
	if e.Details != "" {
		b.WriteString(" (" + e.Details + ")")
	}
	return b.String()
}

func (e *TransferError) Unwrap() error { return e.Err }

func NewFileError(op, file string, err error) *TransferError {
	return &TransferError{Op: op, File: file, Err: err}
}

func WrapError(op string, err error, details string) *TransferError {
	return &TransferError{Op: op, Err: err, Details: details}
}
