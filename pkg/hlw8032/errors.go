package hlw8032

import "errors"

// All of these are recoverable. The next poll or a later frame heals them.
var (
	ErrPartialFrame       = errors.New("hlw8032: partial frame")
	ErrSync               = errors.New("hlw8032: check register mismatch")
	ErrChecksum           = errors.New("hlw8032: checksum error")
	ErrFrameLength        = errors.New("hlw8032: invalid frame length")
	ErrDivisionByZero     = errors.New("hlw8032: division by zero")
	ErrInvalidCoefficient = errors.New("hlw8032: coefficient must be a positive finite number")
)

// Diagnostics receives conditions worth reporting that do not stop the meter.
type Diagnostics interface {
	Report(err error)
}

// DiagnosticsFunc adapts a function to Diagnostics.
type DiagnosticsFunc func(err error)

func (f DiagnosticsFunc) Report(err error) { f(err) }

type discardDiagnostics struct{}

func (discardDiagnostics) Report(error) {}
