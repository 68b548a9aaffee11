// Package fixed implements the checked integer and fixed-point arithmetic used
// by the lending engine. Every operation that can lose precision names its
// rounding direction and every operation that can overflow reports it.
package fixed

import (
	"errors"
	"fmt"
)

// ErrArithmetic is the class shared by every arithmetic failure so callers can
// distinguish math aborts from validation failures.
var ErrArithmetic = errors.New("arithmetic error")

var (
	ErrOverflow       = fmt.Errorf("%w: overflow", ErrArithmetic)
	ErrUnderflow      = fmt.Errorf("%w: underflow", ErrArithmetic)
	ErrDivisionByZero = fmt.Errorf("%w: division by zero", ErrArithmetic)
	ErrInvalidDecimal = errors.New("fixed: invalid decimal string")
)
