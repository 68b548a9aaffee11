package fixed

import "github.com/holiman/uint256"

// Zero returns a fresh zero amount.
func Zero() *uint256.Int { return new(uint256.Int) }

// Amount returns v as a fresh 256-bit amount.
func Amount(v uint64) *uint256.Int { return uint256.NewInt(v) }

// Copy returns a copy of a, treating nil as zero.
func Copy(a *uint256.Int) *uint256.Int {
	if a == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(a)
}

// IsZero reports whether a is nil or zero.
func IsZero(a *uint256.Int) bool { return a == nil || a.IsZero() }

// Add returns a + b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(Copy(a), Copy(b))
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Sub returns a - b or ErrUnderflow.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(Copy(a), Copy(b))
	if underflow {
		return nil, ErrUnderflow
	}
	return out, nil
}

// Mul returns a * b or ErrOverflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(Copy(a), Copy(b))
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	x, y := Copy(a), Copy(b)
	if x.Lt(y) {
		return x
	}
	return y
}

// MulDivFloor returns floor(a * b / d) using a 512-bit intermediate product.
func MulDivFloor(a, b, d *uint256.Int) (*uint256.Int, error) {
	if IsZero(d) {
		return nil, ErrDivisionByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(Copy(a), Copy(b), d)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// MulDivCeil returns ceil(a * b / d) using a 512-bit intermediate product.
func MulDivCeil(a, b, d *uint256.Int) (*uint256.Int, error) {
	out, err := MulDivFloor(a, b, d)
	if err != nil {
		return nil, err
	}
	rem := new(uint256.Int).MulMod(Copy(a), Copy(b), d)
	if rem.IsZero() {
		return out, nil
	}
	return Add(out, uint256.NewInt(1))
}

// ParseAmount parses a base-10 amount string.
func ParseAmount(s string) (*uint256.Int, error) {
	out, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, ErrInvalidDecimal
	}
	return out, nil
}

// FormatAmount renders a base-10 amount, treating nil as zero.
func FormatAmount(a *uint256.Int) string {
	return Copy(a).Dec()
}
