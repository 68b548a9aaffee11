package fixed

import (
	"io"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Precision is the number of fractional decimal digits carried by Dec.
const Precision = 18

var (
	unit = uint256.NewInt(1_000_000_000_000_000_000)
	one  = Dec{raw: *uint256.NewInt(1_000_000_000_000_000_000)}
)

// Dec is an unsigned fixed-point number with Precision fractional digits. The
// zero value is 0. Dec values are immutable; every operation returns a new
// value.
type Dec struct {
	raw uint256.Int
}

// One returns 1.0.
func One() Dec { return one }

// NewDec returns the integer v as a Dec.
func NewDec(v uint64) Dec {
	var d Dec
	d.raw.Mul(uint256.NewInt(v), unit)
	return d
}

// NewDecFromRaw interprets raw as an already scaled value.
func NewDecFromRaw(raw *uint256.Int) Dec {
	var d Dec
	if raw != nil {
		d.raw.Set(raw)
	}
	return d
}

// NewDecFromRatio returns floor(num / den).
func NewDecFromRatio(num, den uint64) (Dec, error) {
	return Ratio(uint256.NewInt(num), uint256.NewInt(den))
}

// Ratio returns floor(num / den) for two amounts.
func Ratio(num, den *uint256.Int) (Dec, error) {
	raw, err := MulDivFloor(num, unit, den)
	if err != nil {
		return Dec{}, err
	}
	return NewDecFromRaw(raw), nil
}

// MustDec parses s and panics on malformed input. Only use with constants.
func MustDec(s string) Dec {
	d, err := ParseDec(s)
	if err != nil {
		panic("fixed: invalid decimal constant " + s)
	}
	return d
}

// ParseDec parses a plain decimal string such as "0.8" or "1.25". At most
// Precision fractional digits are accepted.
func ParseDec(s string) (Dec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Dec{}, ErrInvalidDecimal
	}
	intPart, fracPart, hasPoint := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if hasPoint && fracPart == "" {
		return Dec{}, ErrInvalidDecimal
	}
	if len(fracPart) > Precision {
		return Dec{}, ErrInvalidDecimal
	}
	for _, part := range []string{intPart, fracPart} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return Dec{}, ErrInvalidDecimal
			}
		}
	}
	digits := intPart + fracPart + strings.Repeat("0", Precision-len(fracPart))
	raw, err := uint256.FromDecimal(strings.TrimLeft(digits, "0"))
	if err != nil {
		if strings.Trim(digits, "0") == "" {
			return Dec{}, nil
		}
		return Dec{}, ErrInvalidDecimal
	}
	return NewDecFromRaw(raw), nil
}

// Raw returns a copy of the scaled integer backing d.
func (d Dec) Raw() *uint256.Int { return new(uint256.Int).Set(&d.raw) }

// IsZero reports whether d == 0.
func (d Dec) IsZero() bool { return d.raw.IsZero() }

// Cmp compares d and o and returns -1, 0 or +1.
func (d Dec) Cmp(o Dec) int { return d.raw.Cmp(&o.raw) }

// LT reports d < o.
func (d Dec) LT(o Dec) bool { return d.Cmp(o) < 0 }

// LTE reports d <= o.
func (d Dec) LTE(o Dec) bool { return d.Cmp(o) <= 0 }

// GT reports d > o.
func (d Dec) GT(o Dec) bool { return d.Cmp(o) > 0 }

// Add returns d + o.
func (d Dec) Add(o Dec) (Dec, error) {
	raw, err := Add(&d.raw, &o.raw)
	if err != nil {
		return Dec{}, err
	}
	return NewDecFromRaw(raw), nil
}

// Sub returns d - o or ErrUnderflow.
func (d Dec) Sub(o Dec) (Dec, error) {
	raw, err := Sub(&d.raw, &o.raw)
	if err != nil {
		return Dec{}, err
	}
	return NewDecFromRaw(raw), nil
}

// SubFloorZero returns max(d - o, 0).
func (d Dec) SubFloorZero(o Dec) Dec {
	if d.LTE(o) {
		return Dec{}
	}
	out, _ := d.Sub(o)
	return out
}

// Mul returns floor(d * o).
func (d Dec) Mul(o Dec) (Dec, error) {
	raw, err := MulDivFloor(&d.raw, &o.raw, unit)
	if err != nil {
		return Dec{}, err
	}
	return NewDecFromRaw(raw), nil
}

// MulCeil returns ceil(d * o).
func (d Dec) MulCeil(o Dec) (Dec, error) {
	raw, err := MulDivCeil(&d.raw, &o.raw, unit)
	if err != nil {
		return Dec{}, err
	}
	return NewDecFromRaw(raw), nil
}

// MulUint64 returns d * n exactly.
func (d Dec) MulUint64(n uint64) (Dec, error) {
	raw, err := Mul(&d.raw, uint256.NewInt(n))
	if err != nil {
		return Dec{}, err
	}
	return NewDecFromRaw(raw), nil
}

// Quo returns floor(d / o).
func (d Dec) Quo(o Dec) (Dec, error) {
	raw, err := MulDivFloor(&d.raw, unit, &o.raw)
	if err != nil {
		return Dec{}, err
	}
	return NewDecFromRaw(raw), nil
}

// QuoCeil returns ceil(d / o).
func (d Dec) QuoCeil(o Dec) (Dec, error) {
	raw, err := MulDivCeil(&d.raw, unit, &o.raw)
	if err != nil {
		return Dec{}, err
	}
	return NewDecFromRaw(raw), nil
}

// QuoUint64 returns floor(d / n).
func (d Dec) QuoUint64(n uint64) (Dec, error) {
	if n == 0 {
		return Dec{}, ErrDivisionByZero
	}
	return NewDecFromRaw(new(uint256.Int).Div(&d.raw, uint256.NewInt(n))), nil
}

// MulFloor returns floor(amount * d).
func MulFloor(amount *uint256.Int, d Dec) (*uint256.Int, error) {
	return MulDivFloor(amount, &d.raw, unit)
}

// MulCeil returns ceil(amount * d).
func MulCeil(amount *uint256.Int, d Dec) (*uint256.Int, error) {
	return MulDivCeil(amount, &d.raw, unit)
}

// DivFloor returns floor(amount / d).
func DivFloor(amount *uint256.Int, d Dec) (*uint256.Int, error) {
	return MulDivFloor(amount, unit, &d.raw)
}

// DivCeil returns ceil(amount / d).
func DivCeil(amount *uint256.Int, d Dec) (*uint256.Int, error) {
	return MulDivCeil(amount, unit, &d.raw)
}

// String renders d without trailing fractional zeros, e.g. "0.8" or "2".
func (d Dec) String() string {
	digits := d.raw.Dec()
	if len(digits) <= Precision {
		digits = strings.Repeat("0", Precision-len(digits)+1) + digits
	}
	cut := len(digits) - Precision
	intPart, fracPart := digits[:cut], strings.TrimRight(digits[cut:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// MarshalText implements encoding.TextMarshaler.
func (d Dec) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Dec) UnmarshalText(text []byte) error {
	parsed, err := ParseDec(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// EncodeRLP stores the scaled integer.
func (d Dec) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, d.raw.ToBig())
}

// DecodeRLP restores a value written by EncodeRLP.
func (d *Dec) DecodeRLP(s *rlp.Stream) error {
	value, err := s.BigInt()
	if err != nil {
		return err
	}
	raw, overflow := uint256.FromBig(value)
	if overflow {
		return ErrOverflow
	}
	d.raw.Set(raw)
	return nil
}

// Float64 approximates d for reporting. Never use the result in accounting.
func (d Dec) Float64() float64 {
	f, err := strconv.ParseFloat(d.String(), 64)
	if err != nil {
		return 0
	}
	return f
}
