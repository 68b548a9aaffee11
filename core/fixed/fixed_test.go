package fixed

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

func TestParseAndString(t *testing.T) {
	cases := map[string]string{
		"0":         "0",
		"0.8":       "0.8",
		".5":        "0.5",
		"1.25":      "1.25",
		"2":         "2",
		"100.000":   "100",
		"0.000000000000000001": "0.000000000000000001",
	}
	for in, want := range cases {
		d, err := ParseDec(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got := d.String(); got != want {
			t.Fatalf("parse %q: got %s want %s", in, got, want)
		}
	}
	for _, bad := range []string{"", "1.", "-1", "1e5", "0.0000000000000000001", "abc"} {
		if _, err := ParseDec(bad); !errors.Is(err, ErrInvalidDecimal) {
			t.Fatalf("parse %q: expected ErrInvalidDecimal, got %v", bad, err)
		}
	}
}

func TestRoundingDirections(t *testing.T) {
	ratio := MustDec("0.8")
	floor, err := MulFloor(uint256.NewInt(25), ratio)
	if err != nil || floor.Uint64() != 20 {
		t.Fatalf("floor(25*0.8) = %v, %v", floor, err)
	}

	third, err := NewDecFromRatio(1, 3)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	down, _ := MulFloor(uint256.NewInt(10), third)
	up, _ := MulCeil(uint256.NewInt(10), third)
	if down.Uint64() != 3 || up.Uint64() != 4 {
		t.Fatalf("10/3 rounding: floor=%s ceil=%s", down, up)
	}

	oneAndHalf := MustDec("1.5")
	divDown, _ := DivFloor(uint256.NewInt(61), oneAndHalf)
	divUp, _ := DivCeil(uint256.NewInt(61), oneAndHalf)
	if divDown.Uint64() != 40 || divUp.Uint64() != 41 {
		t.Fatalf("61/1.5 rounding: floor=%s ceil=%s", divDown, divUp)
	}
	exact, _ := DivCeil(uint256.NewInt(60), oneAndHalf)
	if exact.Uint64() != 40 {
		t.Fatalf("ceil of exact division should not round: %s", exact)
	}
}

func TestCheckedArithmetic(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	if _, err := Add(max, uint256.NewInt(1)); !errors.Is(err, ErrOverflow) || !errors.Is(err, ErrArithmetic) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := Sub(uint256.NewInt(1), uint256.NewInt(2)); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if _, err := MulDivFloor(uint256.NewInt(1), uint256.NewInt(1), Zero()); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
	if _, err := DivFloor(uint256.NewInt(1), Dec{}); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
	if _, err := Mul(max, uint256.NewInt(2)); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	// The intermediate product exceeds 256 bits but the quotient fits.
	out, err := MulDivFloor(max, uint256.NewInt(4), uint256.NewInt(8))
	if err != nil {
		t.Fatalf("wide muldiv: %v", err)
	}
	if want := new(uint256.Int).Rsh(max, 1); !out.Eq(want) {
		t.Fatalf("wide muldiv: got %s want %s", out, want)
	}
}

func TestDecOps(t *testing.T) {
	a := MustDec("1.5")
	b := MustDec("0.25")
	sum, _ := a.Add(b)
	diff, _ := a.Sub(b)
	prod, _ := a.Mul(b)
	quo, _ := a.Quo(b)
	if sum.String() != "1.75" || diff.String() != "1.25" || prod.String() != "0.375" || quo.String() != "6" {
		t.Fatalf("unexpected results sum=%s diff=%s prod=%s quo=%s", sum, diff, prod, quo)
	}
	if _, err := b.Sub(a); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected underflow, got %v", err)
	}
	if !b.SubFloorZero(a).IsZero() {
		t.Fatalf("SubFloorZero should clamp at zero")
	}
	if !b.LT(a) || !a.GT(b) || !a.LTE(a) {
		t.Fatalf("comparison helpers disagree")
	}
	ten, _ := b.MulUint64(40)
	if ten.Cmp(NewDec(10)) != 0 {
		t.Fatalf("0.25*40 = %s", ten)
	}
	third, _ := One().QuoUint64(3)
	ceil, _ := One().QuoCeil(NewDec(3))
	if third.GT(ceil) || third.Cmp(ceil) == 0 {
		t.Fatalf("floor and ceil of 1/3 should differ: %s %s", third, ceil)
	}
}

func TestDecEncoding(t *testing.T) {
	original := MustDec("12.345")
	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("marshal text: %v", err)
	}
	var fromText Dec
	if err := fromText.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal text: %v", err)
	}
	if fromText.Cmp(original) != 0 {
		t.Fatalf("text round trip: %s", fromText)
	}

	type wrapper struct {
		Rate   Dec
		Height uint64
	}
	var buf bytes.Buffer
	if err := rlp.Encode(&buf, wrapper{Rate: original, Height: 9}); err != nil {
		t.Fatalf("rlp encode: %v", err)
	}
	var decoded wrapper
	if err := rlp.DecodeBytes(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("rlp decode: %v", err)
	}
	if decoded.Rate.Cmp(original) != 0 || decoded.Height != 9 {
		t.Fatalf("rlp round trip: %+v", decoded)
	}
}
