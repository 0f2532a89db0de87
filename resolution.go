package pktwire

import (
	"math/big"
	"math/bits"
	"strconv"
)

// Resolution is a timestamp resolution encoded as in the pcapng if_tsresol option.
// If the most significant bit is clear the remaining bits are the negative power of 10
// of the time unit, otherwise they are the negative power of 2.
// The zero value is interpreted as the microsecond default.
type Resolution uint8

const (
	ResolutionMicro Resolution = 6
	ResolutionNano  Resolution = 9
)

// IsBase2 reports whether the unit is a negative power of two.
func (r Resolution) IsBase2() bool { return r&0x80 != 0 }

// Exponent returns the negated exponent of the unit.
func (r Resolution) Exponent() uint8 {
	if r == 0 {
		return uint8(ResolutionMicro)
	}
	return uint8(r & 0x7f)
}

// UnitsPerSecond returns how many timestamp units fit in one second.
// Resolutions finer than 2^-63 or 10^-19 saturate.
func (r Resolution) UnitsPerSecond() uint64 {
	exp := r.Exponent()
	if r.IsBase2() {
		if exp > 63 {
			exp = 63
		}
		return 1 << exp
	}
	if exp > 19 {
		exp = 19
	}
	u := uint64(1)
	for range exp {
		u *= 10
	}
	return u
}

func (r Resolution) String() string {
	if r.IsBase2() {
		return "2^-" + strconv.Itoa(int(r.Exponent())) + "s"
	}
	switch r.Exponent() {
	case 0:
		return "1s"
	case 3:
		return "ms"
	case 6:
		return "µs"
	case 9:
		return "ns"
	}
	return "10^-" + strconv.Itoa(int(r.Exponent())) + "s"
}

// ToNanos converts a count of units to seconds and nanoseconds.
func (r Resolution) ToNanos(units uint64) (sec int64, nsec uint32) {
	per := r.UnitsPerSecond()
	sec = int64(units / per)
	rem := units % per
	return sec, uint32(mulDiv(rem, 1e9, per, false))
}

// FromNanos converts seconds and nanoseconds to a count of units.
// Base-10 resolutions truncate. Base-2 resolutions round up so that
// a value produced by [Resolution.ToNanos] converts back to the same units.
func (r Resolution) FromNanos(sec int64, nsec uint32) uint64 {
	per := r.UnitsPerSecond()
	frac := mulDiv(uint64(nsec), per, 1e9, r.IsBase2())
	return uint64(sec)*per + frac
}

// mulDiv returns a*b/c calculated with a 128 bit intermediate product.
func mulDiv(a, b, c uint64, roundUp bool) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi < c {
		q, rem := bits.Div64(hi, lo, c)
		if roundUp && rem != 0 {
			q++
		}
		return q
	}
	var n, d, m big.Int
	n.Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	d.SetUint64(c)
	n.QuoRem(&n, &d, &m)
	if roundUp && m.Sign() != 0 {
		n.Add(&n, big.NewInt(1))
	}
	return n.Uint64()
}
