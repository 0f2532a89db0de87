package pktwire

import (
	"errors"
	"fmt"
)

type ValidateFlags uint64

const (
	validateReserved ValidateFlags = 1 << iota
	// ValidateAllowMultiErrors accumulates every error instead of only the first.
	ValidateAllowMultiErrors
)

func (vf ValidateFlags) has(v ValidateFlags) bool {
	return vf&v == v
}

// Validator accumulates errors found while checking field values
// handed to a layer builder.
type Validator struct {
	accum       []error
	accumBitpos []BitPosErr
	flags       ValidateFlags
}

// NewValidator returns a Validator configured with flags.
func NewValidator(flags ValidateFlags) *Validator {
	return &Validator{flags: flags}
}

func (v *Validator) Flags() ValidateFlags {
	return v.flags
}

func (v *Validator) ResetErr() {
	v.accum = v.accum[:0]
	v.accumBitpos = v.accumBitpos[:0]
}

func (v *Validator) HasError() bool {
	if v.flags.has(validateReserved) {
		panic("reserved bit set")
	}
	return len(v.accum) != 0
}

func (v *Validator) Err() error {
	if len(v.accum) == 1 {
		return v.accum[0]
	} else if len(v.accum) == 0 {
		return nil
	}
	return errors.Join(v.accum...)
}

func (v *Validator) AddError(err error) {
	if err == nil {
		panic("error argument to AddError cannot be nil")
	} else if len(v.accum) != 0 && !v.flags.has(ValidateAllowMultiErrors) {
		return
	}
	v.accum = append(v.accum, err)
}

// AddFieldErr records an error for the named field of a protocol header.
func (v *Validator) AddFieldErr(proto, field string, err error) {
	v.AddError(&FieldErr{Proto: proto, Field: field, Err: err})
}

func (v *Validator) AddBitPosErr(bitStart, bitLen int, err error) {
	if err == nil {
		panic("err argument to bitPosErr cannot be nil")
	} else if bitLen <= 0 {
		panic("bitLen must be positive")
	} else if len(v.accum) != 0 && !v.flags.has(ValidateAllowMultiErrors) {
		return
	}
	v.accumBitpos = append(v.accumBitpos, BitPosErr{BitStart: bitStart, BitLen: bitLen, Err: err})
	v.accum = append(v.accum, &v.accumBitpos[len(v.accumBitpos)-1])
}

type BitPosErr struct {
	BitStart int
	BitLen   int
	Err      error
}

func (bpe *BitPosErr) Error() string {
	return fmt.Sprintf("%s at bits %d..%d", bpe.Err.Error(), bpe.BitStart, bpe.BitStart+bpe.BitLen)
}

func (bpe *BitPosErr) Unwrap() error { return bpe.Err }

// FieldErr is an invalid value for a named header field.
type FieldErr struct {
	Proto string
	Field string
	Err   error
}

func (fe *FieldErr) Error() string {
	return fe.Proto + ": field " + fe.Field + ": " + fe.Err.Error()
}

func (fe *FieldErr) Unwrap() error { return fe.Err }
