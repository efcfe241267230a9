package fixnet

import (
	"errors"
	"fmt"
)

// Validator accumulates errors found while validating frames so that
// a single pass over a header can report every inconsistency.
// The zero value is ready to use and only keeps the first error.
type Validator struct {
	accum       []error
	accumBitpos []BitPosErr
	allowMulti  bool
}

// NewValidator returns a Validator. If multi is true every error is kept,
// otherwise only the first error is recorded.
func NewValidator(multi bool) *Validator {
	return &Validator{allowMulti: multi}
}

func (v *Validator) ResetErr() {
	v.accum = v.accum[:0]
	v.accumBitpos = v.accumBitpos[:0]
}

func (v *Validator) HasError() bool {
	return len(v.accum) != 0
}

// Err returns the accumulated errors joined together, or nil.
func (v *Validator) Err() error {
	if len(v.accum) == 1 {
		return v.accum[0]
	} else if len(v.accum) == 0 {
		return nil
	}
	return errors.Join(v.accum...)
}

// ErrPop returns the accumulated error and resets the validator.
func (v *Validator) ErrPop() error {
	err := v.Err()
	if len(v.accum) > 1 {
		// errors.Join keeps a reference to the slice elements.
		v.accum = nil
		v.accumBitpos = nil
	}
	v.ResetErr()
	return err
}

func (v *Validator) AddError(err error) {
	if err == nil {
		panic("error argument to AddError cannot be nil")
	} else if len(v.accum) != 0 && !v.allowMulti {
		return
	}
	v.accum = append(v.accum, err)
}

func (v *Validator) AddBitPosErr(bitStart, bitLen int, err error) {
	if err == nil {
		panic("err argument to bitPosErr cannot be nil")
	} else if bitLen <= 0 {
		panic("bitLen must be positive")
	} else if len(v.accum) != 0 && !v.allowMulti {
		return
	}
	v.accumBitpos = append(v.accumBitpos, BitPosErr{BitStart: bitStart, BitLen: bitLen, Err: err})
	v.accum = append(v.accum, &v.accumBitpos[len(v.accumBitpos)-1])
}

// BitPosErr is an error located at a bit range within a header.
type BitPosErr struct {
	BitStart int
	BitLen   int
	Err      error
}

func (bpe *BitPosErr) Error() string {
	return fmt.Sprintf("%s at bits %d..%d", bpe.Err.Error(), bpe.BitStart, bpe.BitStart+bpe.BitLen)
}

func (bpe *BitPosErr) Unwrap() error { return bpe.Err }
