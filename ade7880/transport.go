package ade7880

import (
	"fmt"

	"periph.io/x/conn/v3"
)

// transport frames register accesses on a byte oriented connection. Every
// method is a complete exchange; nothing is kept between calls except the
// scratch buffers.
type transport struct {
	c conn.Conn

	w [6]byte
	r [4]byte
}

func (t *transport) write(reg Register, val uint32) error {
	size := reg.Width()
	if size == 0 || size > 4 {
		return fmt.Errorf("%w: %s", ErrInvalidRegisterWidth, reg)
	}
	t.w[0] = byte(reg >> 8)
	t.w[1] = byte(reg)
	for i := 0; i < size; i++ {
		t.w[2+i] = byte(val >> (8 * (size - 1 - i)))
	}
	if err := t.c.Tx(t.w[:2+size], nil); err != nil {
		return fmt.Errorf("ade7880: write %s: %w", reg, err)
	}
	return nil
}

func (t *transport) read(reg Register) (uint32, error) {
	size := reg.Width()
	if size == 0 || size > 4 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidRegisterWidth, reg)
	}
	t.w[0] = byte(reg >> 8)
	t.w[1] = byte(reg)
	if err := t.c.Tx(t.w[:2], nil); err != nil {
		return 0, fmt.Errorf("ade7880: address %s: %w", reg, err)
	}
	if err := t.c.Tx(nil, t.r[:size]); err != nil {
		return 0, fmt.Errorf("ade7880: read %s: %w", reg, err)
	}
	var v uint32
	for _, b := range t.r[:size] {
		v = v<<8 | uint32(b)
	}
	return v, nil
}

// verifyLast checks that the chip recorded op against reg as its last
// successful operation.
func (t *transport) verifyLast(op uint8, reg Register) error {
	got, err := t.read(LAST_OP)
	if err != nil {
		return err
	}
	if got != uint32(op) {
		return &VerifyError{Reg: reg, Field: LAST_OP, Want: uint32(op), Got: got}
	}
	got, err = t.read(LAST_ADD)
	if err != nil {
		return err
	}
	if got != uint32(reg) {
		return &VerifyError{Reg: reg, Field: LAST_ADD, Want: uint32(reg), Got: got}
	}
	return nil
}

func (t *transport) writeVerify(reg Register, val uint32) error {
	if err := t.write(reg, val); err != nil {
		return err
	}
	return t.verifyLast(opWrite, reg)
}

func (t *transport) readVerify(reg Register) (uint32, error) {
	v, err := t.read(reg)
	if err != nil {
		return 0, err
	}
	if err := t.verifyLast(opRead, reg); err != nil {
		return 0, err
	}
	return v, nil
}

// readCheck reports whether reg reads back as expected. With a non-zero mask
// only the masked bits are compared. A failed read counts as a mismatch.
func (t *transport) readCheck(reg Register, expected, mask uint32) bool {
	v, err := t.readVerify(reg)
	if err != nil {
		return false
	}
	if mask != 0 {
		return v&mask == expected&mask
	}
	return v == expected
}

// signExtend interprets the low width bytes of v as a two's complement value.
func signExtend(v uint32, width int) int32 {
	shift := uint(32 - 8*width)
	return int32(v<<shift) >> shift
}
