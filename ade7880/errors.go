package ade7880

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRegisterWidth is returned for an address outside the register map.
	ErrInvalidRegisterWidth = errors.New("ade7880: invalid register width")
	// ErrVerificationMismatch is returned when LAST_OP or LAST_ADD disagree
	// with the transaction that was just issued.
	ErrVerificationMismatch = errors.New("ade7880: last operation mismatch")
	// ErrCalibrationCheckFailed is returned by initialization when any
	// calibration register did not read back as written.
	ErrCalibrationCheckFailed = errors.New("ade7880: calibration check failed")
)

// VerifyError describes a failed last-operation check.
type VerifyError struct {
	Reg   Register // register the checked transaction targeted
	Field Register // LAST_OP or LAST_ADD
	Want  uint32
	Got   uint32
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("ade7880: verify %s: %s is 0x%X, want 0x%X", e.Reg, e.Field, e.Got, e.Want)
}

func (e *VerifyError) Unwrap() error { return ErrVerificationMismatch }
