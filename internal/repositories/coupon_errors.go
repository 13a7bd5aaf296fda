package repositories

import (
	"errors"
	"fmt"
)

// CouponErrorCode enumerates failure reasons for coupon redemption.
type CouponErrorCode string

const (
	// CouponErrorUnknown represents an unspecified failure.
	CouponErrorUnknown CouponErrorCode = "coupon_unknown"
	// CouponErrorExhausted indicates the usage limit has been reached.
	CouponErrorExhausted CouponErrorCode = "coupon_exhausted"
)

// CouponError wraps redemption failures with machine readable codes.
type CouponError struct {
	Op      string
	Code    CouponErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CouponError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CouponError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCouponError constructs a typed coupon error.
func NewCouponError(code CouponErrorCode, message string, err error) *CouponError {
	if message == "" {
		message = string(code)
	}
	return &CouponError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCouponExhausted reports whether err carries the exhausted code.
func IsCouponExhausted(err error) bool {
	var cerr *CouponError
	return errors.As(err, &cerr) && cerr.Code == CouponErrorExhausted
}
