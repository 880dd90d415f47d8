package referral

import (
	"errors"
	"fmt"
)

// Registration-time errors. Nothing is written when one is returned.
var (
	ErrInvalidReferralCode = errors.New("invalid referral code")
	ErrSelfReferral        = errors.New("self referral not allowed")
	ErrCyclicReferral      = errors.New("cyclic referral detected")
	ErrAlreadyPlaced       = errors.New("user already placed")
)

var ErrNotFound = errors.New("not found")

// IntegrityError reports a broken store invariant. It is never retried.
type IntegrityError struct {
	UserID string
	Level  int
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation for user %s level %d: %s", e.UserID, e.Level, e.Reason)
}

func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
