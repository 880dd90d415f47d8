package utils

import (
	"strings"

	"github.com/google/uuid"
)

const referralCodeLen = 8

func GenerateUUID() string {
	return uuid.New().String()
}

// GenerateReferralCode returns a short upper-case code taken from a random
// UUID. Callers retry on a unique-index collision.
func GenerateReferralCode() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return strings.ToUpper(raw[:referralCodeLen])
}
