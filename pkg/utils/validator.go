package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidateCurrency validates a 3-letter ISO 4217 currency code
func ValidateCurrency(code string) error {
	if !currencyRegex.MatchString(strings.ToUpper(code)) {
		return fmt.Errorf("currency must be a 3-letter code: %s", code)
	}
	return nil
}

// ValidateAmount validates an expense amount
func ValidateAmount(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive: %.2f", amount)
	}
	return nil
}

// SanitizeString removes control characters from user-supplied text
func SanitizeString(s string) string {
	sanitized := regexp.MustCompile(`[\x00-\x1f\x7f]`).ReplaceAllString(s, "")
	return strings.TrimSpace(sanitized)
}
