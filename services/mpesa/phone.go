package mpesa

import (
	"errors"
	"regexp"
	"strings"
)

const countryCode = "254"

// canonicalPhone is 254 followed by a Safaricom subscriber number (7xx or 1xx).
var canonicalPhone = regexp.MustCompile(`^254[17]\d{8}$`)

var ErrInvalidPhone = errors.New("invalid phone number: expected a Kenyan mobile number like 0712345678 or 254712345678")

// NormalizePhone converts user input into the canonical 2547XXXXXXXX / 2541XXXXXXXX form.
func NormalizePhone(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	switch {
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		digits = countryCode + digits[1:]
	case len(digits) == 9 && (digits[0] == '7' || digits[0] == '1'):
		digits = countryCode + digits
	}

	if !canonicalPhone.MatchString(digits) {
		return "", ErrInvalidPhone
	}
	return digits, nil
}
