package payments

import "strings"

const countryPrefix = "254"

// NormalizePhone reduces a customer-entered number to the 12-digit 2547XXXXXXXX
// form the charge gateway expects. Separators and a leading + are ignored; a
// leading 0 or a bare 9-digit 7XXXXXXXX number gets the country prefix.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "0"):
		digits = countryPrefix + digits[1:]
	case len(digits) == 9 && digits[0] == '7':
		digits = countryPrefix + digits
	}

	if len(digits) != 12 || !strings.HasPrefix(digits, countryPrefix) {
		return "", &ValidationError{Reason: "phone number must look like 0712345678 or 254712345678", Err: ErrInvalidPhone}
	}
	return digits, nil
}
