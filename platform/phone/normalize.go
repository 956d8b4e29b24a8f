// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when callers do not configure one.
const DefaultRegion = "IN"

// NormalizeE164 formats a phone number to E.164 using DefaultRegion. If
// parsing fails, it returns the trimmed input.
func NormalizeE164(input string) string {
	return NormalizeE164Region(input, DefaultRegion)
}

// NormalizeE164Region formats a phone number to E.164, reading numbers
// without a country prefix as belonging to region.
func NormalizeE164Region(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}
	if region == "" {
		region = DefaultRegion
	}

	number, err := phonenumbers.Parse(trimmed, strings.ToUpper(region))
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// IsValid reports whether input parses to a valid number for region.
func IsValid(input, region string) bool {
	if region == "" {
		region = DefaultRegion
	}
	number, err := phonenumbers.Parse(strings.TrimSpace(input), strings.ToUpper(region))
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(number)
}

// GatewayDigits returns the E.164 form without the leading plus, which is
// what the messaging gateway and its webhooks use.
func GatewayDigits(input, region string) string {
	return strings.TrimPrefix(NormalizeE164Region(input, region), "+")
}

// FromGateway turns gateway digits (country code included, no plus) back
// into E.164.
func FromGateway(digits string) string {
	trimmed := strings.TrimSpace(digits)
	if trimmed == "" || strings.HasPrefix(trimmed, "+") {
		return NormalizeE164Region(trimmed, DefaultRegion)
	}
	return NormalizeE164Region("+"+trimmed, DefaultRegion)
}
