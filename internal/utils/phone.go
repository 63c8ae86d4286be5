package utils

import (
	"errors"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// MinSignificantDigits is the shortest subscriber number accepted for a send
const MinSignificantDigits = 10

// ErrInvalidPhone is returned when a phone number cannot be normalized
var ErrInvalidPhone = errors.New("invalid phone number")

// PhoneComponents represents a normalized phone number. Full is the
// country-code-prefixed digit string sent to the OTP service.
type PhoneComponents struct {
	CountryCode string `json:"country_code"`
	National    string `json:"national"`
	Full        string `json:"full"`
	Display     string `json:"display"`
}

// OnlyDigits strips every non-digit rune from s
func OnlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhoneNumber turns user input into a country-code-prefixed digit
// string. Input starting with "+" or "00" carries its own country code;
// anything else is a national number under defaultCountryCode, kept as typed
// (leading zeros are part of the subscriber number), unless it already starts
// with the country code and still leaves a full subscriber number.
func NormalizePhoneNumber(input, defaultCountryCode string) (*PhoneComponents, error) {
	trimmed := strings.TrimSpace(input)
	digits := OnlyDigits(trimmed)

	var countryCode, national string
	switch {
	case strings.HasPrefix(trimmed, "+"), strings.HasPrefix(trimmed, "00"):
		if !strings.HasPrefix(trimmed, "+") {
			digits = digits[2:]
		}
		num, err := phonenumbers.Parse("+"+digits, "")
		if err != nil {
			return nil, ErrInvalidPhone
		}
		countryCode = strconv.Itoa(int(num.GetCountryCode()))
		if !strings.HasPrefix(digits, countryCode) {
			return nil, ErrInvalidPhone
		}
		national = digits[len(countryCode):]
	default:
		countryCode = OnlyDigits(defaultCountryCode)
		national = digits
		// Already normalized digits, such as a Full value echoed back
		if countryCode != "" && strings.HasPrefix(digits, countryCode) &&
			len(digits)-len(countryCode) >= MinSignificantDigits {
			national = digits[len(countryCode):]
		}
	}

	if len(national) < MinSignificantDigits {
		return nil, ErrInvalidPhone
	}

	full := countryCode + national
	return &PhoneComponents{
		CountryCode: countryCode,
		National:    national,
		Full:        full,
		Display:     FormatPhoneForDisplay(full),
	}, nil
}

// FormatPhoneForDisplay renders a normalized digit string for humans. Numbers
// libphonenumber does not recognize are grouped by hand.
func FormatPhoneForDisplay(full string) string {
	if full == "" {
		return ""
	}
	if num, err := phonenumbers.Parse("+"+full, ""); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
	}

	cc := ""
	if num, err := phonenumbers.Parse("+"+full, ""); err == nil {
		cc = strconv.Itoa(int(num.GetCountryCode()))
	}
	if cc == "" || !strings.HasPrefix(full, cc) {
		return "+" + full
	}

	national := full[len(cc):]
	groups := make([]string, 0, len(national)/2+1)
	for len(national) > 2 {
		groups = append(groups, national[:2])
		national = national[2:]
	}
	groups = append(groups, national)
	return "+" + cc + " " + strings.Join(groups, " ")
}
