package utils

import (
	"os"
	"strings"

	"github.com/ttacon/libphonenumber"
)

func defaultPhoneRegion() string {
	region := strings.TrimSpace(os.Getenv("PHONE_REGION"))
	if region == "" {
		return "MM"
	}
	return region
}

// NormalizePhone formats a customer phone/mobile to E.164 so the same customer
// entered on two tills does not diverge on formatting alone. Unparseable input
// is kept as typed; the server treats phone as free text.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := libphonenumber.Parse(raw, defaultPhoneRegion())
	if err != nil {
		return raw
	}
	if !libphonenumber.IsValidNumber(num) {
		return raw
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}
