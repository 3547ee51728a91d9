package driver

import (
	"strings"

	"github.com/chatbridge/wa-gateway/internal/gwerr"
)

// DirectSuffix is the address domain for direct (non-group) messages.
const DirectSuffix = "@s.whatsapp.net"

// shortNumberThreshold is the maximum length of a local number that gets the
// default country code prepended.
const shortNumberThreshold = 10

// NormalizeTarget turns a raw destination string into a full protocol
// address. Inputs already containing "@" pass through verbatim. Bare numbers
// without an international "+" prefix and at most 10 digits get the default
// country code prepended. The direct-message domain suffix is appended to
// every bare number. Pure function; the only failure is an empty input.
func NormalizeTarget(raw, defaultCountryCode string) (string, error) {
	if raw == "" {
		return "", gwerr.New(gwerr.KindInvalidTarget, "empty target address")
	}
	if strings.Contains(raw, "@") {
		return raw, nil
	}

	number := raw
	if !strings.HasPrefix(number, "+") && len(number) <= shortNumberThreshold {
		number = defaultCountryCode + number
	}
	return number + DirectSuffix, nil
}
