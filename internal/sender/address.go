package sender

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/badoux/checkmail"

	"github.com/unclebandit/broadcast-dispatcher/internal/model"
)

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
	groupPattern = regexp.MustCompile(`^[0-9-]{8,40}@g\.us$`)
)

// ValidateAddress checks that address can be delivered on channel.
// A failing address is skipped by the dispatcher rather than sent.
func ValidateAddress(channel, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("empty address")
	}

	switch channel {
	case model.ChannelEmail:
		if err := checkmail.ValidateFormat(address); err != nil {
			return fmt.Errorf("invalid email address %q: %w", address, err)
		}
	case model.ChannelWhatsApp:
		if groupPattern.MatchString(address) {
			return nil
		}
		if !phonePattern.MatchString(normalizePhone(address)) {
			return fmt.Errorf("invalid whatsapp number %q", address)
		}
	default:
		if !phonePattern.MatchString(normalizePhone(address)) {
			return fmt.Errorf("invalid phone number %q", address)
		}
	}
	return nil
}

func normalizePhone(s string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(s)
}
