package mailer

import (
	"fmt"
	"regexp"
	"strings"
)

// addressPattern is deliberately permissive: local part, domain and an
// ASCII TLD. Deliverability is the transport's problem, not ours.
var addressPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// InvalidAddressError reports every syntactically invalid entry found in
// a recipient list, not just the first one.
type InvalidAddressError struct {
	Invalid []string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid email addresses: %s", strings.Join(e.Invalid, ", "))
}

// NormalizeAddressList flattens free-form recipient input into a list of
// trimmed addresses. Entries may themselves be comma-joined strings.
func NormalizeAddressList(addrs ...string) []string {
	var out []string
	for _, entry := range addrs {
		for _, addr := range strings.Split(entry, ",") {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			out = append(out, addr)
		}
	}
	return out
}

// ValidateAddresses checks every entry against the syntactic pattern and
// returns an *InvalidAddressError listing all failures. No DNS or
// mailbox-existence checks are performed.
func ValidateAddresses(addrs []string) error {
	var invalid []string
	for _, addr := range addrs {
		if !addressPattern.MatchString(addr) {
			invalid = append(invalid, addr)
		}
	}
	if len(invalid) > 0 {
		return &InvalidAddressError{Invalid: invalid}
	}
	return nil
}
