// Package email derives presentation values from addresses.
package email

import (
	"strings"
	"unicode"
)

// DisplayName turns the local part of an address into a capitalized name,
// "jane.doe+grc@corp.com" becoming "Jane Doe". Tags after '+' are dropped.
// It returns "" when nothing usable remains.
func DisplayName(address string) string {
	local := address
	if at := strings.IndexByte(address, '@'); at >= 0 {
		local = address[:at]
	}
	if plus := strings.IndexByte(local, '+'); plus >= 0 {
		local = local[:plus]
	}

	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	for i, p := range parts {
		parts[i] = capitalize(p)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
