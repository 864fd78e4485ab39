package models

import "strings"

// AddressPrefix is the canonical prefix of account identifiers.
const AddressPrefix = "0x"

// NormalizeAddress returns the canonical lowercase, 0x-prefixed form of an
// account identifier. Empty input stays empty.
func NormalizeAddress(address string) string {
	clean := strings.ToLower(strings.TrimSpace(address))
	if clean == "" {
		return ""
	}
	if strings.HasPrefix(clean, AddressPrefix) {
		return clean
	}
	return AddressPrefix + clean
}

// SameAddress compares two identifiers case-insensitively.
func SameAddress(a, b string) bool {
	na, nb := NormalizeAddress(a), NormalizeAddress(b)
	return na != "" && na == nb
}

// ShortAddress abbreviates an address for display, e.g. 0xa091...f0f2.
func ShortAddress(address string) string {
	const head, tail = 6, 4
	if len(address) <= head+tail+3 {
		return address
	}
	return address[:head] + "..." + address[len(address)-tail:]
}

// NormalizeAddresses canonicalizes a list, dropping blanks and duplicates
// while keeping first-seen order.
func NormalizeAddresses(addresses []string) []string {
	if len(addresses) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, address := range addresses {
		normalized := NormalizeAddress(address)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
