package app

import (
	"fmt"
	"regexp"
	"strings"
)

const explorerAddressURL = "https://app.hyperliquid.xyz/explorer/address/"

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// shortID truncates long IDs for readable logging.
func shortID(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "…" + s[len(s)-6:]
}

// normalizeAddress lower-cases and validates an EVM address.
func normalizeAddress(s string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(s))
	if !addressPattern.MatchString(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return addr, nil
}

func addressURL(addr string) string {
	return explorerAddressURL + addr
}

// positionKey identifies one (address, coin) pair in the tracked set.
type positionKey struct {
	address string
	coin    string
}

func keyOf(p EvaluatedPosition) positionKey {
	return positionKey{address: p.Address, coin: p.Coin}
}
