package app

import (
	"errors"
	"testing"
)

func TestShortID_Util(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0x1234567890abcdef1234567890abcdef12345678", "0x1234…345678"},
		{"0x123456789012", "0x123456789012"}, // <= 14 chars
		{"shortstring", "shortstring"},
		{"exactly14chars", "exactly14chars"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := shortID(tt.input)
			if result != tt.expected {
				t.Errorf("shortID(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"lower case", "0xabcdef0123456789abcdef0123456789abcdef01", "0xabcdef0123456789abcdef0123456789abcdef01", false},
		{"mixed case", "0xABCDEF0123456789abcdef0123456789ABCDEF01", "0xabcdef0123456789abcdef0123456789abcdef01", false},
		{"surrounding space", "  0xabcdef0123456789abcdef0123456789abcdef01\n", "0xabcdef0123456789abcdef0123456789abcdef01", false},
		{"missing prefix", "abcdef0123456789abcdef0123456789abcdef0101", "", true},
		{"too short", "0xabc", "", true},
		{"non hex", "0xzzcdef0123456789abcdef0123456789abcdef01", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeAddress(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Fatalf("expected ErrInvalidAddress, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("normalizeAddress(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestAddressURL(t *testing.T) {
	addr := testAddr(1)
	want := "https://app.hyperliquid.xyz/explorer/address/" + addr
	if got := addressURL(addr); got != want {
		t.Errorf("addressURL = %q, want %q", got, want)
	}
}
