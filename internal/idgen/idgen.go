// Package idgen generates opaque identifiers for escrow records.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Prefixes used across the settlement core.
const (
	PrefixEscrow = "esc_"
	PrefixBank   = "bnk_"
	PrefixWallet = "wal_"
	PrefixEvent  = "evt_"
)

// WithPrefix returns prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Escrow returns a new escrow aggregate ID.
func Escrow() string { return WithPrefix(PrefixEscrow) }

// BankBalance returns a new bank balance row ID.
func BankBalance() string { return WithPrefix(PrefixBank) }

// WalletBalance returns a new wallet balance row ID.
func WalletBalance() string { return WithPrefix(PrefixWallet) }

// Event returns a new domain event ID.
func Event() string { return WithPrefix(PrefixEvent) }
